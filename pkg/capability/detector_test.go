// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biometrics.
//
// go-biometrics is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

func TestDetect_NativeSortedByPriority(t *testing.T) {
	sim := bridge.NewSimulator(bridge.WithSupported("voice", "face", "fingerprint"))
	d := NewDetector(sim, nil)

	caps, err := d.Detect(context.Background(), types.Environment{IsNative: true, PlatformOS: "ios"})
	require.NoError(t, err)

	assert.Equal(t, []types.Modality{types.ModalityFingerprint, types.ModalityFace, types.ModalityVoice}, Modalities(caps))
	assert.Equal(t, "TouchID", caps[0].NativeIdentifier)
	assert.Equal(t, "FaceID", caps[1].NativeIdentifier)
	assert.Equal(t, "ios.voice", caps[2].NativeIdentifier)
	for i := 1; i < len(caps); i++ {
		assert.Less(t, caps[i-1].Priority, caps[i].Priority)
	}
	assert.True(t, d.HardwareSecure())
}

func TestDetect_CachedPerEnvironment(t *testing.T) {
	sim := bridge.NewSimulator()
	d := NewDetector(sim, nil)
	env := types.Environment{IsNative: true, PlatformOS: "android"}
	ctx := context.Background()

	_, err := d.Detect(ctx, env)
	require.NoError(t, err)
	probes := sim.Calls(bridge.MethodIsSupported)

	_, err = d.Detect(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, probes, sim.Calls(bridge.MethodIsSupported), "second detect must hit the cache")

	d.Reset()
	_, err = d.Detect(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, 2*probes, sim.Calls(bridge.MethodIsSupported))
}

func TestDetect_ResultIsCopy(t *testing.T) {
	d := NewDetector(bridge.NewSimulator(), nil)
	env := types.Environment{IsNative: true, PlatformOS: "android"}

	caps, err := d.Detect(context.Background(), env)
	require.NoError(t, err)
	caps[0].Modality = types.ModalityIris

	again, _ := d.Detect(context.Background(), env)
	assert.Equal(t, types.ModalityFingerprint, again[0].Modality)
}

func TestDetect_NativeWithoutBridge(t *testing.T) {
	_, err := NewDetector(nil, nil).Detect(context.Background(), types.Environment{IsNative: true})
	assert.Error(t, err)
}

func TestDetect_NativeProbeFailureSkipsModality(t *testing.T) {
	b := bridge.Func(func(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
		if method == bridge.MethodIsSupported && args["modality"] == "face" {
			return nil, errors.New("sensor busy")
		}
		if method == bridge.MethodSecureHardware {
			return map[string]any{"available": false}, nil
		}
		return map[string]any{"available": true, "identifier": "custom"}, nil
	})
	d := NewDetector(b, nil)

	caps, err := d.Detect(context.Background(), types.Environment{IsNative: true, PlatformOS: "windows"})
	require.NoError(t, err)
	assert.Equal(t, []types.Modality{types.ModalityFingerprint, types.ModalityIris, types.ModalityVoice}, Modalities(caps))
	assert.Equal(t, "custom", caps[0].NativeIdentifier)
	assert.False(t, d.HardwareSecure())
}

func TestDetect_Browser(t *testing.T) {
	tests := []struct {
		name string
		env  types.Environment
		want []types.Modality
	}{
		{
			name: "no platform authenticator",
			env:  types.Environment{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"},
			want: []types.Modality{},
		},
		{
			name: "iphone",
			env:  types.Environment{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", PlatformAuthenticator: true},
			want: []types.Modality{types.ModalityFingerprint, types.ModalityFace},
		},
		{
			name: "mac",
			env:  types.Environment{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", PlatformAuthenticator: true},
			want: []types.Modality{types.ModalityFingerprint},
		},
		{
			name: "windows",
			env:  types.Environment{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", PlatformAuthenticator: true},
			want: []types.Modality{types.ModalityFingerprint, types.ModalityFace},
		},
		{
			name: "unknown",
			env:  types.Environment{UserAgent: "curl/8.0", PlatformAuthenticator: true},
			want: []types.Modality{types.ModalityFingerprint},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(nil, nil)
			caps, err := d.Detect(context.Background(), tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Modalities(caps))
			assert.Equal(t, tt.env.PlatformAuthenticator, d.HardwareSecure())
		})
	}
}

func TestNativeIdentifier(t *testing.T) {
	assert.Equal(t, "BIOMETRIC_IRIS", NativeIdentifier("Android", types.ModalityIris))
	assert.Equal(t, "TouchID", NativeIdentifier("macos", types.ModalityFingerprint))
	assert.Equal(t, "macos.face", NativeIdentifier("macos", types.ModalityFace))
}
