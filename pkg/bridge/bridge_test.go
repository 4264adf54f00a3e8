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

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_WeakTypes(t *testing.T) {
	raw := map[string]any{
		"success":    "true",
		"confidence": "0.95",
		"liveness":   1,
		"templateId": "t1",
	}
	var resp AuthResponse
	require.NoError(t, Decode(raw, &resp))
	assert.True(t, resp.Success)
	assert.InDelta(t, 0.95, resp.Confidence, 1e-9)
	assert.True(t, resp.Liveness)
	assert.Equal(t, "t1", resp.TemplateID)
}

func TestDecode_Malformed(t *testing.T) {
	var resp EnrollResponse
	err := Decode(map[string]any{"samples": "not-a-list"}, &resp)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSimulator_Support(t *testing.T) {
	sim := NewSimulator(WithSupported("iris"), WithSecureHardware(false))
	ctx := context.Background()

	resp, err := Invoke[SupportResponse](ctx, sim, MethodIsSupported, map[string]any{"modality": "iris"})
	require.NoError(t, err)
	assert.True(t, resp.Available)

	resp, err = Invoke[SupportResponse](ctx, sim, MethodIsSupported, map[string]any{"modality": "face"})
	require.NoError(t, err)
	assert.False(t, resp.Available)

	hw, err := Invoke[SupportResponse](ctx, sim, MethodSecureHardware, nil)
	require.NoError(t, err)
	assert.False(t, hw.Available)
}

func TestSimulator_EnrollQueue(t *testing.T) {
	sim := NewSimulator()
	sim.QueueEnroll(EnrollScript{Samples: []float64{0.5, 0.4, 0.3}})
	ctx := context.Background()
	args := map[string]any{"modality": "fingerprint"}

	first, err := Invoke[EnrollResponse](ctx, sim, MethodEnroll, args)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.4, 0.3}, first.Samples)
	assert.NotEmpty(t, first.TemplateID)

	second, err := Invoke[EnrollResponse](ctx, sim, MethodEnroll, args)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.92, 0.9, 0.94}, second.Samples)
	assert.Equal(t, 2, sim.Calls(MethodEnroll))
}

func TestSimulator_DefaultEnroll(t *testing.T) {
	sim := NewSimulator(WithDefaultEnroll(EnrollScript{Samples: []float64{0.2}}))
	resp, err := Invoke[EnrollResponse](context.Background(), sim, MethodEnroll, map[string]any{"modality": "face"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2}, resp.Samples)
}

func TestSimulator_AuthDelayCancelled(t *testing.T) {
	sim := NewSimulator(WithDefaultAuth(AuthScript{Success: true, Delay: time.Minute}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := sim.Call(ctx, MethodAuthenticate, map[string]any{"modality": "face"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_AuthScriptedError(t *testing.T) {
	sim := NewSimulator()
	sim.QueueAuth(AuthScript{Err: ErrUserCancelled})
	_, err := sim.Call(context.Background(), MethodAuthenticate, nil)
	assert.True(t, errors.Is(err, ErrUserCancelled))
}

func TestSimulator_SecureStorage(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	_, err := sim.Call(ctx, MethodSecureStorageSet, map[string]any{"key": "k", "value": "dg==", "synchronizable": false})
	require.NoError(t, err)

	got, err := Invoke[SecureValueResponse](ctx, sim, MethodSecureStorageGet, map[string]any{"key": "k"})
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "dg==", got.Value)

	_, err = sim.Call(ctx, MethodSecureStorageSet, map[string]any{"key": "k", "value": "x", "synchronizable": true})
	assert.Error(t, err)

	_, err = sim.Call(ctx, MethodSecureStorageRemove, map[string]any{"key": "k"})
	require.NoError(t, err)
	got, err = Invoke[SecureValueResponse](ctx, sim, MethodSecureStorageGet, map[string]any{"key": "k"})
	require.NoError(t, err)
	assert.False(t, got.Found)
}

func TestSimulator_UnknownMethod(t *testing.T) {
	_, err := NewSimulator().Call(context.Background(), "camera.capture", nil)
	assert.ErrorIs(t, err, ErrMethodNotSupported)
}

func TestFunc(t *testing.T) {
	var b Bridge = Func(func(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
		return map[string]any{"ready": true}, nil
	})
	resp, err := Invoke[StatusResponse](context.Background(), b, MethodStatus, nil)
	require.NoError(t, err)
	assert.True(t, resp.Ready)
}
