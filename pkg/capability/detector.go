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

// Package capability discovers which biometric modalities the host can use.
//
// Native hosts are probed through the platform bridge. Browser hosts are
// judged from the presence of a user-verifying platform authenticator and
// user-agent heuristics, which are best effort and not authoritative.
// Results are cached per environment for the lifetime of the Detector.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// nativeIdentifiers maps platform OS to the OS name of each modality.
var nativeIdentifiers = map[string]map[types.Modality]string{
	"ios": {
		types.ModalityFingerprint: "TouchID",
		types.ModalityFace:        "FaceID",
	},
	"android": {
		types.ModalityFingerprint: "BIOMETRIC_FINGERPRINT",
		types.ModalityFace:        "BIOMETRIC_FACE",
		types.ModalityIris:        "BIOMETRIC_IRIS",
	},
	"windows": {
		types.ModalityFingerprint: "WindowsHelloFingerprint",
		types.ModalityFace:        "WindowsHelloFace",
		types.ModalityIris:        "WindowsHelloIris",
	},
	"macos": {
		types.ModalityFingerprint: "TouchID",
	},
	"linux": {
		types.ModalityFingerprint: "fprintd",
	},
}

// NativeIdentifier returns the OS-specific name for modality on platformOS.
func NativeIdentifier(platformOS string, m types.Modality) string {
	if ids, ok := nativeIdentifiers[strings.ToLower(platformOS)]; ok {
		if id, ok := ids[m]; ok {
			return id
		}
	}
	return strings.ToLower(platformOS) + "." + m.String()
}

// Result is one cached detection.
type Result struct {
	Capabilities   []types.Capability
	HardwareSecure bool
	DetectedAt     time.Time
}

// Detector enumerates usable modalities.
type Detector struct {
	bridge bridge.Bridge
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Result
	last  *Result
}

// NewDetector creates a Detector. b may be nil for browser-only hosts.
func NewDetector(b bridge.Bridge, logger *slog.Logger) *Detector {
	return &Detector{
		bridge: b,
		logger: logging.OrDiscard(logger).With("component", "capability"),
		cache:  make(map[string]*Result),
	}
}

// Detect returns the usable capabilities for env, sorted ascending by
// priority. Repeated calls with the same environment return the cached
// result.
func (d *Detector) Detect(ctx context.Context, env types.Environment) ([]types.Capability, error) {
	res, err := d.detect(ctx, env)
	if err != nil {
		return nil, err
	}
	return copyCaps(res.Capabilities), nil
}

// HardwareSecure reports whether the most recent detection found a secure
// enclave or TEE.
func (d *Detector) HardwareSecure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last != nil && d.last.HardwareSecure
}

// Reset drops every cached result.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]*Result)
	d.last = nil
}

func (d *Detector) detect(ctx context.Context, env types.Environment) (*Result, error) {
	key := env.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if res, ok := d.cache[key]; ok {
		d.last = res
		return res, nil
	}

	var (
		res *Result
		err error
	)
	if env.IsNative {
		res, err = d.detectNative(ctx, env)
	} else {
		res = detectBrowser(env)
	}
	if err != nil {
		return nil, err
	}
	res.DetectedAt = time.Now().UTC()
	d.cache[key] = res
	d.last = res

	modalities := make([]string, len(res.Capabilities))
	for i, c := range res.Capabilities {
		modalities[i] = c.Modality.String()
	}
	d.logger.Info("capabilities detected",
		slog.Bool("native", env.IsNative),
		slog.String("platform_os", env.PlatformOS),
		slog.Any("modalities", modalities),
		slog.Bool("hardware_secure", res.HardwareSecure))
	return res, nil
}

func (d *Detector) detectNative(ctx context.Context, env types.Environment) (*Result, error) {
	if d.bridge == nil {
		return nil, fmt.Errorf("capability: native environment without a bridge")
	}

	res := &Result{}
	for _, m := range types.AllModalities() {
		resp, err := bridge.Invoke[bridge.SupportResponse](ctx, d.bridge, bridge.MethodIsSupported,
			map[string]any{"modality": m.String()})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A modality the bridge cannot answer for is treated as absent.
			d.logger.Warn("modality probe failed", slog.String("modality", m.String()), slog.Any("error", err))
			continue
		}
		if !resp.Available {
			continue
		}
		id := resp.Identifier
		if id == "" {
			id = NativeIdentifier(env.PlatformOS, m)
		}
		res.Capabilities = append(res.Capabilities, types.Capability{
			Modality:         m,
			NativeIdentifier: id,
			Priority:         m.Priority(),
			IsEnrolled:       resp.Enrolled,
		})
	}

	hw, err := bridge.Invoke[bridge.SupportResponse](ctx, d.bridge, bridge.MethodSecureHardware, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("secure hardware probe failed", slog.Any("error", err))
	} else {
		res.HardwareSecure = hw.Available
	}

	sortCaps(res.Capabilities)
	return res, nil
}

// detectBrowser infers modalities from the user agent. Without a
// user-verifying platform authenticator nothing is usable.
func detectBrowser(env types.Environment) *Result {
	res := &Result{HardwareSecure: env.PlatformAuthenticator}
	if !env.PlatformAuthenticator {
		return res
	}

	ua := strings.ToLower(env.UserAgent)
	var guesses []types.Modality
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		guesses = []types.Modality{types.ModalityFace, types.ModalityFingerprint}
	case strings.Contains(ua, "android"):
		guesses = []types.Modality{types.ModalityFingerprint, types.ModalityFace}
	case strings.Contains(ua, "windows"):
		guesses = []types.Modality{types.ModalityFace, types.ModalityFingerprint}
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		guesses = []types.Modality{types.ModalityFingerprint}
	default:
		guesses = []types.Modality{types.ModalityFingerprint}
	}

	for _, m := range guesses {
		res.Capabilities = append(res.Capabilities, types.Capability{
			Modality:         m,
			NativeIdentifier: "webauthn.platform." + m.String(),
			Priority:         m.Priority(),
		})
	}
	sortCaps(res.Capabilities)
	return res
}

func sortCaps(caps []types.Capability) {
	modalities := make([]types.Modality, len(caps))
	byModality := make(map[types.Modality]types.Capability, len(caps))
	for i, c := range caps {
		modalities[i] = c.Modality
		byModality[c.Modality] = c
	}
	types.SortByPriority(modalities)
	for i, m := range modalities {
		caps[i] = byModality[m]
	}
}

func copyCaps(caps []types.Capability) []types.Capability {
	out := make([]types.Capability, len(caps))
	copy(out, caps)
	return out
}

// Modalities extracts the modality of each capability, preserving order.
func Modalities(caps []types.Capability) []types.Modality {
	out := make([]types.Modality, len(caps))
	for i, c := range caps {
		out[i] = c.Modality
	}
	return out
}
