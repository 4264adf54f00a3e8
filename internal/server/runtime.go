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

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-biometrics/internal/config"
	"github.com/jeremyhahn/go-biometrics/pkg/biometric"
	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/storage"
	"github.com/jeremyhahn/go-biometrics/pkg/storage/file"
	"github.com/jeremyhahn/go-biometrics/pkg/storage/memory"
	"github.com/jeremyhahn/go-biometrics/pkg/storage/sqlite"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// SQLiteFile is the database file created under storage.path.
const SQLiteFile = "biometrics.db"

// ErrNoBridge is returned for a native environment without a bridge. Only
// the simulated bridge can be wired from configuration.
var ErrNoBridge = errors.New("native environment requires bridge.simulate")

// Runtime is a biometric service assembled from configuration together
// with the resources it owns.
type Runtime struct {
	Service *biometric.Service

	// Bridge is set for native environments.
	Bridge bridge.Bridge

	// RelyingParty is set for browser environments.
	RelyingParty *webauthn.RelyingParty

	backend storage.Backend
	logger  *slog.Logger
}

// RuntimeOptions tunes NewRuntime.
type RuntimeOptions struct {
	// Client performs browser ceremonies. Defaults to a virtual platform
	// authenticator presenting the first configured origin.
	Client webauthn.Client

	// Bridge overrides the bridge built from configuration.
	Bridge bridge.Bridge

	Logger *slog.Logger
}

// NewRuntime opens storage, builds the secure store and the providers for
// the host environment, and returns a ready service.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	logger := logging.OrDiscard(opts.Logger)

	env, err := cfg.HostEnvironment()
	if err != nil {
		return nil, err
	}

	br := opts.Bridge
	if env.IsNative && br == nil {
		if !cfg.Bridge.Simulate {
			return nil, ErrNoBridge
		}
		br = NewSimulatedBridge(cfg.Bridge)
		logger.Warn("using simulated native bridge", slog.Any("modalities", cfg.Bridge.Modalities))
	}

	backend, err := OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	store, err := OpenSecureStore(ctx, cfg, backend, br, env, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	rt := &Runtime{Bridge: br, backend: backend, logger: logger}

	params := biometric.Params{
		Environment:   env,
		Bridge:        br,
		Store:         store,
		Policy:        cfg.Policy.Clone(),
		DefaultUserID: cfg.DefaultUser,
		HealthTimeout: cfg.Health.CheckTimeout,
		Logger:        logger,
	}
	if !env.IsNative {
		wcfg := cfg.WebAuthn
		rp, err := webauthn.NewRelyingParty(webauthn.Params{
			Config:      &wcfg,
			Credentials: webauthn.NewSecureCredentialStore(store),
		})
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("failed to create relying party: %w", err)
		}
		client := opts.Client
		if client == nil {
			client = webauthn.NewVirtualClient(rp.Config())
		}
		rt.RelyingParty = rp
		params.RelyingParty = rp
		params.Client = client
	}

	rt.Service, err = biometric.NewService(ctx, params)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases the storage backend.
func (r *Runtime) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}

// NewSimulatedBridge builds the scripted native bridge described by cfg.
func NewSimulatedBridge(cfg config.BridgeConfig) *bridge.Simulator {
	opts := []bridge.SimulatorOption{bridge.WithSecureHardware(cfg.SecureHardware)}
	if len(cfg.Modalities) > 0 {
		opts = append(opts, bridge.WithSupported(cfg.Modalities...))
	}
	return bridge.NewSimulator(opts...)
}

// OpenBackend opens the configured storage backend.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendFile:
		b, err := file.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file storage: %w", err)
		}
		return b, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
		b, err := sqlite.Open(ctx, filepath.Join(cfg.Path, SQLiteFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// OpenSecureStore builds the secure store selected by securestore.type.
// The AEAD store wraps backend; the native store keeps values in the
// platform keystore and leaves backend unused.
func OpenSecureStore(ctx context.Context, cfg *config.Config, backend storage.Backend, br bridge.Bridge, env types.Environment, logger *slog.Logger) (securestore.Store, error) {
	switch cfg.SecureStore.Type {
	case config.SecureStoreNative:
		if !env.IsNative || br == nil {
			return nil, fmt.Errorf("native secure store requires a native environment")
		}
		store, err := securestore.NewNativeStore(br, cfg.SecureStore.AccessGroup)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SecureStoreAEAD, "":
		secret, err := securestore.LoadOrCreateSecret(cfg.SecureStore.SecretPath)
		if err != nil {
			return nil, err
		}
		defer clear(secret)
		store, err := securestore.NewAEADStore(ctx, securestore.AEADConfig{
			Backend:  backend,
			Secret:   secret,
			DeviceID: env.DeviceID,
			Cipher:   cfg.SecureStore.Cipher,
			KDF:      cfg.SecureStore.KDF,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown secure store type: %s", cfg.SecureStore.Type)
	}
}
