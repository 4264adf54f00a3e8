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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-biometrics/pkg/kdf"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/ratelimit"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

// EnvPrefix prefixes every environment override, e.g. BIOMETRIC_SERVER_PORT.
const EnvPrefix = "BIOMETRIC"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Secure store types.
const (
	SecureStoreAEAD   = "aead"
	SecureStoreNative = "native"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Logging     logging.Config    `yaml:"logging" mapstructure:"logging"`
	TLS         TLSConfig         `yaml:"tls" mapstructure:"tls"`
	RateLimit   ratelimit.Config  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Health      HealthConfig      `yaml:"health" mapstructure:"health"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	SecureStore SecureStoreConfig `yaml:"securestore" mapstructure:"securestore"`
	Policy      policy.Policy     `yaml:"policy" mapstructure:"policy"`
	WebAuthn    webauthn.Config   `yaml:"webauthn" mapstructure:"webauthn"`
	Environment EnvironmentConfig `yaml:"environment" mapstructure:"environment"`
	Bridge      BridgeConfig      `yaml:"bridge" mapstructure:"bridge"`

	// DefaultUser is used when a request names no user. Single-user
	// devices set it to the device owner.
	DefaultUser string `yaml:"default_user" mapstructure:"default_user"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig controls the Prometheus endpoint and gauge collection
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Path     string        `yaml:"path" mapstructure:"path"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// HealthConfig controls the health endpoints
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	CheckTimeout time.Duration `yaml:"check_timeout" mapstructure:"check_timeout"`
}

// TelemetryConfig controls OpenTelemetry trace export
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// StorageConfig selects the backend holding encrypted records
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecureStoreConfig selects how records are protected at rest
type SecureStoreConfig struct {
	// Type is aead (software envelope encryption) or native (platform
	// keystore through the bridge).
	Type string `yaml:"type" mapstructure:"type"`

	Cipher     securestore.Cipher `yaml:"cipher" mapstructure:"cipher"`
	KDF        kdf.Params         `yaml:"kdf" mapstructure:"kdf"`
	SecretPath string             `yaml:"secret_path" mapstructure:"secret_path"`

	// AccessGroup scopes native keystore entries.
	AccessGroup string `yaml:"access_group" mapstructure:"access_group"`
}

// EnvironmentConfig describes the host. Process environment variables
// read by Environment take precedence over these values.
type EnvironmentConfig struct {
	Native                bool   `yaml:"native" mapstructure:"native"`
	PlatformOS            string `yaml:"platform_os" mapstructure:"platform_os"`
	DeviceID              string `yaml:"device_id" mapstructure:"device_id"`
	UserAgent             string `yaml:"user_agent" mapstructure:"user_agent"`
	PlatformAuthenticator bool   `yaml:"platform_authenticator" mapstructure:"platform_authenticator"`
}

// BridgeConfig configures the simulated native bridge used when no
// platform bridge is linked in.
type BridgeConfig struct {
	Simulate       bool     `yaml:"simulate" mapstructure:"simulate"`
	Modalities     []string `yaml:"modalities" mapstructure:"modalities"`
	SecureHardware bool     `yaml:"secure_hardware" mapstructure:"secure_hardware"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8443,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		TLS:     TLSConfig{MinVersion: "TLS1.2"},
		RateLimit: ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics", Interval: 15 * time.Second},
		Health:  HealthConfig{Enabled: true, CheckTimeout: 5 * time.Second},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "go-biometrics",
			SampleRatio: 1.0,
		},
		Storage: StorageConfig{Backend: BackendFile, Path: "./data"},
		SecureStore: SecureStoreConfig{
			Type:       SecureStoreAEAD,
			Cipher:     securestore.CipherAES256GCM,
			KDF:        kdf.DefaultParams(kdf.AlgorithmPBKDF2),
			SecretPath: "./data/device.secret",
		},
		Policy: *policy.Default(),
		WebAuthn: webauthn.Config{
			RPID:                    "localhost",
			RPDisplayName:           "go-biometrics",
			RPOrigins:               []string{"https://localhost:8443"},
			Timeout:                 60 * time.Second,
			UserVerification:        "required",
			AttestationPreference:   "none",
			ResidentKeyRequirement:  "discouraged",
			AuthenticatorAttachment: "platform",
		},
		Environment: EnvironmentConfig{PlatformAuthenticator: true},
		Bridge: BridgeConfig{
			Modalities:     []string{string(types.ModalityFingerprint), string(types.ModalityFace)},
			SecureHardware: true,
		},
	}
}

// setDefaults registers every default with v so environment overrides
// apply to keys absent from the file.
func setDefaults(v *viper.Viper) error {
	var m map[string]any
	if err := mapstructure.Decode(Default(), &m); err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	for key, value := range flatten("", m) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Load reads configuration from path, then applies BIOMETRIC_* environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Storage.Path != "" && !filepath.IsAbs(cfg.Storage.Path) && path != "" {
		cfg.Storage.Path = filepath.Join(filepath.Dir(path), cfg.Storage.Path)
	}
	if cfg.SecureStore.SecretPath != "" && !filepath.IsAbs(cfg.SecureStore.SecretPath) && path != "" {
		cfg.SecureStore.SecretPath = filepath.Join(filepath.Dir(path), cfg.SecureStore.SecretPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Render encodes the configuration as YAML.
func (c *Config) Render() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// HostEnvironment returns the host descriptor: configured values overlaid with
// BIOMETRIC_NATIVE, BIOMETRIC_PLATFORM_OS, BIOMETRIC_DEVICE_ID,
// BIOMETRIC_USER_AGENT and BIOMETRIC_PLATFORM_AUTHENTICATOR. The device ID
// falls back to the hostname.
func (c *Config) HostEnvironment() (types.Environment, error) {
	e := types.Environment{
		IsNative:              c.Environment.Native,
		PlatformOS:            c.Environment.PlatformOS,
		DeviceID:              c.Environment.DeviceID,
		UserAgent:             c.Environment.UserAgent,
		PlatformAuthenticator: c.Environment.PlatformAuthenticator,
	}
	if err := env.Parse(&e); err != nil {
		return types.Environment{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if e.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return types.Environment{}, fmt.Errorf("failed to resolve device id: %w", err)
		}
		e.DeviceID = host
	}
	if e.IsNative && e.PlatformOS == "" {
		return types.Environment{}, errors.New("native environment requires a platform OS")
	}
	return e, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert_file or key_file not specified")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limiting enabled but requests_per_minute is %d", c.RateLimit.RequestsPerMinute)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q", c.Metrics.Path)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry enabled but endpoint not specified")
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("invalid telemetry sample_ratio: %v", c.Telemetry.SampleRatio)
		}
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage backend %s requires a path", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, file, or sqlite)", c.Storage.Backend)
	}

	switch c.SecureStore.Type {
	case SecureStoreAEAD:
		if err := c.SecureStore.KDF.Validate(); err != nil {
			return fmt.Errorf("securestore: %w", err)
		}
		switch c.SecureStore.Cipher {
		case "", securestore.CipherAES256GCM, securestore.CipherXChaCha20Poly1305:
		default:
			return fmt.Errorf("securestore: unsupported cipher %q", c.SecureStore.Cipher)
		}
		if c.SecureStore.SecretPath == "" {
			return fmt.Errorf("securestore: secret_path is required")
		}
	case SecureStoreNative:
		if !c.Environment.Native || !c.Bridge.Simulate {
			return fmt.Errorf("securestore: native store requires a native environment with a bridge")
		}
	default:
		return fmt.Errorf("invalid securestore type: %s (must be aead or native)", c.SecureStore.Type)
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.Environment.Native {
		if !c.Bridge.Simulate {
			return fmt.Errorf("native environment requires bridge.simulate (no platform bridge is linked)")
		}
		for _, m := range c.Bridge.Modalities {
			if !types.Modality(m).Valid() {
				return fmt.Errorf("invalid bridge modality: %s", m)
			}
		}
	} else if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	return nil
}
