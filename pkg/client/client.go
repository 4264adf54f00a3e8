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

// Package client provides a Go client for the biometric REST server.
//
// Errors returned by the server carry the machine-readable reason of the
// failure. An *APIError unwraps to the matching sentinel in pkg/types, so
// callers classify remote failures with errors.Is exactly as they would
// local ones.
package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// DefaultTimeout bounds a single request. Authentication requests wait on
// a user ceremony, so it is longer than a typical API timeout.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrInvalidConfig is returned when the client configuration is unusable.
	ErrInvalidConfig = errors.New("invalid client configuration")
	// ErrConnectionFailed is returned when the server could not be reached.
	ErrConnectionFailed = errors.New("connection failed")
)

// Config configures the biometric client.
type Config struct {
	// Address is the server URL, http://host:port or https://host:port. A
	// bare host:port uses https when any TLS option is set.
	Address string

	// TLSInsecureSkipVerify skips TLS certificate verification (not recommended)
	TLSInsecureSkipVerify bool

	// TLSCAFile is the path to the CA certificate file
	TLSCAFile string

	// TLSCertFile is the path to the client certificate file (for mTLS)
	TLSCertFile string

	// TLSKeyFile is the path to the client key file (for mTLS)
	TLSKeyFile string

	// Headers are additional HTTP headers to include in requests
	Headers map[string]string

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration
}

func (c *Config) tlsEnabled() bool {
	return c.TLSInsecureSkipVerify || c.TLSCAFile != "" || c.TLSCertFile != ""
}

// APIError is an error response from the server.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Reason is the machine-readable reason, e.g. "locked_out".
	Reason string
	// Message is the server's error text.
	Message string
}

// Error returns the error message.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: %s", e.Message)
}

// Unwrap returns the taxonomy sentinel named by Reason, if any.
func (e *APIError) Unwrap() error {
	return types.FromReason(e.Reason)
}

// Client talks to a biometric server over HTTP.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// New creates a client. No connection is made until the first request.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}

	// Parse and normalize the base URL
	baseURL := cfg.Address
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if cfg.tlsEnabled() {
			baseURL = "https://" + baseURL
		} else {
			baseURL = "http://" + baseURL
		}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(baseURL, "https://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		config:  cfg,
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}, nil
}

func newTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify, //nolint:gosec // explicit operator opt-in
		MinVersion:         tls.VersionTLS12,
	}

	// Load CA certificate if specified
	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("%w: failed to parse CA certificate", ErrInvalidConfig)
		}
		tlsConfig.RootCAs = caCertPool
	}

	// Load client certificate if specified (mTLS)
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
