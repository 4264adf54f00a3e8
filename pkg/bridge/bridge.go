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

// Package bridge defines the channel to the platform layer that owns the
// biometric sensors and hardware-isolated storage. This module never talks
// to hardware directly; every sensor or keystore interaction is a named
// bridge call.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Bridge method names.
const (
	MethodIsSupported         = "biometric.isSupported"
	MethodSecureHardware      = "secureHardware.isAvailable"
	MethodEnroll              = "biometric.enroll"
	MethodAuthenticate        = "biometric.authenticate"
	MethodDeleteTemplate      = "biometric.deleteTemplate"
	MethodRefreshTemplate     = "biometric.refreshTemplate"
	MethodStatus              = "biometric.status"
	MethodSecureStorageSet    = "secureStorage.set"
	MethodSecureStorageGet    = "secureStorage.get"
	MethodSecureStorageRemove = "secureStorage.remove"
)

var (
	// ErrMethodNotSupported is returned for bridge methods the platform lacks.
	ErrMethodNotSupported = errors.New("bridge: method not supported")

	// ErrUserCancelled is returned when the user dismisses the system prompt.
	ErrUserCancelled = errors.New("bridge: user cancelled")

	// ErrMalformedResponse is returned when a response cannot be decoded.
	ErrMalformedResponse = errors.New("bridge: malformed response")
)

// Bridge invokes a named platform method. Implementations must honor ctx
// cancellation for calls that suspend on a user prompt.
type Bridge interface {
	Call(ctx context.Context, method string, args map[string]any) (map[string]any, error)
}

// Func adapts a function to the Bridge interface.
type Func func(ctx context.Context, method string, args map[string]any) (map[string]any, error)

// Call invokes f.
func (f Func) Call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	return f(ctx, method, args)
}

// SupportResponse answers biometric.isSupported and secureHardware.isAvailable.
type SupportResponse struct {
	Available  bool   `mapstructure:"available"`
	Identifier string `mapstructure:"identifier"`
	Enrolled   bool   `mapstructure:"enrolled"`
}

// EnrollResponse answers biometric.enroll. Samples holds one quality score
// in [0,1] per captured sample.
type EnrollResponse struct {
	Success    bool      `mapstructure:"success"`
	TemplateID string    `mapstructure:"templateId"`
	Samples    []float64 `mapstructure:"samples"`
}

// AuthResponse answers biometric.authenticate. Confidence and Liveness are
// produced by the platform and are trusted verbatim.
type AuthResponse struct {
	Success    bool    `mapstructure:"success"`
	TemplateID string  `mapstructure:"templateId"`
	Challenge  string  `mapstructure:"challenge"`
	Confidence float64 `mapstructure:"confidence"`
	Liveness   bool    `mapstructure:"liveness"`
	Error      string  `mapstructure:"error"`
}

// StatusResponse answers biometric.status.
type StatusResponse struct {
	Ready   bool   `mapstructure:"ready"`
	Message string `mapstructure:"message"`
}

// SecureValueResponse answers secureStorage.get. Value is base64 encoded.
type SecureValueResponse struct {
	Found bool   `mapstructure:"found"`
	Value string `mapstructure:"value"`
}

// Decode converts a raw bridge response into out. Numeric fields accept any
// numeric or numeric-string representation since bridges commonly marshal
// through JSON.
func Decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Invoke performs a call and decodes the response into a T.
func Invoke[T any](ctx context.Context, b Bridge, method string, args map[string]any) (T, error) {
	var out T
	raw, err := b.Call(ctx, method, args)
	if err != nil {
		return out, err
	}
	if err := Decode(raw, &out); err != nil {
		return out, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}
