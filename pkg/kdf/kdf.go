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

// Package kdf derives the device storage key from a device-local secret.
//
// The secret is stretched with PBKDF2 or Argon2id and then bound to the
// device identifier with HKDF, so a secret file copied to another device
// yields a different key.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Algorithm names a password-stretching function.
type Algorithm string

const (
	AlgorithmPBKDF2   Algorithm = "pbkdf2"
	AlgorithmArgon2id Algorithm = "argon2id"
)

const (
	// MinIterations is the minimum PBKDF2 iteration count
	MinIterations = 100000

	// MinSaltLength is the minimum salt length in bytes
	MinSaltLength = 16

	// MinArgon2Memory is the minimum Argon2 memory cost in KiB
	MinArgon2Memory = 8 * 1024

	// KeyLength is the derived key length (AES-256 / XChaCha20)
	KeyLength = 32
)

var (
	ErrInvalidSalt          = errors.New("kdf: invalid salt")
	ErrInvalidIterations    = errors.New("kdf: invalid iterations")
	ErrInvalidMemory        = errors.New("kdf: invalid memory cost")
	ErrInvalidTime          = errors.New("kdf: invalid time cost")
	ErrInvalidThreads       = errors.New("kdf: invalid threads")
	ErrInvalidSecret        = errors.New("kdf: invalid secret")
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")
)

// Params configures key derivation.
type Params struct {
	Algorithm  Algorithm `yaml:"algorithm" json:"algorithm" mapstructure:"algorithm"`
	Iterations int       `yaml:"iterations" json:"iterations" mapstructure:"iterations"`
	Memory     uint32    `yaml:"memory" json:"memory" mapstructure:"memory"`
	Time       uint32    `yaml:"time" json:"time" mapstructure:"time"`
	Threads    uint8     `yaml:"threads" json:"threads" mapstructure:"threads"`
}

// DefaultParams returns recommended parameters for the algorithm.
func DefaultParams(algorithm Algorithm) Params {
	switch algorithm {
	case AlgorithmArgon2id:
		return Params{
			Algorithm: AlgorithmArgon2id,
			Memory:    64 * 1024, // 64 MiB
			Time:      3,
			Threads:   4,
		}
	default:
		return Params{
			Algorithm:  AlgorithmPBKDF2,
			Iterations: 600000, // OWASP recommendation for PBKDF2-SHA256 (2023)
		}
	}
}

// Validate checks the parameters for the configured algorithm.
func (p *Params) Validate() error {
	switch p.Algorithm {
	case AlgorithmPBKDF2:
		if p.Iterations < MinIterations {
			return fmt.Errorf("%w: %d < %d", ErrInvalidIterations, p.Iterations, MinIterations)
		}
	case AlgorithmArgon2id:
		if p.Memory < MinArgon2Memory {
			return ErrInvalidMemory
		}
		if p.Time < 1 {
			return ErrInvalidTime
		}
		if p.Threads < 1 {
			return ErrInvalidThreads
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, p.Algorithm)
	}
	return nil
}

// DeriveKey stretches secret with the configured algorithm and binds the
// result to context (normally the device identifier).
func DeriveKey(secret, salt []byte, context string, params Params) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	if len(salt) < MinSaltLength {
		return nil, ErrInvalidSalt
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var stretched []byte
	switch params.Algorithm {
	case AlgorithmPBKDF2:
		stretched = pbkdf2.Key(secret, salt, params.Iterations, KeyLength, sha256.New)
	case AlgorithmArgon2id:
		stretched = argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, KeyLength)
	}

	r := hkdf.New(sha256.New, stretched, salt, []byte("biometric-storage:"+context))
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("kdf: expand: %w", err)
	}
	clear(stretched)
	return key, nil
}
