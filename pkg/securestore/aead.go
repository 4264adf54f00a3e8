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

package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeremyhahn/go-biometrics/pkg/kdf"
	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/storage"
)

// Cipher names an AEAD construction.
type Cipher string

const (
	CipherAES256GCM         Cipher = "aes-256-gcm"
	CipherXChaCha20Poly1305 Cipher = "xchacha20-poly1305"
)

const (
	envelopeVersion = 1

	// saltKey holds the per-install KDF salt. It is not secret.
	saltKey = "securestore/salt"
	// saltSize is the KDF salt length.
	saltSize = 32
)

var cipherIDs = map[Cipher]byte{
	CipherAES256GCM:         1,
	CipherXChaCha20Poly1305: 2,
}

// AEADConfig configures an AEADStore.
type AEADConfig struct {
	// Backend holds the encrypted envelopes. Required.
	Backend storage.Backend

	// Secret is the device-bound secret the key is derived from. Required.
	Secret []byte

	// DeviceID binds the derived key to this device.
	DeviceID string

	// Cipher selects the AEAD. Defaults to AES-256-GCM.
	Cipher Cipher

	// KDF configures key derivation. Defaults to PBKDF2.
	KDF kdf.Params

	// Logger is optional.
	Logger *slog.Logger
}

// AEADStore encrypts every value with an authenticated cipher before it
// reaches the backend. The storage key is bound as associated data, so an
// envelope moved to a different key fails to decrypt.
//
// Envelope layout: version(1) | cipher(1) | nonce | ciphertext+tag
type AEADStore struct {
	backend storage.Backend
	aead    cipher.AEAD
	id      byte
	nonces  *nonceTracker
	logger  *slog.Logger
	random  io.Reader
}

// NewAEADStore derives the storage key and returns a ready store. A salt is
// generated and persisted in the backend on first use.
func NewAEADStore(ctx context.Context, cfg AEADConfig) (*AEADStore, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("securestore: backend is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("securestore: device secret is required")
	}
	if cfg.Cipher == "" {
		cfg.Cipher = CipherAES256GCM
	}
	id, ok := cipherIDs[cfg.Cipher]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, cfg.Cipher)
	}
	if cfg.KDF.Algorithm == "" {
		cfg.KDF = kdf.DefaultParams(kdf.AlgorithmPBKDF2)
	}
	logger := logging.OrDiscard(cfg.Logger)

	salt, err := loadOrCreateSalt(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	key, err := kdf.DeriveKey(cfg.Secret, salt, cfg.DeviceID, cfg.KDF)
	if err != nil {
		return nil, fmt.Errorf("securestore: derive key: %w", err)
	}
	aead, err := newAEAD(cfg.Cipher, key)
	clear(key)
	if err != nil {
		return nil, err
	}

	logger.Debug("secure store ready",
		slog.String("cipher", string(cfg.Cipher)),
		slog.String("kdf", string(cfg.KDF.Algorithm)))

	return &AEADStore{
		backend: cfg.Backend,
		aead:    aead,
		id:      id,
		nonces:  newNonceTracker(nonceWindow),
		logger:  logger,
		random:  rand.Reader,
	}, nil
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	switch c {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("securestore: aes: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, c)
}

func loadOrCreateSalt(ctx context.Context, backend storage.Backend) ([]byte, error) {
	salt, err := backend.Get(ctx, saltKey)
	if err == nil {
		if len(salt) < kdf.MinSaltLength {
			return nil, fmt.Errorf("securestore: stored salt is too short")
		}
		return salt, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("securestore: read salt: %w", err)
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("securestore: generate salt: %w", err)
	}
	if err := backend.Put(ctx, saltKey, salt); err != nil {
		return nil, fmt.Errorf("securestore: persist salt: %w", err)
	}
	return salt, nil
}

// Store encrypts value and writes it under key.
func (s *AEADStore) Store(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return fmt.Errorf("securestore: generate nonce: %w", err)
	}
	if err := s.nonces.checkAndRecord(nonce); err != nil {
		s.logger.Error("refusing to encrypt", slog.String("key", key), slog.Any("error", err))
		return err
	}

	envelope := make([]byte, 0, 2+len(nonce)+len(value)+s.aead.Overhead())
	envelope = append(envelope, envelopeVersion, s.id)
	envelope = append(envelope, nonce...)
	envelope = s.aead.Seal(envelope, nonce, value, []byte(key))

	if err := s.backend.Put(ctx, key, envelope); err != nil {
		return fmt.Errorf("securestore: write %q: %w", key, err)
	}
	return nil
}

// Retrieve reads and decrypts the value for key.
func (s *AEADStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	envelope, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("securestore: read %q: %w", key, err)
	}

	nonceSize := s.aead.NonceSize()
	if len(envelope) < 2+nonceSize+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}
	if envelope[0] != envelopeVersion || envelope[1] != s.id {
		return nil, fmt.Errorf("%w: unknown envelope version %d cipher %d", ErrDecrypt, envelope[0], envelope[1])
	}
	nonce := envelope[2 : 2+nonceSize]
	plaintext, err := s.aead.Open(nil, nonce, envelope[2+nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrDecrypt, key)
	}
	return plaintext, nil
}

// Remove deletes key.
func (s *AEADStore) Remove(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("securestore: remove %q: %w", key, err)
	}
	return nil
}

// checkKey rejects the salt key, which is not an envelope and must
// survive for existing envelopes to stay readable.
func checkKey(key string) error {
	if key == saltKey {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	return nil
}

// HardwareBacked returns false; the key lives in process memory.
func (s *AEADStore) HardwareBacked() bool {
	return false
}
