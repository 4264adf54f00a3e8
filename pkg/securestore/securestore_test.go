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
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/kdf"
	"github.com/jeremyhahn/go-biometrics/pkg/storage/memory"
)

var testSecret = bytes.Repeat([]byte{0x07}, SecretSize)

func fastKDF() kdf.Params {
	return kdf.Params{Algorithm: kdf.AlgorithmPBKDF2, Iterations: kdf.MinIterations}
}

func newAEADStore(t *testing.T, c Cipher) (*AEADStore, *memory.Storage) {
	t.Helper()
	backend := memory.New()
	s, err := NewAEADStore(context.Background(), AEADConfig{
		Backend:  backend,
		Secret:   testSecret,
		DeviceID: "device-1",
		Cipher:   c,
		KDF:      fastKDF(),
	})
	require.NoError(t, err)
	return s, backend
}

func TestAEADStore_RoundTrip(t *testing.T) {
	for _, c := range []Cipher{CipherAES256GCM, CipherXChaCha20Poly1305} {
		t.Run(string(c), func(t *testing.T) {
			s, backend := newAEADStore(t, c)
			ctx := context.Background()
			plaintext := []byte(`{"userId":"u1","templateId":"t1"}`)

			require.NoError(t, s.Store(ctx, "enrollment/face/u1", plaintext))

			raw, err := backend.Get(ctx, "enrollment/face/u1")
			require.NoError(t, err)
			assert.NotContains(t, string(raw), "templateId", "value must not be stored in the clear")

			got, err := s.Retrieve(ctx, "enrollment/face/u1")
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
			assert.False(t, s.HardwareBacked())
		})
	}
}

func TestAEADStore_NotFound(t *testing.T) {
	s, _ := newAEADStore(t, CipherAES256GCM)
	_, err := s.Retrieve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAEADStore_KeyBoundAsAAD(t *testing.T) {
	s, backend := newAEADStore(t, CipherAES256GCM)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "enrollment/face/alice", []byte("alice")))

	// Moving an envelope to another key must not decrypt.
	raw, _ := backend.Get(ctx, "enrollment/face/alice")
	require.NoError(t, backend.Put(ctx, "enrollment/face/mallory", raw))

	_, err := s.Retrieve(ctx, "enrollment/face/mallory")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestAEADStore_TamperDetected(t *testing.T) {
	s, backend := newAEADStore(t, CipherAES256GCM)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "k", []byte("value")))

	raw, _ := backend.Get(ctx, "k")
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, backend.Put(ctx, "k", raw))

	_, err := s.Retrieve(ctx, "k")
	assert.ErrorIs(t, err, ErrDecrypt)

	require.NoError(t, backend.Put(ctx, "k", []byte{1}))
	_, err = s.Retrieve(ctx, "k")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestAEADStore_SaltPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	cfg := AEADConfig{Backend: backend, Secret: testSecret, DeviceID: "d", KDF: fastKDF()}

	first, err := NewAEADStore(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, first.Store(ctx, "k", []byte("persisted")))

	second, err := NewAEADStore(ctx, cfg)
	require.NoError(t, err)
	got, err := second.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

func TestAEADStore_WrongDeviceCannotDecrypt(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	a, err := NewAEADStore(ctx, AEADConfig{Backend: backend, Secret: testSecret, DeviceID: "a", KDF: fastKDF()})
	require.NoError(t, err)
	require.NoError(t, a.Store(ctx, "k", []byte("v")))

	b, err := NewAEADStore(ctx, AEADConfig{Backend: backend, Secret: testSecret, DeviceID: "b", KDF: fastKDF()})
	require.NoError(t, err)
	_, err = b.Retrieve(ctx, "k")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestAEADStore_NonceReuseRejected(t *testing.T) {
	s, _ := newAEADStore(t, CipherAES256GCM)
	s.random = bytes.NewReader(bytes.Repeat([]byte{0xAA}, 64))
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "a", []byte("1")))
	err := s.Store(ctx, "b", []byte("2"))
	assert.ErrorIs(t, err, ErrNonceReuse)
	assert.Equal(t, 1, s.nonces.count())
}

func TestNonceTracker_Window(t *testing.T) {
	nt := newNonceTracker(2)
	require.NoError(t, nt.checkAndRecord([]byte{1}))
	require.NoError(t, nt.checkAndRecord([]byte{2}))
	assert.ErrorIs(t, nt.checkAndRecord([]byte{2}), ErrNonceReuse)

	// A third nonce evicts the oldest.
	require.NoError(t, nt.checkAndRecord([]byte{3}))
	assert.Equal(t, 2, nt.count())
	assert.NoError(t, nt.checkAndRecord([]byte{1}))
	assert.ErrorIs(t, nt.checkAndRecord([]byte{3}), ErrNonceReuse)
	assert.Equal(t, 2, nt.count())
}

func TestAEADStore_ReservedSaltKey(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	cfg := AEADConfig{Backend: backend, Secret: testSecret, DeviceID: "d", KDF: fastKDF()}
	s, err := NewAEADStore(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Store(ctx, "k", []byte("kept")))

	assert.ErrorIs(t, s.Store(ctx, saltKey, []byte("x")), ErrReservedKey)
	assert.ErrorIs(t, s.Remove(ctx, saltKey), ErrReservedKey)
	_, err = s.Retrieve(ctx, saltKey)
	assert.ErrorIs(t, err, ErrReservedKey)

	// Envelopes stay readable after reopening.
	reopened, err := NewAEADStore(ctx, cfg)
	require.NoError(t, err)
	got, err := reopened.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), got)
}

func TestNewAEADStore_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := NewAEADStore(ctx, AEADConfig{Secret: testSecret})
	assert.Error(t, err)

	_, err = NewAEADStore(ctx, AEADConfig{Backend: memory.New()})
	assert.Error(t, err)

	_, err = NewAEADStore(ctx, AEADConfig{Backend: memory.New(), Secret: testSecret, Cipher: "rot13", KDF: fastKDF()})
	assert.ErrorIs(t, err, ErrUnsupportedCipher)
}

// gcmService is a host EncryptionService backed by a fixed AES key.
type gcmService struct {
	aead cipher.AEAD
	fail bool
}

func newGCMService(t *testing.T) *gcmService {
	block, err := aes.NewCipher(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)
	return &gcmService{aead: aead}
}

func (g *gcmService) Encrypt(_ context.Context, plaintext, aad []byte) ([]byte, error) {
	if g.fail {
		return nil, errors.New("host keystore locked")
	}
	nonce := make([]byte, g.aead.NonceSize())
	return g.aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (g *gcmService) Decrypt(_ context.Context, ciphertext, aad []byte) ([]byte, error) {
	n := g.aead.NonceSize()
	return g.aead.Open(nil, ciphertext[:n], ciphertext[n:], aad)
}

func TestHostStore(t *testing.T) {
	ctx := context.Background()
	svc := newGCMService(t)
	backend := memory.New()
	s, err := NewHostStore(backend, svc)
	require.NoError(t, err)

	require.NoError(t, s.Store(ctx, "k", []byte("secret")))
	got, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	require.NoError(t, s.Remove(ctx, "k"))
	_, err = s.Retrieve(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// No plaintext fallback when the host cannot encrypt.
	svc.fail = true
	assert.Error(t, s.Store(ctx, "k2", []byte("secret")))
	_, err = backend.Get(ctx, "k2")
	assert.Error(t, err)
}

func TestNewHostStore_RequiresService(t *testing.T) {
	_, err := NewHostStore(memory.New(), nil)
	assert.Error(t, err)
}

func TestNativeStore(t *testing.T) {
	ctx := context.Background()
	sim := bridge.NewSimulator()
	s, err := NewNativeStore(sim, "")
	require.NoError(t, err)
	assert.True(t, s.HardwareBacked())

	require.NoError(t, s.Store(ctx, "enrollment_status", []byte("{}")))
	got, err := s.Retrieve(ctx, "enrollment_status")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), got)

	require.NoError(t, s.Remove(ctx, "enrollment_status"))
	_, err = s.Retrieve(ctx, "enrollment_status")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, sim.Calls(bridge.MethodSecureStorageSet))
}

func TestJSONHelpers(t *testing.T) {
	s, _ := newAEADStore(t, CipherXChaCha20Poly1305)
	ctx := context.Background()

	type rec struct{ A string }
	require.NoError(t, StoreJSON(ctx, s, "r", rec{A: "x"}))

	var out rec
	require.NoError(t, RetrieveJSON(ctx, s, "r", &out))
	assert.Equal(t, "x", out.A)
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "device.secret")

	first, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Len(t, first, SecretSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	short := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(short, []byte("abc"), 0600))
	_, err = LoadOrCreateSecret(short)
	assert.Error(t, err)
}
