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

package enrollment

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/kdf"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/provider"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/storage/memory"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn/webauthntest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore fails writes to one key while failing is set.
type faultyStore struct {
	inner   securestore.Store
	mu      sync.Mutex
	key     string
	failing bool
}

func (f *faultyStore) Store(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failing && key == f.key
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.inner.Store(ctx, key, value)
}

func (f *faultyStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return f.inner.Retrieve(ctx, key)
}

func (f *faultyStore) Remove(ctx context.Context, key string) error {
	return f.inner.Remove(ctx, key)
}

func (f *faultyStore) HardwareBacked() bool { return f.inner.HardwareBacked() }

func (f *faultyStore) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

type fixture struct {
	manager *Manager
	sim     *bridge.Simulator
	store   *faultyStore
	log     *audit.Log
	clock   *clock
	policy  *policy.Policy
}

func newSecureStore(t *testing.T) securestore.Store {
	t.Helper()
	s, err := securestore.NewAEADStore(context.Background(), securestore.AEADConfig{
		Backend:  memory.New(),
		Secret:   bytes.Repeat([]byte{0x11}, securestore.SecretSize),
		DeviceID: "device-1",
		KDF:      kdf.Params{Algorithm: kdf.AlgorithmPBKDF2, Iterations: kdf.MinIterations},
	})
	require.NoError(t, err)
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := bridge.NewSimulator()
	caps := []types.Capability{
		{Modality: types.ModalityFingerprint, NativeIdentifier: "TouchID", Priority: 1},
		{Modality: types.ModalityFace, NativeIdentifier: "FaceID", Priority: 2},
	}
	registry, err := provider.Build(caps, provider.NativeFactory(sim, true))
	require.NoError(t, err)

	f := &fixture{
		sim:    sim,
		store:  &faultyStore{inner: newSecureStore(t), key: StatusKey},
		log:    audit.NewLog(100),
		clock:  &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		policy: policy.Default(),
	}
	f.manager, err = NewManager(Params{
		Providers: registry,
		Store:     f.store,
		Policy:    f.policy,
		Audit:     f.log,
		DeviceID:  "device-1",
		Now:       f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

func TestEnroll_Success(t *testing.T) {
	f := newFixture(t)
	f.sim.QueueEnroll(bridge.EnrollScript{Samples: []float64{0.9, 0.85, 0.88}})
	ctx := context.Background()

	rec, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{
		Metadata: map[string]string{"label": "right thumb"},
	})
	require.NoError(t, err)

	assert.True(t, f.manager.IsEnrolled(ctx, types.ModalityFingerprint, "u1"))
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "device-1", rec.DeviceID)
	assert.NotEmpty(t, rec.TemplateID)
	assert.InDelta(t, 0.8766, rec.QualityScore, 0.001)
	assert.Equal(t, f.clock.Now().Add(policy.DefaultTemplateRefreshInterval), rec.ExpiresAt)
	assert.Equal(t, "right thumb", rec.Metadata["label"])

	state, err := f.manager.State(ctx, types.ModalityFingerprint, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.StateEnrolled, state)

	events := f.log.Export()
	require.Len(t, events, 1)
	assert.Equal(t, audit.TypeEnrollment, events[0].Type)
	assert.True(t, events[0].Success)
	assert.Equal(t, audit.SeverityInfo, events[0].Severity)
	assert.Equal(t, types.MethodNative, events[0].Metadata["method"])
}

func TestEnroll_LowQuality(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
	}{
		{"aggregate below threshold", []float64{0.5, 0.4, 0.3}},
		{"too few samples", []float64{0.95, 0.95}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sim.QueueEnroll(bridge.EnrollScript{Samples: tt.samples})
			ctx := context.Background()

			_, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u2", types.EnrollOptions{})
			require.ErrorIs(t, err, types.ErrLowQualitySample)
			assert.True(t, types.IsRetryable(err))
			assert.False(t, f.manager.IsEnrolled(ctx, types.ModalityFingerprint, "u2"))

			// The rejected template is dropped from the platform.
			assert.Equal(t, 1, f.sim.Calls(bridge.MethodDeleteTemplate))

			events := f.log.Export()
			require.Len(t, events, 1)
			assert.False(t, events[0].Success)
			assert.Equal(t, "low_quality_sample", events[0].Reason)
			assert.Equal(t, audit.SeverityNotice, events[0].Severity)
		})
	}
}

func TestEnroll_AlreadyEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{})
	require.NoError(t, err)

	_, err = f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{})
	assert.ErrorIs(t, err, types.ErrAlreadyEnrolled)

	second, err := f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.TemplateID, second.TemplateID)
	// The replaced template is removed from the platform.
	assert.Equal(t, 1, f.sim.Calls(bridge.MethodDeleteTemplate))

	assert.Equal(t, 3, f.log.Len())
}

func TestEnroll_UnsupportedModality(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Enroll(context.Background(), types.ModalityIris, "u1", types.EnrollOptions{})
	assert.ErrorIs(t, err, types.ErrUnsupportedModality)
	assert.Equal(t, 1, f.log.Len())
	assert.Zero(t, f.sim.Calls(bridge.MethodEnroll))
}

func TestEnroll_RequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Enroll(context.Background(), types.ModalityFace, "", types.EnrollOptions{})
	assert.ErrorIs(t, err, ErrUserRequired)
	assert.Equal(t, 1, f.log.Len())
}

func TestEnroll_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)
	f.sim.QueueEnroll(bridge.EnrollScript{Samples: []float64{0.9, 0.9, 0.9}, Delay: 200 * time.Millisecond})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool {
		state, err := f.manager.State(ctx, types.ModalityFingerprint, "u1")
		return err == nil && state == types.StateEnrolling
	}, time.Second, 5*time.Millisecond)

	_, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
	assert.ErrorIs(t, err, types.ErrEnrollmentInProgress)

	// A different pair is not blocked.
	_, err = f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{})
	assert.NoError(t, err)

	require.NoError(t, <-done)
	assert.True(t, f.manager.IsEnrolled(ctx, types.ModalityFingerprint, "u1"))
	assert.Equal(t, 3, f.log.Len())
}

func TestEnroll_CancelledPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.sim.QueueEnroll(bridge.EnrollScript{Samples: []float64{0.9, 0.9, 0.9}, Delay: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
	require.ErrorIs(t, err, types.ErrUserCancelled)

	bg := context.Background()
	assert.False(t, f.manager.IsEnrolled(bg, types.ModalityFingerprint, "u1"))
	state, err := f.manager.State(bg, types.ModalityFingerprint, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.StateUnenrolled, state)

	_, err = f.store.Retrieve(bg, RecordKey(types.ModalityFingerprint, "u1"))
	assert.ErrorIs(t, err, securestore.ErrNotFound)

	events := f.log.Export()
	require.Len(t, events, 1)
	assert.Equal(t, "user_cancelled", events[0].Reason)
}

func TestEnroll_Timeout(t *testing.T) {
	f := newFixture(t)
	f.policy.Timeout = 20 * time.Millisecond
	f.sim.QueueEnroll(bridge.EnrollScript{Samples: []float64{0.9, 0.9, 0.9}, Delay: time.Minute})

	_, err := f.manager.Enroll(context.Background(), types.ModalityFingerprint, "u1", types.EnrollOptions{})
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.False(t, f.manager.IsEnrolled(context.Background(), types.ModalityFingerprint, "u1"))
}

func TestEnroll_StatusWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.setFailing(true)
	_, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
	require.ErrorIs(t, err, types.ErrStorageFailure)

	_, err = f.store.Retrieve(ctx, RecordKey(types.ModalityFingerprint, "u1"))
	assert.ErrorIs(t, err, securestore.ErrNotFound)
	assert.False(t, f.manager.IsEnrolled(ctx, types.ModalityFingerprint, "u1"))

	// With a previous record, the previous record is restored.
	f.store.setFailing(false)
	prev, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
	require.NoError(t, err)

	f.store.setFailing(true)
	_, err = f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{Force: true})
	require.ErrorIs(t, err, types.ErrStorageFailure)

	got, err := f.manager.ActiveRecord(ctx, types.ModalityFingerprint, "u1")
	require.NoError(t, err)
	assert.Equal(t, prev.TemplateID, got.TemplateID)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{})
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(ctx, types.ModalityFace, "u1"))
	assert.False(t, f.manager.IsEnrolled(ctx, types.ModalityFace, "u1"))

	state, err := f.manager.State(ctx, types.ModalityFace, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.StateRevoked, state)

	_, err = f.manager.ActiveRecord(ctx, types.ModalityFace, "u1")
	assert.ErrorIs(t, err, types.ErrNotEnrolled)

	assert.ErrorIs(t, f.manager.Revoke(ctx, types.ModalityFace, "u1"), types.ErrNotEnrolled)
	assert.Equal(t, 1, f.sim.Calls(bridge.MethodDeleteTemplate))

	// A revoked pair can enroll again without force.
	again, err := f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, rec.TemplateID, again.TemplateID)

	events := f.log.Query(&audit.Filter{Type: audit.TypeEnrollment})
	require.Len(t, events, 4)
	assert.Equal(t, ActionRevoke, events[1].Metadata["action"])
}

func TestRefreshTemplate_ExtendsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
	require.NoError(t, err)

	f.clock.Advance(policy.DefaultTemplateRefreshInterval + time.Hour)
	assert.False(t, f.manager.IsEnrolled(ctx, types.ModalityFingerprint, "u1"))
	_, err = f.manager.ActiveRecord(ctx, types.ModalityFingerprint, "u1")
	assert.ErrorIs(t, err, types.ErrNotEnrolled)

	refreshed, err := f.manager.RefreshTemplate(ctx, types.ModalityFingerprint, "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.TemplateID, refreshed.TemplateID)
	assert.Equal(t, f.clock.Now().Add(policy.DefaultTemplateRefreshInterval), refreshed.ExpiresAt)
	assert.True(t, f.manager.IsEnrolled(ctx, types.ModalityFingerprint, "u1"))

	_, err = f.manager.RefreshTemplate(ctx, types.ModalityFace, "u1")
	assert.ErrorIs(t, err, types.ErrNotEnrolled)
}

func TestEnrolledModalitiesAndLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Enroll(ctx, types.ModalityFace, "u1", types.EnrollOptions{})
	require.NoError(t, err)
	_, err = f.manager.Enroll(ctx, types.ModalityFingerprint, "u1", types.EnrollOptions{})
	require.NoError(t, err)
	_, err = f.manager.Enroll(ctx, types.ModalityFace, "u2", types.EnrollOptions{})
	require.NoError(t, err)

	assert.Equal(t, []types.Modality{types.ModalityFingerprint, types.ModalityFace},
		f.manager.EnrolledModalities(ctx, "u1"))
	assert.Equal(t, 3, f.manager.EnrolledCount(ctx))

	// A second manager over the same store sees the persisted status map.
	registry, err := provider.Build([]types.Capability{{Modality: types.ModalityFace}}, provider.NativeFactory(f.sim, true))
	require.NoError(t, err)
	other, err := NewManager(Params{Providers: registry, Store: f.store, Policy: f.policy, Audit: f.log, Now: f.clock.Now})
	require.NoError(t, err)
	require.NoError(t, other.Load(ctx))

	assert.True(t, other.IsEnrolled(ctx, types.ModalityFingerprint, "u1"))
	assert.Equal(t, []types.Modality{types.ModalityFace}, other.EnrolledModalities(ctx, "u1"))

	status, err := other.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status[types.ModalityFace], 2)
}

func TestEnroll_WebAuthnIsAttested(t *testing.T) {
	rp, client := webauthntest.New(t)
	face := types.Capability{Modality: types.ModalityFace, NativeIdentifier: "webauthn.platform.face"}
	registry, err := provider.Build([]types.Capability{face}, provider.WebAuthnFactory(rp, client))
	require.NoError(t, err)

	log := audit.NewLog(10)
	m, err := NewManager(Params{Providers: registry, Store: newSecureStore(t), Policy: policy.Default(), Audit: log})
	require.NoError(t, err)

	rec, err := m.Enroll(context.Background(), types.ModalityFace, "u1", types.EnrollOptions{DisplayName: "User One"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.QualityScore)
	assert.True(t, m.IsEnrolled(context.Background(), types.ModalityFace, "u1"))
	assert.Equal(t, types.MethodWebAuthn, log.Export()[0].Metadata["method"])
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(Params{})
	assert.Error(t, err)
}
