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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
	"github.com/jeremyhahn/go-biometrics/pkg/storage"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// StatusKey is the secure storage key of the enrollment status map.
const StatusKey = "enrollment_status"

// StatusEntry is the status map value for one (modality, user) pair.
type StatusEntry struct {
	Enrolled   bool      `json:"enrolled"`
	EnrolledAt time.Time `json:"enrolled_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the entry is enrolled and unexpired at now.
func (e StatusEntry) Active(now time.Time) bool {
	return e.Enrolled && now.Before(e.ExpiresAt)
}

// StatusMap is the persisted enrollment_status map, keyed by modality then
// user ID.
type StatusMap map[types.Modality]map[string]StatusEntry

// clone returns a deep copy of the map.
func (s StatusMap) clone() StatusMap {
	out := make(StatusMap, len(s))
	for m, users := range s {
		inner := make(map[string]StatusEntry, len(users))
		for u, e := range users {
			inner[u] = e
		}
		out[m] = inner
	}
	return out
}

func (s StatusMap) get(m types.Modality, userID string) (StatusEntry, bool) {
	e, ok := s[m][userID]
	return e, ok
}

func (s StatusMap) set(m types.Modality, userID string, e StatusEntry) {
	if s[m] == nil {
		s[m] = make(map[string]StatusEntry)
	}
	s[m][userID] = e
}

// RecordKey returns the secure storage key of the enrollment record for a
// (modality, user) pair.
func RecordKey(m types.Modality, userID string) string {
	return "enrollment/" + m.String() + "/" + storage.Segment(userID)
}

// PairKey returns the lock key for a (modality, user) pair. Enrollment and
// authentication share it.
func PairKey(m types.Modality, userID string) string {
	return m.String() + ":" + storage.Segment(userID)
}

func storageFailure(err error) error {
	return fmt.Errorf("%w: %v", types.ErrStorageFailure, err)
}

// loadRecord returns the stored record, or nil when none exists.
func (m *Manager) loadRecord(ctx context.Context, mod types.Modality, userID string) (*types.EnrollmentRecord, error) {
	var rec types.EnrollmentRecord
	err := securestore.RetrieveJSON(ctx, m.store, RecordKey(mod, userID), &rec)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageFailure(err)
	}
	return &rec, nil
}

// loadStatus returns the cached status map, reading it from storage on
// first use. Callers hold statusMu.
func (m *Manager) loadStatus(ctx context.Context) (StatusMap, error) {
	if m.status != nil {
		return m.status, nil
	}
	status := StatusMap{}
	err := securestore.RetrieveJSON(ctx, m.store, StatusKey, &status)
	if err != nil && !errors.Is(err, securestore.ErrNotFound) {
		return nil, storageFailure(err)
	}
	m.status = status
	return status, nil
}

// snapshot returns a copy of the status map.
func (m *Manager) snapshot(ctx context.Context) (StatusMap, error) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	status, err := m.loadStatus(ctx)
	if err != nil {
		return nil, err
	}
	return status.clone(), nil
}

// updateStatus applies fn to a copy of the status map and persists it. The
// cache is replaced only after the write succeeded.
func (m *Manager) updateStatus(ctx context.Context, fn func(StatusMap)) error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	current, err := m.loadStatus(ctx)
	if err != nil {
		return err
	}
	next := current.clone()
	fn(next)
	if err := securestore.StoreJSON(ctx, m.store, StatusKey, next); err != nil {
		return storageFailure(err)
	}
	m.status = next
	return nil
}

// persist writes rec and then its status entry. When the status write
// fails, the record write is undone so storage never holds a record the
// status map does not know about.
func (m *Manager) persist(ctx context.Context, prev, rec *types.EnrollmentRecord) error {
	key := RecordKey(rec.Modality, rec.UserID)
	if err := securestore.StoreJSON(ctx, m.store, key, rec); err != nil {
		return storageFailure(err)
	}

	err := m.updateStatus(ctx, func(s StatusMap) {
		s.set(rec.Modality, rec.UserID, StatusEntry{
			Enrolled:   rec.RevokedAt == nil,
			EnrolledAt: rec.EnrolledAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	})
	if err == nil {
		return nil
	}

	rollbackCtx := context.WithoutCancel(ctx)
	var rbErr error
	if prev != nil {
		rbErr = securestore.StoreJSON(rollbackCtx, m.store, key, prev)
	} else {
		rbErr = m.store.Remove(rollbackCtx, key)
	}
	if rbErr != nil {
		m.logger.ErrorContext(ctx, "enrollment record rollback failed",
			"modality", rec.Modality, "error", rbErr)
	}
	return err
}
