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

package authn

import (
	"sync"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// counter is the failure history of one (user, modality) pair.
type counter struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Lockout tracks failed verification attempts per (user, modality) over a
// sliding window. MaxAttempts failures inside the window lock the pair out
// for the window duration. A success clears the pair.
type Lockout struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	counters    map[string]*counter
}

// NewLockout creates a Lockout.
func NewLockout(maxAttempts int, window time.Duration) *Lockout {
	return &Lockout{
		maxAttempts: maxAttempts,
		window:      window,
		counters:    make(map[string]*counter),
	}
}

// LockedUntil returns the lockout expiry for key, or the zero time when key
// is not locked out at now.
func (l *Lockout) LockedUntil(key string, now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return time.Time{}
	}
	if !c.lockedUntil.IsZero() && !now.Before(c.lockedUntil) {
		// The lockout elapsed; the pair starts over.
		delete(l.counters, key)
		return time.Time{}
	}
	return c.lockedUntil
}

// Record applies an attempt to the counter of key. It reports true when the
// attempt triggered a new lockout.
func (l *Lockout) Record(key string, attempt types.AuthenticationAttempt) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if attempt.Success {
		delete(l.counters, key)
		return false
	}

	c, ok := l.counters[key]
	if !ok {
		c = &counter{}
		l.counters[key] = c
	}
	if !c.lockedUntil.IsZero() {
		return false
	}

	cutoff := attempt.Timestamp.Add(-l.window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = append(kept, attempt.Timestamp)

	if len(c.failures) >= l.maxAttempts {
		c.lockedUntil = attempt.Timestamp.Add(l.window)
		c.failures = nil
		return true
	}
	return false
}

// Failures returns the number of failures counted for key at now.
func (l *Lockout) Failures(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return 0
	}
	cutoff := now.Add(-l.window)
	n := 0
	for _, t := range c.failures {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset clears every counter.
func (l *Lockout) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters = make(map[string]*counter)
}
