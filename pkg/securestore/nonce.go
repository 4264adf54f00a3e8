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
	"sync"
)

// nonceWindow is how many recent nonces a store remembers. Older nonces
// are forgotten, so a repeat is only caught within the last nonceWindow
// encryptions. Random nonces make a repeat unlikely; the window bounds
// memory for long-running processes.
const nonceWindow = 1 << 16

// nonceTracker remembers the most recent nonces used under the current key
// and rejects repeats among them. It is a ring buffer with a set index.
type nonceTracker struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	ring   []string
	next   int
	window int
}

func newNonceTracker(window int) *nonceTracker {
	return &nonceTracker{
		seen:   make(map[string]struct{}, window),
		ring:   make([]string, 0, window),
		window: window,
	}
}

// checkAndRecord records nonce, failing if it is in the window.
func (nt *nonceTracker) checkAndRecord(nonce []byte) error {
	k := string(nonce)

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if _, exists := nt.seen[k]; exists {
		return ErrNonceReuse
	}
	if len(nt.ring) < nt.window {
		nt.ring = append(nt.ring, k)
	} else {
		delete(nt.seen, nt.ring[nt.next])
		nt.ring[nt.next] = k
		nt.next = (nt.next + 1) % nt.window
	}
	nt.seen[k] = struct{}{}
	return nil
}

func (nt *nonceTracker) count() int {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return len(nt.seen)
}
