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

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
)

// DefaultCapacity is the number of events retained when no capacity is given.
const DefaultCapacity = 1000

// Log is a bounded FIFO audit buffer. It is safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	events   []*Event
	head     int
	size     int
	total    uint64
	sinks    []Sink
	now      func() time.Time
	evicted  uint64
	capacity int
}

// Option configures a Log.
type Option func(*Log)

// WithSink adds a sink that receives every logged event.
func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog creates a log retaining at most capacity events.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		events:   make([]*Event, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends an event, evicting the oldest one when the buffer is full.
// A nil event is ignored.
func (l *Log) Log(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = correlation.GetCorrelationID(ctx)
	}
	stored := event.Clone()

	l.mu.Lock()
	idx := (l.head + l.size) % l.capacity
	if l.size == l.capacity {
		// Overwrite the oldest slot and advance the head.
		l.head = (l.head + 1) % l.capacity
		l.evicted++
	} else {
		l.size++
	}
	l.events[idx] = stored
	l.total++
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		_ = s.Write(ctx, stored.Clone())
	}
}

// Export returns a copy of all retained events, oldest first.
func (l *Log) Export() []*Event {
	return l.Query(nil)
}

// Query returns copies of the retained events matching the filter, oldest
// first. A nil filter matches everything.
func (l *Log) Query(filter *Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		e := l.events[(l.head+i)%l.capacity]
		if filter != nil && !filter.matches(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	if filter != nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Clear drops every retained event. Reserved for compliance tooling.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.size
	l.events = make([]*Event, l.capacity)
	l.head = 0
	l.size = 0
	return n
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of retained events.
func (l *Log) Capacity() int {
	return l.capacity
}

// Stats returns the total number of events logged and evicted since creation.
func (l *Log) Stats() (total, evicted uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total, l.evicted
}
