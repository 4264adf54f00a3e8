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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

func newEvent(i int) *Event {
	return &Event{
		Type:     TypeAuthentication,
		Modality: types.ModalityFace,
		UserID:   fmt.Sprintf("user-%d", i),
		Success:  i%2 == 0,
	}
}

func TestLog_AssignsIDAndTimestamp(t *testing.T) {
	l := NewLog(10)
	l.Log(context.Background(), &Event{Type: TypeEnrollment, UserID: "u1"})

	events := l.Export()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestLog_NilEventIgnored(t *testing.T) {
	l := NewLog(10)
	l.Log(context.Background(), nil)
	assert.Equal(t, 0, l.Len())
}

func TestLog_FIFOBound(t *testing.T) {
	const capacity = 5
	const extra = 3

	l := NewLog(capacity)
	for i := 0; i < capacity+extra; i++ {
		l.Log(context.Background(), newEvent(i))
	}

	assert.Equal(t, capacity, l.Len())
	events := l.Export()
	require.Len(t, events, capacity)

	// The oldest `extra` events are gone, order is preserved.
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("user-%d", i+extra), e.UserID)
	}

	total, evicted := l.Stats()
	assert.Equal(t, uint64(capacity+extra), total)
	assert.Equal(t, uint64(extra), evicted)
}

func TestLog_DefaultCapacity(t *testing.T) {
	l := NewLog(0)
	assert.Equal(t, DefaultCapacity, l.Capacity())
}

func TestLog_ExportReturnsCopy(t *testing.T) {
	l := NewLog(10)
	l.Log(context.Background(), &Event{UserID: "u1", Metadata: map[string]any{"k": "v"}})

	events := l.Export()
	events[0].UserID = "mutated"
	events[0].Metadata["k"] = "mutated"

	again := l.Export()
	assert.Equal(t, "u1", again[0].UserID)
	assert.Equal(t, "v", again[0].Metadata["k"])
}

func TestLog_CallerMutationDoesNotLeak(t *testing.T) {
	l := NewLog(10)
	e := &Event{UserID: "u1"}
	l.Log(context.Background(), e)
	e.UserID = "changed"

	assert.Equal(t, "u1", l.Export()[0].UserID)
}

func TestLog_Clear(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Log(context.Background(), newEvent(i))
	}
	assert.Equal(t, 3, l.Clear())
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Export())

	l.Log(context.Background(), newEvent(9))
	require.Len(t, l.Export(), 1)
	assert.Equal(t, "user-9", l.Export()[0].UserID)
}

func TestLog_Query(t *testing.T) {
	l := NewLog(20)
	ctx := context.Background()
	l.Log(ctx, &Event{Type: TypeEnrollment, UserID: "a", Success: true, Severity: SeverityInfo})
	l.Log(ctx, &Event{Type: TypeAuthentication, UserID: "a", Success: false, Severity: SeverityCritical})
	l.Log(ctx, &Event{Type: TypeAuthentication, UserID: "b", Success: false, Severity: SeverityNotice})
	l.Log(ctx, &Event{Type: TypeAuthentication, UserID: "a", Success: true, Severity: SeverityInfo})

	failed := false
	tests := []struct {
		name   string
		filter *Filter
		want   int
	}{
		{"nil filter", nil, 4},
		{"by type", &Filter{Type: TypeAuthentication}, 3},
		{"by user", &Filter{UserID: "a"}, 3},
		{"by severity", &Filter{Severities: []EventSeverity{SeverityCritical}}, 1},
		{"failures", &Filter{Success: &failed}, 2},
		{"limit keeps newest", &Filter{UserID: "a", Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, l.Query(tt.filter), tt.want)
		})
	}

	newest := l.Query(&Filter{UserID: "a", Limit: 1})
	assert.True(t, newest[0].Success)
}

func TestLog_Concurrent(t *testing.T) {
	l := NewLog(50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Log(context.Background(), newEvent(n*100+j))
				_ = l.Export()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
	total, _ := l.Stats()
	assert.Equal(t, uint64(200), total)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		err  error
		want EventSeverity
	}{
		{nil, SeverityInfo},
		{types.ErrLockedOut, SeverityCritical},
		{types.ErrChallengeMismatch, SeverityCritical},
		{types.NewError("authenticate", types.ModalityFace, types.ErrLowConfidence), SeverityCritical},
		{types.ErrUserCancelled, SeverityNotice},
		{types.ErrTimeout, SeverityNotice},
		{types.ErrLowQualitySample, SeverityNotice},
		{types.ErrNotEnrolled, SeverityNotice},
		{types.ErrAlreadyEnrolled, SeverityNotice},
		{types.ErrStorageFailure, SeverityWarn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.err), "%v", tt.err)
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	l := NewLog(10, WithSink(NewSlogSink(logger)))
	l.Log(context.Background(), &Event{
		Type:     TypeAuthentication,
		Modality: types.ModalityFingerprint,
		UserID:   "u1",
		Severity: SeverityCritical,
		Reason:   "locked_out",
	})

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"reason":"locked_out"`)
	assert.Contains(t, out, `"component":"audit"`)
}
