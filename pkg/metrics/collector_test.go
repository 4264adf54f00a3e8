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

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	Enable()

	Observe(Snapshot{
		EnrolledCount:       3,
		AvailableModalities: 2,
		HardwareSecure:      true,
		AuditSize:           10,
		AuditEvicted:        4,
	})

	if got := testutil.ToFloat64(EnrollmentsActive); got != 3 {
		t.Errorf("Expected 3 active enrollments, got %v", got)
	}
	if got := testutil.ToFloat64(ModalitiesAvailable); got != 2 {
		t.Errorf("Expected 2 modalities, got %v", got)
	}
	if got := testutil.ToFloat64(HardwareSecure); got != 1 {
		t.Errorf("Expected hardware_secure 1, got %v", got)
	}
	if got := testutil.ToFloat64(AuditEvents); got != 10 {
		t.Errorf("Expected 10 audit events, got %v", got)
	}
	if got := testutil.ToFloat64(AuditEvictedTotal); got != 4 {
		t.Errorf("Expected 4 evicted events, got %v", got)
	}
}

func TestCollector_SamplesSource(t *testing.T) {
	Enable()

	calls := make(chan struct{}, 8)
	source := func(context.Context) Snapshot {
		select {
		case calls <- struct{}{}:
		default:
		}
		return Snapshot{EnrolledCount: 7}
	}

	collector := StartCollector(context.Background(), 10*time.Millisecond, source)
	defer collector.Stop()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("Expected collector to sample the source")
	}

	collector.Collect()
	if got := testutil.ToFloat64(EnrollmentsActive); got != 7 {
		t.Errorf("Expected 7 active enrollments, got %v", got)
	}
	if got := testutil.ToFloat64(Goroutines); got <= 0 {
		t.Errorf("Expected goroutine gauge to be set, got %v", got)
	}
}

func TestCollector_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	collector := NewCollector(ctx, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		collector.Start()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected collector to stop when the context is cancelled")
	}
}
