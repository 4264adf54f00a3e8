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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	// Metrics should be enabled by default
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()
	FailuresTotal.Reset()

	RecordOperation(OpEnroll, "fingerprint", "", 0.5)

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpEnroll, "fingerprint", StatusSuccess)); got != 1 {
		t.Errorf("Expected 1 successful enroll, got %v", got)
	}
	if count := testutil.CollectAndCount(FailuresTotal); count != 0 {
		t.Errorf("Expected no failures recorded, got %d", count)
	}

	RecordOperation(OpAuthenticate, "face", "challenge_mismatch", 0.1)

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpAuthenticate, "face", StatusError)); got != 1 {
		t.Errorf("Expected 1 failed authenticate, got %v", got)
	}
	if got := testutil.ToFloat64(FailuresTotal.WithLabelValues(OpAuthenticate, "face", "challenge_mismatch")); got != 1 {
		t.Errorf("Expected 1 challenge_mismatch failure, got %v", got)
	}
	if count := testutil.CollectAndCount(OperationDuration); count != 2 {
		t.Errorf("Expected 2 histogram series, got %d", count)
	}
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	OperationsTotal.Reset()

	RecordOperation(OpEnroll, "face", "", 0.5)

	if count := testutil.CollectAndCount(OperationsTotal); count != 0 {
		t.Errorf("Expected 0 operations when disabled, got %d", count)
	}
}

func TestRecordLockout(t *testing.T) {
	Enable()
	LockoutsTotal.Reset()

	RecordLockout("fingerprint")
	RecordLockout("fingerprint")

	if got := testutil.ToFloat64(LockoutsTotal.WithLabelValues("fingerprint")); got != 2 {
		t.Errorf("Expected 2 lockouts, got %v", got)
	}
}

func TestSetProviderHealth(t *testing.T) {
	Enable()
	ProviderHealthy.Reset()

	SetProviderHealth("face", true)
	if got := testutil.ToFloat64(ProviderHealthy.WithLabelValues("face")); got != 1 {
		t.Errorf("Expected healthy gauge 1, got %v", got)
	}

	SetProviderHealth("face", false)
	if got := testutil.ToFloat64(ProviderHealthy.WithLabelValues("face")); got != 0 {
		t.Errorf("Expected healthy gauge 0, got %v", got)
	}
}
