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

// Package metrics provides Prometheus instrumentation for the biometric
// subsystem. It exposes ceremony counters and latency histograms, security
// counters for lockouts and verification failures, and gauges describing
// enrollment and audit state.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all biometric metrics
	Namespace = "biometric"

	// Label names
	LabelOperation  = "operation"
	LabelModality   = "modality"
	LabelMethod     = "method"
	LabelStatus     = "status"
	LabelReason     = "reason"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpDetect       = "detect"
	OpEnroll       = "enroll"
	OpAuthenticate = "authenticate"
	OpRevoke       = "revoke"
	OpRefresh      = "refresh"
	OpHealthCheck  = "health_check"
)

var (
	// OperationsTotal tracks ceremonies by operation, modality and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of biometric operations by type, modality, and status",
		},
		[]string{LabelOperation, LabelModality, LabelStatus},
	)

	// OperationDuration tracks ceremony latency in seconds. Ceremonies wait
	// on a user prompt, so buckets reach the default policy timeout.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of biometric operations in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{LabelOperation, LabelModality},
	)

	// FailuresTotal tracks failed operations by reason (see types.Reason).
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Total number of failed biometric operations by reason",
		},
		[]string{LabelOperation, LabelModality, LabelReason},
	)

	// LockoutsTotal counts lockouts triggered per modality.
	LockoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "lockouts_total",
			Help:      "Total number of lockouts triggered by modality",
		},
		[]string{LabelModality},
	)

	// HTTPRequestsTotal tracks HTTP requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)

	// EnrollmentsActive is the number of active (user, modality) enrollments.
	EnrollmentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "enrollments_active",
			Help:      "Number of active enrollments",
		},
	)

	// ModalitiesAvailable is the number of modalities detected on the device.
	ModalitiesAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "modalities_available",
			Help:      "Number of biometric modalities available on the device",
		},
	)

	// HardwareSecure is 1 when a secure enclave or TEE was detected.
	HardwareSecure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "hardware_secure",
			Help:      "Indicates whether hardware-isolated storage is present (1) or not (0)",
		},
	)

	// AuditEvents is the number of events currently retained by the audit log.
	AuditEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "events",
			Help:      "Number of audit events currently retained",
		},
	)

	// AuditEvictedTotal counts events dropped from the audit ring.
	AuditEvictedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "evicted_total",
			Help:      "Total number of audit events evicted by the capacity bound",
		},
	)

	// ProviderHealthy indicates whether a provider is healthy (1) or unhealthy (0).
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "provider_healthy",
			Help:      "Indicates whether a provider is healthy (1) or unhealthy (0)",
		},
		[]string{LabelModality},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records a ceremony with its duration. reason is empty on
// success and otherwise the short failure reason.
//
// Example:
//
//	start := time.Now()
//	res, err := manager.Authenticate(ctx, req)
//	metrics.RecordOperation(metrics.OpAuthenticate, "face", types.Reason(err), time.Since(start).Seconds())
func RecordOperation(operation, modality, reason string, duration float64) {
	if !enabled.Load() {
		return
	}
	status := StatusSuccess
	if reason != "" {
		status = StatusError
		FailuresTotal.WithLabelValues(operation, modality, reason).Inc()
	}
	OperationsTotal.WithLabelValues(operation, modality, status).Inc()
	OperationDuration.WithLabelValues(operation, modality).Observe(duration)
}

// RecordLockout records a lockout being triggered.
func RecordLockout(modality string) {
	if !enabled.Load() {
		return
	}
	LockoutsTotal.WithLabelValues(modality).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// SetProviderHealth sets the health status of a provider.
func SetProviderHealth(modality string, healthy bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	ProviderHealthy.WithLabelValues(modality).Set(value)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
