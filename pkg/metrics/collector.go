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
	"runtime"
	"time"
)

// Snapshot is the subsystem state sampled by the collector.
type Snapshot struct {
	EnrolledCount       int
	AvailableModalities int
	HardwareSecure      bool
	AuditSize           int
	AuditEvicted        uint64
}

// Source returns the current subsystem state.
type Source func(ctx context.Context) Snapshot

// Collector periodically samples subsystem and runtime state into gauges.
type Collector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	source   Source
	started  time.Time
}

// NewCollector creates a collector sampling source at interval. source may
// be nil, in which case only runtime gauges are updated.
//
// Example:
//
//	collector := metrics.NewCollector(ctx, 30*time.Second, svc.MetricsSnapshot)
//	go collector.Start()
//	defer collector.Stop()
func NewCollector(ctx context.Context, interval time.Duration, source Source) *Collector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &Collector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		source:   source,
		started:  time.Now(),
	}
}

// Start collects at the configured interval until Stop is called or the
// parent context is cancelled. It blocks.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Stop halts the collector.
func (c *Collector) Stop() {
	c.cancel()
}

// Collect performs a single sample.
func (c *Collector) Collect() {
	if !IsEnabled() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))
	ServerUptime.Set(time.Since(c.started).Seconds())

	if c.source == nil {
		return
	}
	Observe(c.source(c.ctx))
}

// Observe writes a snapshot into the gauges.
func Observe(s Snapshot) {
	if !IsEnabled() {
		return
	}
	EnrollmentsActive.Set(float64(s.EnrolledCount))
	ModalitiesAvailable.Set(float64(s.AvailableModalities))
	AuditEvents.Set(float64(s.AuditSize))
	AuditEvictedTotal.Set(float64(s.AuditEvicted))
	hw := 0.0
	if s.HardwareSecure {
		hw = 1.0
	}
	HardwareSecure.Set(hw)
}

// StartCollector creates and starts a collector in the background.
func StartCollector(ctx context.Context, interval time.Duration, source Source) *Collector {
	c := NewCollector(ctx, interval, source)
	go c.Start()
	return c
}
