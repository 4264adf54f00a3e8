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

// Package health reports liveness and readiness of the biometric subsystem.
//
// Readiness runs every registered check concurrently, each bounded by the
// checker timeout. Provider checks call Provider.CheckHealth and storage
// checks round-trip a probe value through the secure store.
package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-biometrics/pkg/metrics"
	"github.com/jeremyhahn/go-biometrics/pkg/provider"
	"github.com/jeremyhahn/go-biometrics/pkg/securestore"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works with reduced capability.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 5 * time.Second

// ProbeKey is the secure store key written by storage checks.
const ProbeKey = "health/probe"

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Report aggregates every readiness check.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
	Uptime time.Duration `json:"uptime"`
}

// CheckFunc performs one check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker holds the registered readiness checks.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	timeout   time.Duration
	checks    map[string]CheckFunc
}

// NewChecker creates a checker. A zero timeout uses DefaultCheckTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// Register adds a check, replacing any check with the same name.
func (c *Checker) Register(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Unregister removes a check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkStarted marks initialization complete. Readiness fails until then.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted marks the service as not started, used during shutdown.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// IsStarted reports whether MarkStarted was called.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the checker has existed.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startTime)
}

// Live reports process liveness. It only fails when the process must be
// restarted, which never happens for a running checker.
func (c *Checker) Live(context.Context) CheckResult {
	return CheckResult{Name: "liveness", Status: StatusHealthy, Message: "alive"}
}

// Ready runs every check concurrently and aggregates the results. A checker
// that has not been started reports unhealthy without running checks.
func (c *Checker) Ready(ctx context.Context) Report {
	if !c.IsStarted() {
		return Report{
			Status: StatusUnhealthy,
			Checks: []CheckResult{{Name: "startup", Status: StatusUnhealthy, Message: "initialization not complete"}},
			Uptime: c.Uptime(),
		}
	}

	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make([]CheckFunc, 0, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i := range checks {
		g.Go(func() error {
			results[i] = c.run(gctx, names[i], checks[i])
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return Report{Status: AggregateStatus(results), Checks: results, Uptime: c.Uptime()}
}

func (c *Checker) run(ctx context.Context, name string, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result := check(ctx)
	result.Latency = time.Since(start)
	if result.Name == "" {
		result.Name = name
	}
	if result.Status == "" {
		result.Status = StatusHealthy
	}
	return result
}

// IsHealthy reports whether every readiness check passes.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return c.Ready(ctx).Status == StatusHealthy
}

// AggregateStatus returns unhealthy if any result is unhealthy, degraded if
// any is degraded, and healthy otherwise.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// ProviderCheck checks a biometric provider. An unhealthy provider degrades
// readiness since the remaining modalities keep working.
func ProviderCheck(p provider.Provider) CheckFunc {
	md := p.Metadata()
	name := "provider." + md.Modality.String()
	return func(ctx context.Context) CheckResult {
		err := p.CheckHealth(ctx)
		metrics.SetProviderHealth(md.Modality.String(), err == nil)
		if err != nil {
			return CheckResult{Name: name, Status: StatusDegraded, Message: md.Method, Error: err.Error()}
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: md.Method}
	}
}

// StorageCheck round-trips a probe value through store. Storage failure
// makes the service unready.
func StorageCheck(store securestore.Store) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := probe(ctx, store); err != nil {
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: err.Error()}
		}
		msg := "software"
		if store.HardwareBacked() {
			msg = "hardware-backed"
		}
		return CheckResult{Name: "storage", Status: StatusHealthy, Message: msg}
	}
}

func probe(ctx context.Context, store securestore.Store) error {
	want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := store.Store(ctx, ProbeKey, want); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	got, err := store.Retrieve(ctx, ProbeKey)
	if err != nil {
		return fmt.Errorf("read probe: %w", err)
	}
	if !bytes.Equal(got, want) {
		return errors.New("probe value mismatch")
	}
	if err := store.Remove(ctx, ProbeKey); err != nil {
		return fmt.Errorf("remove probe: %w", err)
	}
	return nil
}
