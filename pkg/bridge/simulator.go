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

package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// EnrollScript scripts one biometric.enroll response.
type EnrollScript struct {
	Samples []float64
	Delay   time.Duration
	Err     error
}

// AuthScript scripts one biometric.authenticate response.
type AuthScript struct {
	Success    bool
	Confidence float64
	Liveness   bool
	Delay      time.Duration
	Err        error
}

// Simulator is a scripted in-process Bridge for development and tests.
// Queued scripts are consumed in order; when a queue is empty the default
// script is used.
type Simulator struct {
	mu             sync.Mutex
	os             string
	supported      map[string]bool
	secureHardware bool
	enrollQueue    []EnrollScript
	authQueue      []AuthScript
	defaultEnroll  EnrollScript
	defaultAuth    AuthScript
	templates      map[string]string
	secure         map[string]string
	calls          map[string]int
	ready          bool
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithSupported marks modalities as supported by the simulated hardware.
func WithSupported(modalities ...string) SimulatorOption {
	return func(s *Simulator) {
		for _, m := range modalities {
			s.supported[m] = true
		}
	}
}

// WithSecureHardware sets whether a secure enclave/TEE is reported.
func WithSecureHardware(available bool) SimulatorOption {
	return func(s *Simulator) { s.secureHardware = available }
}

// WithDefaultEnroll sets the fallback enroll script.
func WithDefaultEnroll(script EnrollScript) SimulatorOption {
	return func(s *Simulator) { s.defaultEnroll = script }
}

// WithDefaultAuth sets the fallback authenticate script.
func WithDefaultAuth(script AuthScript) SimulatorOption {
	return func(s *Simulator) { s.defaultAuth = script }
}

// NewSimulator creates a simulator. By default it supports fingerprint and
// face, reports secure hardware, and succeeds every ceremony with good
// quality and confidence.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		supported:      map[string]bool{},
		secureHardware: true,
		defaultEnroll:  EnrollScript{Samples: []float64{0.92, 0.9, 0.94}},
		defaultAuth:    AuthScript{Success: true, Confidence: 0.97, Liveness: true},
		templates:      map[string]string{},
		secure:         map[string]string{},
		calls:          map[string]int{},
		ready:          true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.supported) == 0 {
		s.supported["fingerprint"] = true
		s.supported["face"] = true
	}
	return s
}

// QueueEnroll appends enroll scripts.
func (s *Simulator) QueueEnroll(scripts ...EnrollScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollQueue = append(s.enrollQueue, scripts...)
}

// QueueAuth appends authenticate scripts.
func (s *Simulator) QueueAuth(scripts ...AuthScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authQueue = append(s.authQueue, scripts...)
}

// SetReady controls the biometric.status response.
func (s *Simulator) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Calls returns how many times method has been invoked.
func (s *Simulator) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Call implements Bridge.
func (s *Simulator) Call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()

	modality, _ := args["modality"].(string)

	switch method {
	case MethodIsSupported:
		s.mu.Lock()
		defer s.mu.Unlock()
		return map[string]any{"available": s.supported[modality]}, nil

	case MethodSecureHardware:
		s.mu.Lock()
		defer s.mu.Unlock()
		return map[string]any{"available": s.secureHardware}, nil

	case MethodEnroll:
		script := s.nextEnroll()
		if err := wait(ctx, script.Delay); err != nil {
			return nil, err
		}
		if script.Err != nil {
			return nil, script.Err
		}
		id := templateID()
		s.mu.Lock()
		s.templates[id] = modality
		s.mu.Unlock()
		samples := make([]any, len(script.Samples))
		for i, q := range script.Samples {
			samples[i] = q
		}
		return map[string]any{"success": true, "templateId": id, "samples": samples}, nil

	case MethodAuthenticate:
		script := s.nextAuth()
		if err := wait(ctx, script.Delay); err != nil {
			return nil, err
		}
		if script.Err != nil {
			return nil, script.Err
		}
		return map[string]any{
			"success":    script.Success,
			"templateId": args["templateId"],
			"challenge":  args["challenge"],
			"confidence": script.Confidence,
			"liveness":   script.Liveness,
		}, nil

	case MethodDeleteTemplate:
		id, _ := args["templateId"].(string)
		s.mu.Lock()
		delete(s.templates, id)
		s.mu.Unlock()
		return map[string]any{"success": true}, nil

	case MethodRefreshTemplate:
		id, _ := args["templateId"].(string)
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.templates[id]; !ok {
			return map[string]any{"success": false}, nil
		}
		return map[string]any{"success": true, "templateId": id}, nil

	case MethodStatus:
		s.mu.Lock()
		defer s.mu.Unlock()
		msg := "ok"
		if !s.ready {
			msg = "sensor unavailable"
		}
		return map[string]any{"ready": s.ready, "message": msg}, nil

	case MethodSecureStorageSet:
		key, _ := args["key"].(string)
		value, _ := args["value"].(string)
		if syncable, _ := args["synchronizable"].(bool); syncable {
			return nil, fmt.Errorf("simulator: synchronizable storage refused")
		}
		s.mu.Lock()
		s.secure[key] = value
		s.mu.Unlock()
		return map[string]any{"success": true}, nil

	case MethodSecureStorageGet:
		key, _ := args["key"].(string)
		s.mu.Lock()
		defer s.mu.Unlock()
		value, ok := s.secure[key]
		return map[string]any{"found": ok, "value": value}, nil

	case MethodSecureStorageRemove:
		key, _ := args["key"].(string)
		s.mu.Lock()
		delete(s.secure, key)
		s.mu.Unlock()
		return map[string]any{"success": true}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, method)
}

func (s *Simulator) nextEnroll() EnrollScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.enrollQueue) == 0 {
		return s.defaultEnroll
	}
	script := s.enrollQueue[0]
	s.enrollQueue = s.enrollQueue[1:]
	return script
}

func (s *Simulator) nextAuth() AuthScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.authQueue) == 0 {
		return s.defaultAuth
	}
	script := s.authQueue[0]
	s.authQueue = s.authQueue[1:]
	return script
}

// wait simulates a user prompt that can be dismissed via ctx.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func templateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "tmpl-" + hex.EncodeToString(b)
}
