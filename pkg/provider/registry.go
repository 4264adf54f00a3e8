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

package provider

import (
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// Factory builds the provider for a detected capability.
type Factory func(capability types.Capability) (Provider, error)

// Registry holds one provider per available modality.
type Registry struct {
	mu        sync.RWMutex
	providers map[types.Modality]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[types.Modality]Provider)}
}

// Build creates a registry with one provider per capability.
func Build(capabilities []types.Capability, factory Factory) (*Registry, error) {
	r := NewRegistry()
	for _, c := range capabilities {
		p, err := factory(c)
		if err != nil {
			return nil, fmt.Errorf("build %s provider: %w", c.Modality, err)
		}
		r.Register(p)
	}
	return r, nil
}

// Register adds p, replacing any provider for the same modality.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Metadata().Modality] = p
}

// Get returns the provider for m. Fails with types.ErrUnsupportedModality
// when m is not available.
func (r *Registry) Get(m types.Modality) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[m]
	if !ok {
		return nil, types.NewError("get provider", m, types.ErrUnsupportedModality)
	}
	return p, nil
}

// Has reports whether a provider exists for m.
func (r *Registry) Has(m types.Modality) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[m]
	return ok
}

// Modalities returns the available modalities in priority order.
func (r *Registry) Modalities() []types.Modality {
	r.mu.RLock()
	out := make([]types.Modality, 0, len(r.providers))
	for m := range r.providers {
		out = append(out, m)
	}
	r.mu.RUnlock()
	types.SortByPriority(out)
	return out
}

// Providers returns every provider in priority order.
func (r *Registry) Providers() []Provider {
	mods := r.Modalities()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(mods))
	for _, m := range mods {
		if p, ok := r.providers[m]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
