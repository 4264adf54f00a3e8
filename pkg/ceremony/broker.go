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

// Package ceremony connects server-side WebAuthn ceremonies to a browser.
//
// A Broker implements webauthn.Client. Instead of talking to an
// authenticator it publishes each ceremony as a pending entry and suspends
// the caller until the browser posts the authenticator response, cancels
// the ceremony, or the caller's context ends. The HTTP handler in this
// package exposes the pending entries to the browser.
package ceremony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-biometrics/pkg/logging"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn"
)

var (
	// ErrNotFound is returned for an unknown or already finished ceremony.
	ErrNotFound = errors.New("ceremony not found")

	// ErrKindMismatch is returned when a response does not match the
	// ceremony kind.
	ErrKindMismatch = errors.New("ceremony kind mismatch")
)

// Kind is the type of a pending ceremony.
type Kind string

const (
	KindCreate Kind = "webauthn.create"
	KindGet    Kind = "webauthn.get"
)

type subjectKey struct{}

// WithSubject tags ctx with the user a ceremony is run for, so the browser
// of that user can find it.
func WithSubject(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, userID)
}

// Subject returns the user tagged by WithSubject.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

type outcome struct {
	creation  *protocol.ParsedCredentialCreationData
	assertion *protocol.ParsedCredentialAssertionData
	err       error
}

// Pending is a ceremony waiting for the browser.
type Pending struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Options is a *protocol.CredentialCreation or a
	// *protocol.CredentialAssertion, to be passed to
	// navigator.credentials.create or get.
	Options any `json:"options"`

	done chan outcome
}

// Broker is a webauthn.Client fed by HTTP.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*Pending
	logger  *slog.Logger
	now     func() time.Time
}

var _ webauthn.Client = (*Broker)(nil)

// NewBroker creates a Broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		pending: make(map[string]*Pending),
		logger:  logging.OrDiscard(logger).With("component", "ceremony"),
		now:     time.Now,
	}
}

// Create implements webauthn.Client.
func (b *Broker) Create(ctx context.Context, options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error) {
	out, err := b.wait(ctx, KindCreate, options)
	if err != nil {
		return nil, err
	}
	return out.creation, nil
}

// Get implements webauthn.Client.
func (b *Broker) Get(ctx context.Context, options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error) {
	out, err := b.wait(ctx, KindGet, options)
	if err != nil {
		return nil, err
	}
	return out.assertion, nil
}

func (b *Broker) wait(ctx context.Context, kind Kind, options any) (outcome, error) {
	p := &Pending{
		ID:        uuid.NewString(),
		Subject:   Subject(ctx),
		Kind:      kind,
		CreatedAt: b.now().UTC(),
		Options:   options,
		done:      make(chan outcome, 1),
	}

	b.mu.Lock()
	b.pending[p.ID] = p
	b.mu.Unlock()
	b.logger.DebugContext(ctx, "ceremony published", "id", p.ID, "kind", kind)

	select {
	case out := <-p.done:
		return out, out.err
	case <-ctx.Done():
		b.remove(p.ID)
		return outcome{}, ctx.Err()
	}
}

func (b *Broker) remove(id string) *Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return p
}

// List returns the pending ceremonies of subject, oldest first. An empty
// subject lists every ceremony.
func (b *Broker) List(subject string) []*Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Pending, 0, len(b.pending))
	for _, p := range b.pending {
		if subject == "" || p.Subject == subject {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Lookup returns the pending ceremony with id.
func (b *Broker) Lookup(id string) (*Pending, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Complete parses the browser's credential JSON and resumes the waiting
// ceremony. A response that cannot be parsed fails the ceremony with
// types.ErrVerificationFailed.
func (b *Broker) Complete(id string, body io.Reader) error {
	p, err := b.Lookup(id)
	if err != nil {
		return err
	}

	var out outcome
	switch p.Kind {
	case KindCreate:
		out.creation, err = protocol.ParseCredentialCreationResponseBody(body)
	case KindGet:
		out.assertion, err = protocol.ParseCredentialRequestResponseBody(body)
	default:
		return ErrKindMismatch
	}
	if err != nil {
		out = outcome{err: fmt.Errorf("%w: %v", types.ErrVerificationFailed, err)}
	}

	if b.remove(id) == nil {
		return ErrNotFound
	}
	p.done <- out
	if out.err != nil {
		return fmt.Errorf("%w: %v", webauthn.ErrInvalidResponse, err)
	}
	return nil
}

// Cancel resumes the waiting ceremony with types.ErrUserCancelled, as when
// the user dismisses the browser prompt.
func (b *Broker) Cancel(id string) error {
	p := b.remove(id)
	if p == nil {
		return ErrNotFound
	}
	p.done <- outcome{err: fmt.Errorf("%w: dismissed in browser", types.ErrUserCancelled)}
	return nil
}

// Len returns the number of pending ceremonies.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
