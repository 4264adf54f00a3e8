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

package webauthn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
)

// Client performs the browser side of a ceremony: it hands the options to a
// platform authenticator and returns the parsed response.
type Client interface {
	Create(ctx context.Context, options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error)
	Get(ctx context.Context, options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error)
}

// VirtualClient is a Client backed by a software platform authenticator.
// It is used by the simulator, the CLI demo and tests.
type VirtualClient struct {
	mu            sync.Mutex
	rp            virtualwebauthn.RelyingParty
	authenticator virtualwebauthn.Authenticator
	credentials   map[string]*virtualwebauthn.Credential

	// Delay is applied before every ceremony and honors ctx.
	Delay time.Duration

	// TamperAssertion, when set, may mutate an assertion after it was
	// produced and before it is returned.
	TamperAssertion func(*protocol.ParsedCredentialAssertionData)
}

// NewVirtualClient creates a VirtualClient for the configured relying party,
// presenting the first configured origin.
func NewVirtualClient(cfg *Config) *VirtualClient {
	origin := ""
	if len(cfg.RPOrigins) > 0 {
		origin = cfg.RPOrigins[0]
	}
	return NewVirtualClientWithOrigin(cfg, origin)
}

// NewVirtualClientWithOrigin creates a VirtualClient that reports origin in
// its client data.
func NewVirtualClientWithOrigin(cfg *Config, origin string) *VirtualClient {
	return &VirtualClient{
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: origin,
		},
		authenticator: virtualwebauthn.NewAuthenticator(),
		credentials:   make(map[string]*virtualwebauthn.Credential),
	}
}

// Create registers a new EC2 credential with the virtual authenticator.
func (c *VirtualClient) Create(ctx context.Context, options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error) {
	_, parsed, err := c.attest(ctx, options)
	return parsed, err
}

// CreateJSON is Create returning the PublicKeyCredential JSON a browser
// would post.
func (c *VirtualClient) CreateJSON(ctx context.Context, options *protocol.CredentialCreation) (string, error) {
	raw, _, err := c.attest(ctx, options)
	return raw, err
}

func (c *VirtualClient) attest(ctx context.Context, options *protocol.CredentialCreation) (string, *protocol.ParsedCredentialCreationData, error) {
	if err := c.wait(ctx); err != nil {
		return "", nil, err
	}
	optionsJSON, err := json.Marshal(options.Response)
	if err != nil {
		return "", nil, fmt.Errorf("marshal creation options: %w", err)
	}
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if err != nil {
		return "", nil, fmt.Errorf("parse creation options: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	attestation := virtualwebauthn.CreateAttestationResponse(c.rp, c.authenticator, credential, *parsedOptions)

	parsed, err := protocol.ParseCredentialCreationResponseBody(strings.NewReader(attestation))
	if err != nil {
		return "", nil, fmt.Errorf("parse attestation: %w", err)
	}
	c.authenticator.AddCredential(credential)
	c.credentials[string(parsed.RawID)] = &credential
	return attestation, parsed, nil
}

// Get produces an assertion with the first allowed credential this client
// holds.
func (c *VirtualClient) Get(ctx context.Context, options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error) {
	assertion, err := c.assert(ctx, options)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(strings.NewReader(assertion))
	if err != nil {
		return nil, fmt.Errorf("parse assertion: %w", err)
	}
	if c.TamperAssertion != nil {
		c.TamperAssertion(parsed)
	}
	return parsed, nil
}

// GetJSON is Get returning the PublicKeyCredential JSON a browser would
// post. TamperAssertion is not applied.
func (c *VirtualClient) GetJSON(ctx context.Context, options *protocol.CredentialAssertion) (string, error) {
	return c.assert(ctx, options)
}

func (c *VirtualClient) assert(ctx context.Context, options *protocol.CredentialAssertion) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	optionsJSON, err := json.Marshal(options.Response)
	if err != nil {
		return "", fmt.Errorf("marshal assertion options: %w", err)
	}
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if err != nil {
		return "", fmt.Errorf("parse assertion options: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	credential := c.match(options.Response.AllowedCredentials)
	if credential == nil {
		return "", ErrCredentialNotFound
	}
	credential.Counter++
	return virtualwebauthn.CreateAssertionResponse(c.rp, c.authenticator, *credential, *parsedOptions), nil
}

func (c *VirtualClient) match(allowed []protocol.CredentialDescriptor) *virtualwebauthn.Credential {
	for _, d := range allowed {
		if cred, ok := c.credentials[string(d.CredentialID)]; ok {
			return cred
		}
	}
	return nil
}

func (c *VirtualClient) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
