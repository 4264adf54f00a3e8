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

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/correlation"
	"github.com/jeremyhahn/go-biometrics/pkg/health"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Uptime  time.Duration        `json:"uptime,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// AvailabilityResponse describes what the server's device offers.
type AvailabilityResponse struct {
	Available      bool             `json:"available"`
	Modalities     []types.Modality `json:"modalities"`
	Method         string           `json:"method"`
	HardwareSecure bool             `json:"hardware_secure"`
}

// AuditResponse is an audit query result.
type AuditResponse struct {
	Events   []*audit.Event `json:"events"`
	Total    uint64         `json:"total"`
	Evicted  uint64         `json:"evicted"`
	Capacity int            `json:"capacity"`
}

type errorBody struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Health returns the readiness report. A degraded or unhealthy server is
// not an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	status, err := c.do(ctx, http.MethodGet, "/health/ready", nil, &resp)
	if err != nil && status != http.StatusServiceUnavailable {
		return nil, err
	}
	return &resp, nil
}

// Availability reports the modalities the server's device supports.
func (c *Client) Availability(ctx context.Context) (*AvailabilityResponse, error) {
	var resp AvailabilityResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/biometrics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Capabilities lists the device capabilities with the user's enrollment flags.
func (c *Client) Capabilities(ctx context.Context, userID string) ([]types.Capability, error) {
	var resp struct {
		Capabilities []types.Capability `json:"capabilities"`
	}
	if _, err := c.do(ctx, http.MethodGet, userPath(userID, "biometrics"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Capabilities, nil
}

// EnrollmentState returns the enrollment state of (userID, mod).
func (c *Client) EnrollmentState(ctx context.Context, userID string, mod types.Modality) (types.EnrollmentState, error) {
	var resp struct {
		State types.EnrollmentState `json:"state"`
	}
	if _, err := c.do(ctx, http.MethodGet, userPath(userID, "biometrics", string(mod)), nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// Enroll enrolls mod for userID on the server's device.
func (c *Client) Enroll(ctx context.Context, userID string, mod types.Modality, opts types.EnrollOptions) (*types.EnrollmentRecord, error) {
	return c.record(ctx, userPath(userID, "biometrics", string(mod), "enroll"), opts)
}

// RefreshTemplate re-enrolls an existing enrollment.
func (c *Client) RefreshTemplate(ctx context.Context, userID string, mod types.Modality) (*types.EnrollmentRecord, error) {
	return c.record(ctx, userPath(userID, "biometrics", string(mod), "refresh"), nil)
}

func (c *Client) record(ctx context.Context, path string, body any) (*types.EnrollmentRecord, error) {
	var resp struct {
		Record *types.EnrollmentRecord `json:"record"`
	}
	if _, err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// Revoke revokes the enrollment of (userID, mod).
func (c *Client) Revoke(ctx context.Context, userID string, mod types.Modality) error {
	_, err := c.do(ctx, http.MethodDelete, userPath(userID, "biometrics", string(mod)), nil, nil)
	return err
}

// PrimaryBiometric returns the user's preferred enrolled modality.
func (c *Client) PrimaryBiometric(ctx context.Context, userID string) (types.Modality, error) {
	var resp struct {
		Modality types.Modality `json:"modality"`
	}
	if _, err := c.do(ctx, http.MethodGet, userPath(userID, "primary"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Modality, nil
}

// Authenticate runs an authentication attempt. Like the local service it
// returns the attempt result even when the attempt failed.
func (c *Client) Authenticate(ctx context.Context, userID string, mod types.Modality, challenge []byte) (*types.AuthenticationResult, error) {
	req := struct {
		Modality  types.Modality `json:"modality,omitempty"`
		Challenge []byte         `json:"challenge,omitempty"`
	}{mod, challenge}

	var resp struct {
		Result *types.AuthenticationResult `json:"result"`
		Error  *errorBody                  `json:"error"`
	}
	status, err := c.do(ctx, http.MethodPost, userPath(userID, "authenticate"), req, &resp)
	if resp.Result == nil {
		if err == nil {
			err = fmt.Errorf("server returned status %d without a result", status)
		}
		return nil, err
	}
	if resp.Error != nil {
		return resp.Result, &APIError{StatusCode: status, Reason: resp.Error.Reason, Message: resp.Error.Error}
	}
	return resp.Result, err
}

// Audit queries the server's audit log. A nil filter returns every event.
func (c *Client) Audit(ctx context.Context, filter *audit.Filter) (*AuditResponse, error) {
	var resp AuditResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/audit"+auditQuery(filter), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearAudit drops every buffered audit event and returns how many were
// dropped.
func (c *Client) ClearAudit(ctx context.Context) (int, error) {
	var resp struct {
		Cleared int `json:"cleared"`
	}
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/audit", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Cleared, nil
}

func userPath(userID string, parts ...string) string {
	p := "/api/v1/users/" + url.PathEscape(userID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func auditQuery(f *audit.Filter) string {
	if f == nil {
		return ""
	}
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.UserID != "" {
		q.Set("user", f.UserID)
	}
	if f.Modality != "" {
		q.Set("modality", string(f.Modality))
	}
	for _, s := range f.Severities {
		q.Add("severity", string(s))
	}
	if f.Success != nil {
		q.Set("success", strconv.FormatBool(*f.Success))
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// do performs a request and decodes the response into out. Error
// responses are still decoded into out when their body is JSON, since
// some endpoints carry a payload alongside the failure.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := correlation.GetCorrelationID(ctx); id != "" {
		req.Header.Set(correlation.CorrelationIDHeader, id)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil && resp.StatusCode < 400 {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if resp.StatusCode < 400 {
		return resp.StatusCode, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errResp errorBody
	if err := json.Unmarshal(respBody, &errResp); err == nil {
		apiErr.Reason = errResp.Reason
		apiErr.Message = errResp.Error
		if errResp.Message != "" && errResp.Error == "" {
			apiErr.Message = errResp.Message
		}
	}
	return resp.StatusCode, apiErr
}
