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

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/internal/testutil"
	"github.com/jeremyhahn/go-biometrics/pkg/audit"
	"github.com/jeremyhahn/go-biometrics/pkg/biometric"
	"github.com/jeremyhahn/go-biometrics/pkg/bridge"
	"github.com/jeremyhahn/go-biometrics/pkg/ceremony"
	"github.com/jeremyhahn/go-biometrics/pkg/health"
	"github.com/jeremyhahn/go-biometrics/pkg/policy"
	"github.com/jeremyhahn/go-biometrics/pkg/ratelimit"
	"github.com/jeremyhahn/go-biometrics/pkg/types"
	"github.com/jeremyhahn/go-biometrics/pkg/webauthn/webauthntest"
)

const testOrigin = "https://app.example.com"

func newNativeService(t *testing.T, sim *bridge.Simulator) *biometric.Service {
	t.Helper()
	svc, err := biometric.NewService(context.Background(), biometric.Params{
		Environment: types.Environment{IsNative: true, PlatformOS: "ios", DeviceID: "device-1"},
		Bridge:      sim,
		Store:       testutil.NewSecureStore(t),
	})
	require.NoError(t, err)
	return svc
}

func newTestServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = []string{testOrigin}
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newNativeServer(t *testing.T) (*httptest.Server, *bridge.Simulator, *biometric.Service) {
	t.Helper()
	sim := bridge.NewSimulator()
	svc := newNativeService(t, sim)
	return newTestServer(t, &Config{Service: svc}), sim, svc
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)

	_, err = NewServer(&Config{})
	assert.Error(t, err)

	svc := newNativeService(t, bridge.NewSimulator())
	s, err := NewServer(&Config{Service: svc})
	require.NoError(t, err)
	assert.Equal(t, ":8443", s.cfg.Addr)
	assert.Equal(t, svc.Policy().Timeout+15*time.Second, s.cfg.WriteTimeout)
	assert.False(t, s.limiter.IsEnabled())
}

func TestServer_StartStop(t *testing.T) {
	svc := newNativeService(t, bridge.NewSimulator())
	s, err := NewServer(&Config{Service: svc, Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, func() bool {
		return s.Addr() != "127.0.0.1:0" && s.Addr() != ""
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-errCh)
}

func TestAvailability(t *testing.T) {
	srv, _, _ := newNativeServer(t)

	resp := do(t, srv, http.MethodGet, "/api/v1/biometrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[AvailabilityResponse](t, resp)
	assert.True(t, got.Available)
	assert.Equal(t, []types.Modality{types.ModalityFingerprint, types.ModalityFace}, got.Modalities)
	assert.Equal(t, types.MethodNative, got.Method)
	assert.True(t, got.HardwareSecure)
}

func TestEnrollmentLifecycle(t *testing.T) {
	srv, _, _ := newNativeServer(t)
	base := "/api/v1/users/alice/biometrics/fingerprint"

	resp := do(t, srv, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[EnrollmentStateResponse](t, resp)
	assert.Equal(t, types.StateUnenrolled, state.State)
	assert.False(t, state.Enrolled)

	resp = do(t, srv, http.MethodPost, base+"/enroll", EnrollRequest{Metadata: map[string]string{"label": "right thumb"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	enrolled := decode[EnrollmentResponse](t, resp)
	require.NotNil(t, enrolled.Record)
	assert.Equal(t, "alice", enrolled.Record.UserID)
	assert.Equal(t, types.ModalityFingerprint, enrolled.Record.Modality)
	assert.Equal(t, "right thumb", enrolled.Record.Metadata["label"])
	assert.NotEmpty(t, enrolled.Record.TemplateID)

	// A second enrollment without force conflicts.
	resp = do(t, srv, http.MethodPost, base+"/enroll", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_enrolled", decode[ErrorResponse](t, resp).Reason)

	resp = do(t, srv, http.MethodPost, base+"/enroll", EnrollRequest{Force: true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	replaced := decode[EnrollmentResponse](t, resp)
	assert.NotEqual(t, enrolled.Record.TemplateID, replaced.Record.TemplateID)

	resp = do(t, srv, http.MethodPost, base+"/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/v1/users/alice/biometrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	caps := decode[CapabilitiesResponse](t, resp)
	require.Len(t, caps.Capabilities, 2)
	assert.True(t, caps.Capabilities[0].IsEnrolled)
	assert.False(t, caps.Capabilities[1].IsEnrolled)

	resp = do(t, srv, http.MethodGet, "/api/v1/users/alice/primary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.ModalityFingerprint, decode[PrimaryResponse](t, resp).Modality)

	resp = do(t, srv, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[EnrollmentStateResponse](t, resp).Enrolled)

	resp = do(t, srv, http.MethodGet, "/api/v1/users/alice/primary", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnroll_Errors(t *testing.T) {
	srv, sim, _ := newNativeServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		reason string
	}{
		{"unsupported modality", "/api/v1/users/bob/biometrics/voice/enroll", "", http.StatusNotFound, "unsupported_modality"},
		{"unknown modality", "/api/v1/users/bob/biometrics/retina/enroll", "", http.StatusNotFound, "unsupported_modality"},
		{"invalid user", "/api/v1/users/bad%20user/biometrics/face/enroll", "", http.StatusBadRequest, "invalid_request"},
		{"unknown field", "/api/v1/users/bob/biometrics/face/enroll", `{"colour":"blue"}`, http.StatusBadRequest, "invalid_request"},
		{"malformed body", "/api/v1/users/bob/biometrics/face/enroll", `{"force":`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.reason, decode[ErrorResponse](t, resp).Reason)
		})
	}

	t.Run("low quality", func(t *testing.T) {
		sim.QueueEnroll(bridge.EnrollScript{Samples: []float64{0.2, 0.3, 0.1}})
		resp := do(t, srv, http.MethodPost, "/api/v1/users/bob/biometrics/face/enroll", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "low_quality_sample", decode[ErrorResponse](t, resp).Reason)
	})

	t.Run("revoke not enrolled", func(t *testing.T) {
		resp := do(t, srv, http.MethodDelete, "/api/v1/users/bob/biometrics/face", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAuthenticate(t *testing.T) {
	srv, sim, _ := newNativeServer(t)
	do(t, srv, http.MethodPost, "/api/v1/users/carol/biometrics/face/enroll", nil)

	resp := do(t, srv, http.MethodPost, "/api/v1/users/carol/authenticate", AuthenticateRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok := decode[AuthenticateResponse](t, resp)
	require.NotNil(t, ok.Result)
	assert.True(t, ok.Result.Success)
	assert.Equal(t, types.ModalityFace, ok.Result.Modality)
	assert.Nil(t, ok.Error)

	sim.QueueAuth(bridge.AuthScript{Success: true, Confidence: 0.4, Liveness: true})
	resp = do(t, srv, http.MethodPost, "/api/v1/users/carol/authenticate", AuthenticateRequest{Modality: "face"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	low := decode[AuthenticateResponse](t, resp)
	require.NotNil(t, low.Result)
	assert.False(t, low.Result.Success)
	require.NotNil(t, low.Error)
	assert.Equal(t, "low_confidence", low.Error.Reason)

	resp = do(t, srv, http.MethodPost, "/api/v1/users/carol/authenticate", AuthenticateRequest{Modality: "face", Challenge: []byte("short")})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_challenge", decode[AuthenticateResponse](t, resp).Error.Reason)

	resp = do(t, srv, http.MethodPost, "/api/v1/users/carol/authenticate", AuthenticateRequest{Modality: "fingerprint"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	sim.QueueAuth(bridge.AuthScript{Err: types.ErrUserCancelled})
	resp = do(t, srv, http.MethodPost, "/api/v1/users/carol/authenticate", AuthenticateRequest{Modality: "face"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAuthenticate_Lockout(t *testing.T) {
	srv, sim, _ := newNativeServer(t)
	do(t, srv, http.MethodPost, "/api/v1/users/dave/biometrics/fingerprint/enroll", nil)

	req := AuthenticateRequest{Modality: "fingerprint"}
	for i := 0; i < policy.DefaultMaxAttempts; i++ {
		sim.QueueAuth(bridge.AuthScript{Success: false})
		resp := do(t, srv, http.MethodPost, "/api/v1/users/dave/authenticate", req)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	calls := sim.Calls(bridge.MethodAuthenticate)

	resp := do(t, srv, http.MethodPost, "/api/v1/users/dave/authenticate", req)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	locked := decode[AuthenticateResponse](t, resp)
	assert.Equal(t, "locked_out", locked.Error.Reason)
	assert.Equal(t, calls, sim.Calls(bridge.MethodAuthenticate))

	// Other users are unaffected.
	do(t, srv, http.MethodPost, "/api/v1/users/erin/biometrics/fingerprint/enroll", nil)
	resp = do(t, srv, http.MethodPost, "/api/v1/users/erin/authenticate", req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticate_RateLimitedPerUser(t *testing.T) {
	svc := newNativeService(t, bridge.NewSimulator())
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 60, Burst: 3})
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, &Config{Service: svc, Limiter: limiter})

	// Each request draws from both the client and the user bucket.
	resp := do(t, srv, http.MethodPost, "/api/v1/users/frank/authenticate", AuthenticateRequest{})
	assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)

	var limited bool
	for i := 0; i < 5; i++ {
		resp = do(t, srv, http.MethodPost, "/api/v1/users/frank/authenticate", AuthenticateRequest{})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			assert.Equal(t, "60", resp.Header.Get("Retry-After"))
			break
		}
	}
	assert.True(t, limited)
}

func TestAudit(t *testing.T) {
	srv, sim, _ := newNativeServer(t)
	do(t, srv, http.MethodPost, "/api/v1/users/gina/biometrics/face/enroll", nil)
	do(t, srv, http.MethodPost, "/api/v1/users/gina/authenticate", AuthenticateRequest{})
	sim.QueueAuth(bridge.AuthScript{Success: false})
	do(t, srv, http.MethodPost, "/api/v1/users/gina/authenticate", AuthenticateRequest{})
	do(t, srv, http.MethodPost, "/api/v1/users/hank/biometrics/fingerprint/enroll", nil)

	resp := do(t, srv, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[AuditResponse](t, resp)
	assert.Len(t, all.Events, 4)
	assert.EqualValues(t, 4, all.Total)
	assert.Zero(t, all.Evicted)
	assert.Positive(t, all.Capacity)

	tests := []struct {
		query string
		want  int
	}{
		{"?type=authentication", 2},
		{"?type=ENROLLMENT", 2},
		{"?user=gina", 3},
		{"?modality=fingerprint", 1},
		{"?success=false", 1},
		{"?user=gina&success=true", 2},
		{"?limit=1", 1},
		{"?since=" + time.Now().Add(time.Hour).UTC().Format(time.RFC3339), 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := do(t, srv, http.MethodGet, "/api/v1/audit"+tt.query, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Len(t, decode[AuditResponse](t, resp).Events, tt.want)
		})
	}

	for _, bad := range []string{"?type=login", "?success=maybe", "?since=yesterday", "?limit=-1", "?modality=retina"} {
		resp := do(t, srv, http.MethodGet, "/api/v1/audit"+bad, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}

	resp = do(t, srv, http.MethodDelete, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, decode[ClearAuditResponse](t, resp).Cleared)

	resp = do(t, srv, http.MethodGet, "/api/v1/audit", nil)
	assert.Empty(t, decode[AuditResponse](t, resp).Events)
}

func TestAudit_CarriesCorrelationID(t *testing.T) {
	srv, _, svc := newNativeServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/users/ivan/biometrics/face/enroll", nil)
	require.NoError(t, err)
	req.Header.Set("X-Correlation-ID", "corr-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	events := svc.Audit().Query(&audit.Filter{UserID: "ivan"})
	require.Len(t, events, 1)
	assert.Equal(t, "corr-123", events[0].CorrelationID)
}

func TestMetricsEndpoints(t *testing.T) {
	srv, _, _ := newNativeServer(t)
	do(t, srv, http.MethodPost, "/api/v1/users/judy/biometrics/face/enroll", nil)

	resp := do(t, srv, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[types.Metrics](t, resp)
	assert.Equal(t, 1, m.EnrolledCount)
	assert.Equal(t, 1, m.AuditSize)

	resp = do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "biometric_")
}

func TestHealthEndpoints(t *testing.T) {
	srv, sim, _ := newNativeServer(t)

	resp := do(t, srv, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, health.StatusHealthy, decode[HealthCheckResponse](t, resp).Status)

	resp = do(t, srv, http.MethodGet, "/health/startup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[HealthCheckResponse](t, resp)
	assert.Equal(t, health.StatusHealthy, ready.Status)
	assert.NotEmpty(t, ready.Checks)

	sim.SetReady(false)
	resp = do(t, srv, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	degraded := decode[HealthCheckResponse](t, resp)
	assert.Equal(t, health.StatusDegraded, degraded.Status)
	assert.Equal(t, "Service is degraded", degraded.Message)
}

func TestCeremonies_NotMountedWithoutBroker(t *testing.T) {
	srv, _, _ := newNativeServer(t)
	resp := do(t, srv, http.MethodGet, "/api/v1/ceremonies", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type pendingJSON struct {
	ID      string          `json:"id"`
	Kind    ceremony.Kind   `json:"kind"`
	Subject string          `json:"subject"`
	Options json.RawMessage `json:"options"`
}

func awaitCeremony(t *testing.T, srv *httptest.Server, subject string) pendingJSON {
	t.Helper()
	var found pendingJSON
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/v1/ceremonies?subject=" + subject)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var list struct {
			Ceremonies []pendingJSON `json:"ceremonies"`
		}
		if json.NewDecoder(resp.Body).Decode(&list) != nil || len(list.Ceremonies) == 0 {
			return false
		}
		found = list.Ceremonies[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

func TestBrowserCeremonies(t *testing.T) {
	rp, browser := webauthntest.New(t)
	broker := ceremony.NewBroker(nil)
	svc, err := biometric.NewService(context.Background(), biometric.Params{
		Environment: types.Environment{
			PlatformAuthenticator: true,
			UserAgent:             "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		},
		RelyingParty: rp,
		Client:       broker,
		Store:        testutil.NewSecureStore(t),
	})
	require.NoError(t, err)
	srv := newTestServer(t, &Config{Service: svc, Broker: broker, CORSOrigins: []string{webauthntest.Origin}})

	// Enrollment blocks until the browser answers the creation ceremony.
	enrolled := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/users/kate/biometrics/face/enroll", "application/json", nil)
		if err == nil {
			enrolled <- resp
		}
		close(enrolled)
	}()

	p := awaitCeremony(t, srv, "kate")
	assert.Equal(t, ceremony.KindCreate, p.Kind)
	var creation protocol.CredentialCreation
	require.NoError(t, json.Unmarshal(p.Options, &creation))
	body, err := browser.CreateJSON(context.Background(), &creation)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/v1/ceremonies/"+p.ID, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, ok := <-enrolled
	require.True(t, ok)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Authentication relays an assertion ceremony the same way.
	authed := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/users/kate/authenticate", "application/json", strings.NewReader(`{"modality":"face"}`))
		if err == nil {
			authed <- resp
		}
		close(authed)
	}()

	p = awaitCeremony(t, srv, "kate")
	assert.Equal(t, ceremony.KindGet, p.Kind)
	var assertion protocol.CredentialAssertion
	require.NoError(t, json.Unmarshal(p.Options, &assertion))
	body, err = browser.GetJSON(context.Background(), &assertion)
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/api/v1/ceremonies/"+p.ID, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, ok = <-authed
	require.True(t, ok)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[AuthenticateResponse](t, resp)
	assert.True(t, result.Result.Success)
	assert.Equal(t, types.MethodWebAuthn, result.Result.Method)
}
