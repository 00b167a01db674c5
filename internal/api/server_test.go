package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/allocation"
	"github.com/helios-trading/brain/internal/api"
	"github.com/helios-trading/brain/internal/auth"
	"github.com/helios-trading/brain/internal/hft"
	"github.com/helios-trading/brain/internal/performance"
	"github.com/helios-trading/brain/internal/risk"
	"github.com/helios-trading/brain/internal/treasury"
	"github.com/helios-trading/brain/pkg/types"
)

type fixture struct {
	server   *api.Server
	verifier *auth.Verifier
	deps     api.Deps
	token    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	authCfg := types.DefaultAuthConfig()
	authCfg.HMACSecret = "service-secret"
	authCfg.JWTSecret = "operator-secret"
	verifier := auth.NewVerifier(logger, authCfg, nil)

	tracker := performance.NewTracker(logger, types.DefaultPerformanceConfig(), nil)
	allocator := allocation.NewEngine(logger, types.DefaultAllocationConfig(), tracker, nil, nil, nil)
	manager := treasury.NewManager(logger, types.DefaultTreasuryConfig(), treasury.NewPaperWallet(decimal.NewFromInt(10000)), nil, nil, nil)
	breaker := hft.NewLatencyBreaker(logger, types.DefaultHFTConfig(), nil, nil)
	processor := hft.NewProcessor(logger, types.DefaultHFTConfig(), breaker, nil)

	deps := api.Deps{
		Allocator: allocator,
		Tracker:   tracker,
		Treasury:  manager,
		Processor: processor,
		Breaker:   breaker,
		Book:      risk.NewBook(),
		Equity:    func() decimal.Decimal { return decimal.NewFromInt(5000) },
	}

	token, err := verifier.IssueToken("ops-test", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &fixture{
		server:   api.NewServer(logger, types.DefaultServerConfig(), verifier, nil, deps),
		verifier: verifier,
		deps:     deps,
		token:    token,
	}
}

func (f *fixture) get(t *testing.T, path string, withToken bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if withToken {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path string, body []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	if signed {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(auth.HeaderTimestamp, ts)
		req.Header.Set(auth.HeaderSignature, f.verifier.Sign(ts, body))
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestReadsRequireBearer(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/dashboard", "/treasury", "/allocation", "/breaker", "/phases/status"} {
		if rec := f.get(t, path, false); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, rec.Code)
		}
		if rec := f.get(t, path, true); rec.Code != http.StatusOK {
			t.Errorf("%s with token: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestDashboardShape(t *testing.T) {
	f := newFixture(t)
	body := decode(t, f.get(t, "/dashboard", true))
	for _, key := range []string{"equity", "allocation", "halted", "treasury", "processor", "phases"} {
		if _, ok := body[key]; !ok {
			t.Errorf("dashboard missing %q", key)
		}
	}
}

func TestHaltResumeCycle(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{"reason":"manual intervention"}`)
	rec := f.post(t, "/risk/halt", payload, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("halt: status = %d (%s)", rec.Code, rec.Body.String())
	}
	if !f.deps.Allocator.Halted() {
		t.Error("allocator not halted after POST /risk/halt")
	}
	if body := decode(t, rec); body["operator"] != "ops-test" {
		t.Errorf("operator = %v, want ops-test", body["operator"])
	}

	rec = f.post(t, "/risk/resume", []byte(`{}`), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: status = %d", rec.Code)
	}
	if f.deps.Allocator.Halted() {
		t.Error("allocator still halted after POST /risk/resume")
	}
}

func TestMutationsRequireSignature(t *testing.T) {
	f := newFixture(t)

	// Bearer token alone is not enough for mutating endpoints.
	rec := f.post(t, "/risk/halt", []byte(`{"reason":"x"}`), false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned halt: status = %d, want 401", rec.Code)
	}
	if f.deps.Allocator.Halted() {
		t.Error("unsigned request must not halt trading")
	}
}

func TestHaltRequiresReason(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/risk/halt", []byte(`{}`), true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty reason: status = %d, want 400", rec.Code)
	}
}

func TestOverrideValidation(t *testing.T) {
	f := newFixture(t)

	// Weights that do not sum to one are refused.
	bad := []byte(`{"operatorId":"ops-test","allocation":{"w1":0.9,"w2":0.9,"w3":0},"reason":"test","durationHours":1}`)
	if rec := f.post(t, "/admin/override", bad, true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad weights: status = %d, want 400", rec.Code)
	}

	good := []byte(`{"operatorId":"ops-test","allocation":{"w1":0.7,"w2":0.3,"w3":0},"reason":"rebalancing freeze","durationHours":0.5}`)
	rec := f.post(t, "/admin/override", good, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("good override: status = %d (%s)", rec.Code, rec.Body.String())
	}
	current := f.deps.Allocator.Current()
	if current.W1 != 0.7 || current.W2 != 0.3 {
		t.Errorf("override not applied: %+v", current)
	}

	// Zero and negative durations are client errors.
	for _, hours := range []string{"0", "-1"} {
		garbage := []byte(`{"operatorId":"ops-test","allocation":{"w1":0.7,"w2":0.3,"w3":0},"reason":"x","durationHours":` + hours + `}`)
		if rec := f.post(t, "/admin/override", garbage, true); rec.Code != http.StatusBadRequest {
			t.Errorf("durationHours=%s: status = %d, want 400", hours, rec.Code)
		}
	}
}

func TestBreakerResetWhenClosedConflicts(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/breaker/reset", []byte(`{}`), true)
	if rec.Code != http.StatusConflict {
		t.Errorf("reset of closed breaker: status = %d, want 409", rec.Code)
	}
}

func TestTreasuryEndpoint(t *testing.T) {
	f := newFixture(t)
	body := decode(t, f.get(t, "/treasury", true))
	if _, ok := body["highWatermark"]; !ok {
		t.Error("treasury missing highWatermark")
	}
	if _, ok := body["totalSwept"]; !ok {
		t.Error("treasury missing totalSwept")
	}
}
