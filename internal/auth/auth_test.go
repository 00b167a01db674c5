package auth_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/auth"
	"github.com/helios-trading/brain/pkg/types"
)

func testVerifier(clock auth.Clock) *auth.Verifier {
	cfg := types.DefaultAuthConfig()
	cfg.HMACSecret = "sekrit"
	cfg.JWTSecret = "jwt-sekrit"
	return auth.NewVerifier(zap.NewNop(), cfg, clock)
}

func fixedClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func TestSignatureRoundTrip(t *testing.T) {
	v := testVerifier(fixedClock)
	body := []byte(`{"amount":"500"}`)
	ts := strconv.FormatInt(fixedClock().Unix(), 10)

	sig := v.Sign(ts, body)
	if err := v.VerifySignature(sig, ts, body); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestSignatureTamperedBody(t *testing.T) {
	v := testVerifier(fixedClock)
	ts := strconv.FormatInt(fixedClock().Unix(), 10)
	sig := v.Sign(ts, []byte(`{"amount":"500"}`))

	if err := v.VerifySignature(sig, ts, []byte(`{"amount":"9999"}`)); err != auth.ErrBadSignature {
		t.Errorf("tampered body: err = %v, want ErrBadSignature", err)
	}
}

func TestSignatureStaleTimestamp(t *testing.T) {
	v := testVerifier(fixedClock)
	body := []byte("{}")

	// 301 seconds in the past, just beyond the 300s tolerance.
	old := strconv.FormatInt(fixedClock().Add(-301*time.Second).Unix(), 10)
	if err := v.VerifySignature(v.Sign(old, body), old, body); err != auth.ErrStaleTimestamp {
		t.Errorf("stale: err = %v, want ErrStaleTimestamp", err)
	}

	// Future skew is rejected the same way.
	future := strconv.FormatInt(fixedClock().Add(301*time.Second).Unix(), 10)
	if err := v.VerifySignature(v.Sign(future, body), future, body); err != auth.ErrStaleTimestamp {
		t.Errorf("future: err = %v, want ErrStaleTimestamp", err)
	}

	// At exactly the tolerance boundary the request is still valid.
	edge := strconv.FormatInt(fixedClock().Add(-300*time.Second).Unix(), 10)
	if err := v.VerifySignature(v.Sign(edge, body), edge, body); err != nil {
		t.Errorf("edge of tolerance: err = %v, want nil", err)
	}
}

func TestSignatureMissingHeaders(t *testing.T) {
	v := testVerifier(fixedClock)
	if err := v.VerifySignature("", "12345", nil); err != auth.ErrMissingSignature {
		t.Errorf("no signature: err = %v", err)
	}
	if err := v.VerifySignature("abcd", "", nil); err != auth.ErrMissingSignature {
		t.Errorf("no timestamp: err = %v", err)
	}
	if err := v.VerifySignature("not-hex!", strconv.FormatInt(fixedClock().Unix(), 10), nil); err != auth.ErrBadSignature {
		t.Errorf("malformed hex: err = %v", err)
	}
}

func TestSignatureSHA512(t *testing.T) {
	cfg := types.DefaultAuthConfig()
	cfg.HMACSecret = "sekrit"
	cfg.HMACAlgorithm = "sha512"
	v := auth.NewVerifier(zap.NewNop(), cfg, fixedClock)

	body := []byte("payload")
	ts := strconv.FormatInt(fixedClock().Unix(), 10)
	sig := v.Sign(ts, body)
	if len(sig) != 128 {
		t.Errorf("sha512 hex length = %d, want 128", len(sig))
	}
	if err := v.VerifySignature(sig, ts, body); err != nil {
		t.Errorf("sha512 round trip: %v", err)
	}
}

func TestSignatureMiddleware(t *testing.T) {
	v := testVerifier(fixedClock)

	var seenBody []byte
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	handler := v.SignatureMiddleware(inner)

	body := []byte(`{"op":"halt"}`)
	ts := strconv.FormatInt(fixedClock().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/risk/halt", bytes.NewReader(body))
	req.Header.Set(auth.HeaderTimestamp, ts)
	req.Header.Set(auth.HeaderSignature, v.Sign(ts, body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("signed request: status = %d", rec.Code)
	}
	if !bytes.Equal(seenBody, body) {
		t.Errorf("body not restored for handler: %q", seenBody)
	}

	// Unsigned request is refused before reaching the handler.
	req = httptest.NewRequest(http.MethodPost, "/risk/halt", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request: status = %d, want 401", rec.Code)
	}
}

func TestBearerRoundTrip(t *testing.T) {
	v := testVerifier(fixedClock)

	token, err := v.IssueToken("ops-alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var operator string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = auth.OperatorFrom(r.Context())
	})
	handler := v.BearerMiddleware(inner)

	req := httptest.NewRequest(http.MethodPost, "/admin/override", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if operator != "ops-alice" {
		t.Errorf("operator = %q, want ops-alice", operator)
	}
}

func TestBearerRejectsExpiredAndMissing(t *testing.T) {
	v := testVerifier(fixedClock)
	handler := v.BearerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// Token that expired an hour before the verifier's clock.
	issuer := testVerifier(func() time.Time { return fixedClock().Add(-2 * time.Hour) })
	expired, err := issuer.IssueToken("ops-bob", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer garbage.token.here")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
}
