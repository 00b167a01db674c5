// Package auth enforces the service and operator boundary: HMAC request
// signatures for machine callers and JWT bearer tokens for operators.
package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/pkg/types"
)

const (
	// HeaderSignature carries the hex HMAC of "{timestamp}.{body}".
	HeaderSignature = "x-signature"
	// HeaderTimestamp carries the request unix timestamp in seconds.
	HeaderTimestamp = "x-timestamp"

	maxBodyBytes = 1 << 20
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrStaleTimestamp   = errors.New("timestamp outside tolerance")
	ErrBadSignature     = errors.New("signature mismatch")
)

type contextKey string

const operatorKey contextKey = "operator"

// OperatorFrom returns the operator subject attached by the bearer
// middleware, or empty when the request was not operator-authenticated.
func OperatorFrom(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey).(string)
	return id
}

// Clock supplies the current time. Injectable for tests.
type Clock func() time.Time

// Verifier validates inbound request signatures and bearer tokens.
type Verifier struct {
	logger *zap.Logger
	cfg    types.AuthConfig
	clock  Clock
}

// NewVerifier creates a verifier from the auth configuration.
func NewVerifier(logger *zap.Logger, cfg types.AuthConfig, clock Clock) *Verifier {
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{
		logger: logger.Named("auth"),
		cfg:    cfg,
		clock:  clock,
	}
}

func (v *Verifier) hasher() func() hash.Hash {
	if v.cfg.HMACAlgorithm == "sha512" {
		return sha512.New
	}
	return sha256.New
}

// Sign computes the hex signature for a timestamp and body. Used by
// outbound clients and tests; the middleware computes the same value.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	mac := hmac.New(v.hasher(), []byte(v.cfg.HMACSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature against the timestamp and body.
// Comparison is constant time; timestamp skew beyond the configured
// tolerance fails regardless of the signature.
func (v *Verifier) VerifySignature(signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	skew := v.clock().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.cfg.TimestampTolerance {
		return ErrStaleTimestamp
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(v.hasher(), []byte(v.cfg.HMACSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// SignatureMiddleware rejects requests whose x-signature header does not
// match the request body and x-timestamp. The body is restored for the
// next handler.
func (v *Verifier) SignatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		sig := r.Header.Get(HeaderSignature)
		ts := r.Header.Get(HeaderTimestamp)
		if err := v.VerifySignature(sig, ts, body); err != nil {
			v.logger.Warn("Rejected unsigned request",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IssueToken mints an operator JWT. Exposed for the CLI and tests.
func (v *Verifier) IssueToken(operatorID string, ttl time.Duration) (string, error) {
	now := v.clock()
	claims := jwt.RegisteredClaims{
		Subject:   operatorID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.cfg.JWTSecret))
}

// VerifyToken parses a bearer token and returns the operator subject.
func (v *Verifier) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return v.clock() }))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token missing subject")
	}
	return sub, nil
}

// BearerMiddleware guards operator endpoints. On success the operator
// subject is placed on the request context for audit trails.
func (v *Verifier) BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		operator, err := v.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			v.logger.Warn("Rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
