package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type staticVerifier map[string]domain.Principal

func (v staticVerifier) Verify(token string) (domain.Principal, error) {
	p, ok := v[token]
	if !ok {
		return domain.Principal{}, fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
	}
	return p, nil
}

func TestGetCorrelationID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"set", context.WithValue(context.Background(), CorrelationIDKey, "abc-123"), "abc-123"},
		{"missing", context.Background(), ""},
		{"wrong type", context.WithValue(context.Background(), CorrelationIDKey, 12345), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCorrelationID(tt.ctx); got != tt.want {
				t.Errorf("GetCorrelationID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"generates a uuid", ""},
		{"keeps the caller's id", "upstream-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetCorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if tt.incoming != "" {
				req.Header.Set(CorrelationIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.incoming != "" && seen != tt.incoming {
				t.Errorf("context id = %q, want %q", seen, tt.incoming)
			}
			if tt.incoming == "" {
				if _, err := uuid.Parse(seen); err != nil {
					t.Errorf("generated id %q is not a uuid: %v", seen, err)
				}
			}
			if got := rec.Header().Get(CorrelationIDHeader); got != seen {
				t.Errorf("response header = %q, want %q", got, seen)
			}
		})
	}
}

func TestLoggingMiddleware_PreservesResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		write  bool
	}{
		{"created", http.StatusCreated, true},
		{"conflict", http.StatusConflict, true},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"implicit ok", http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := loggingMiddleware(quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.write {
					w.WriteHeader(tt.status)
				}
				w.Write([]byte("body"))
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/levels/10", nil))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if rec.Body.String() != "body" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"no panic", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }, http.StatusAccepted},
		{"string panic", func(http.ResponseWriter, *http.Request) { panic("boom") }, http.StatusInternalServerError},
		{"error panic", func(http.ResponseWriter, *http.Request) { panic(errors.New("boom")) }, http.StatusInternalServerError},
		// Since Go 1.21 panic(nil) is a *runtime.PanicNilError.
		{"nil panic", func(http.ResponseWriter, *http.Request) { panic(nil) }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			recoveryMiddleware(quiet())(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestChain_PanicKeepsCorrelationID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		panic("simulated panic")
	})
	handler := chain(inner, recoveryMiddleware(quiet()), correlationIDMiddleware, loggingMiddleware(quiet()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/users", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if seen == "" || rec.Header().Get(CorrelationIDHeader) != seen {
		t.Errorf("correlation id %q not echoed (header %q)", seen, rec.Header().Get(CorrelationIDHeader))
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != http.StatusInternalServerError || body.Details != "" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	verifier := staticVerifier{"good": {UserID: "u1", Role: domain.RoleUser}}

	tests := []struct {
		name     string
		verifier TokenVerifier
		header   string
		want     int
	}{
		{"valid token", verifier, "Bearer good", http.StatusOK},
		{"missing header", verifier, "", http.StatusUnauthorized},
		{"wrong scheme", verifier, "Basic good", http.StatusUnauthorized},
		{"empty token", verifier, "Bearer ", http.StatusUnauthorized},
		{"unknown token", verifier, "Bearer bad", http.StatusUnauthorized},
		{"no verifier configured", nil, "Bearer good", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.Principal
			handler := authMiddleware(tt.verifier, quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = GetPrincipal(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && got.UserID != "u1" {
				t.Errorf("principal = %+v, want u1", got)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Rate: 1, Burst: 1, Interval: time.Hour})
	handler := rateLimitMiddleware(limiter, quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/test", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/test", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Validationf("bad"), http.StatusBadRequest},
		{fmt.Errorf("score 40: %w", domain.ErrNotPassed), http.StatusUnprocessableEntity},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("x: %w", domain.ErrForbidden), http.StatusForbidden},
		{domain.ErrUserNotFound, http.StatusNotFound},
		{domain.ErrChallengeNotFound, http.StatusNotFound},
		{domain.ErrUserAlreadyExists, http.StatusConflict},
		{domain.Transient("begin", errors.New("locked")), http.StatusServiceUnavailable},
		{domain.ErrConsistency, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteDomainError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, quiet(), fmt.Errorf("audit: %w: secret detail", domain.ErrConsistency))

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details != "" {
		t.Errorf("Details = %q, want empty for 500", body.Details)
	}

	rec = httptest.NewRecorder()
	writeDomainError(rec, quiet(), domain.Transient("commit", errors.New("busy")))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "1" {
		t.Errorf("transient = %d Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}
