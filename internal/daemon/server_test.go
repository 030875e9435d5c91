package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/identity"
	"github.com/felixgeelhaar/vibecheck/internal/metrics"
	"github.com/felixgeelhaar/vibecheck/internal/progress"
	"github.com/felixgeelhaar/vibecheck/internal/scoring"
	"github.com/felixgeelhaar/vibecheck/internal/storage/memory"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// passingText clears the prompt-basics-1 rubric; failingText matches nothing.
const (
	passingText = "Write a simple JavaScript function that prints hello world with console.log"
	failingText = "make it nice"
)

type testServer struct {
	server   *Server
	store    *memory.Store
	verifier *identity.Verifier
	handler  http.Handler
}

func newTestServer(t *testing.T, ready func(context.Context) error) *testServer {
	t.Helper()

	cat := catalog.Default()
	m := metrics.New()
	store := memory.New()
	coord, err := progress.New(store, cat,
		progress.WithConfig(progress.Config{
			StorageTimeout:    time.Second,
			MaxAttempts:       2,
			RetryInitialDelay: time.Millisecond,
			RetryMaxDelay:     2 * time.Millisecond,
			MaxConcurrent:     8,
			BreakerFailures:   100,
		}),
		progress.WithLogger(quiet()),
		progress.WithClock(func() time.Time { return noon }),
		progress.WithObserver(m),
	)
	require.NoError(t, err)

	verifier, err := identity.NewVerifier("daemon-test-secret-0123")
	require.NoError(t, err)

	s, err := NewServer(ServerConfig{
		Addr:        "127.0.0.1:0",
		Catalog:     cat,
		Scorer:      scoring.NewEngine(cat, scoring.WithObserver(m)),
		Coordinator: coord,
		Verifier:    verifier,
		Metrics:     m,
		Ready:       ready,
		Logger:      quiet(),
	})
	require.NoError(t, err)

	return &testServer{server: s, store: store, verifier: verifier, handler: s.Handler()}
}

func (ts *testServer) token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	tok, err := ts.verifier.Issue(domain.Principal{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	ts := newTestServer(t, func(context.Context) error { return errors.New("db down") })

	rec := ts.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody[map[string]any](t, rec)["status"])
}

func TestEvaluateEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	body := map[string]string{"text": "Write a JavaScript function that validates an email address and returns true or false"}

	first := ts.do(t, http.MethodPost, "/v1/challenges/prompt-basics-1/evaluate", "", body)
	require.Equal(t, http.StatusOK, first.Code)
	a := decodeBody[domain.ScoreResult](t, first)

	second := ts.do(t, http.MethodPost, "/v1/challenges/prompt-basics-1/evaluate", "", body)
	b := decodeBody[domain.ScoreResult](t, second)

	assert.Equal(t, a, b, "scoring must be deterministic")
	assert.Equal(t, a.Score >= domain.PassThreshold, a.Passed)
	assert.NotEmpty(t, a.Feedback)
}

func TestEvaluateEndpoint_RejectsBadBody(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/challenges/prompt-basics-1/evaluate", "", map[string]any{"txt": "typo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLevelEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path  string
		code  int
		level int
	}{
		{"/v1/levels/0", http.StatusOK, 1},
		{"/v1/levels/499", http.StatusOK, 1},
		{"/v1/levels/500", http.StatusOK, 2},
		{"/v1/levels/1500", http.StatusOK, 3},
		{"/v1/levels/99999", http.StatusOK, 5},
		{"/v1/levels/-1", http.StatusBadRequest, 0},
		{"/v1/levels/lots", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, "", nil)
			require.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.level, decodeBody[levelResponse](t, rec).Level.Number)
			}
		})
	}
}

func TestListChallenges(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/challenges?category=prompting", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[map[string][]domain.Challenge](t, rec)["challenges"]
	require.NotEmpty(t, got)
	for _, c := range got {
		assert.Equal(t, domain.CategoryPrompting, c.Category)
	}
}

func TestEnrollAndComplete(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "u1", domain.RoleUser)

	rec := ts.do(t, http.MethodPost, "/v1/users", tok, map[string]string{"email": "u1@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/users/u1/progress", rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodPost, "/v1/users", tok, map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	submission := map[string]any{"challenge_id": "prompt-basics-1", "text": passingText}
	rec = ts.do(t, http.MethodPost, "/v1/users/u1/completions", tok, submission)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[progress.CompletionResult](t, rec)
	// 50 for the challenge plus the first-completion bonus.
	assert.Equal(t, 75, first.NewXP)
	assert.Contains(t, first.Unlocked, "first_challenge")

	rec = ts.do(t, http.MethodPost, "/v1/users/u1/completions", tok, submission)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[progress.CompletionResult](t, rec)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, 75, again.NewXP)

	rec = ts.do(t, http.MethodGet, "/v1/users/u1/progress", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[progress.View](t, rec)
	assert.Equal(t, 75, view.User.XP)
	assert.Equal(t, 1, view.Level.Number)
	assert.Len(t, view.User.Completions, 1)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vibecheck_completions_total{outcome="awarded"} 1`)
	assert.Contains(t, rec.Body.String(), `vibecheck_completions_total{outcome="duplicate"} 1`)
}

func TestCompletionRejections(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "u1", domain.RoleUser)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/users", tok, map[string]string{}).Code)

	tests := []struct {
		name  string
		path  string
		token string
		body  map[string]any
		want  int
	}{
		{"no token", "/v1/users/u1/completions", "", map[string]any{"challenge_id": "prompt-basics-1", "text": passingText}, http.StatusUnauthorized},
		{"other user", "/v1/users/u2/completions", tok, map[string]any{"challenge_id": "prompt-basics-1", "text": passingText}, http.StatusForbidden},
		{"unknown challenge", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "nope", "text": passingText}, http.StatusNotFound},
		{"missing text", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "prompt-basics-1"}, http.StatusBadRequest},
		{"negative elapsed", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "prompt-basics-1", "text": passingText, "elapsed_seconds": -1}, http.StatusBadRequest},
		{"client score rejected", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "prompt-basics-1", "score": 100}, http.StatusBadRequest},
		{"learner sets xp", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "full-app-1", "text": passingText, "xp_earned": 1000000}, http.StatusForbidden},
		{"learner backdates", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "prompt-basics-1", "text": passingText, "submitted_at": "2020-01-01T02:00:00Z"}, http.StatusForbidden},
		{"failing submission", "/v1/users/u1/completions", tok, map[string]any{"challenge_id": "prompt-basics-1", "text": failingText}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	user, err := ts.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, user.XP)
	assert.Empty(t, user.Completions)
	assert.Len(t, user.Achievements, 1, "only the enrollment achievement")
}

func TestCompletion_FailingSubmissionReturnsFeedback(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "u1", domain.RoleUser)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/users", tok, map[string]string{}).Code)

	rec := ts.do(t, http.MethodPost, "/v1/users/u1/completions", tok,
		map[string]any{"challenge_id": "prompt-basics-1", "text": failingText})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody[rejectedSubmission](t, rec)
	assert.False(t, body.Result.Passed)
	assert.Less(t, body.Result.Score, domain.PassThreshold)
	assert.NotEmpty(t, body.Result.Feedback)
	assert.Equal(t, body.Result.Feedback, body.Details)
}

func TestCompletion_UsesCatalogRewardAndServerClock(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "u1", domain.RoleUser)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/users", tok, map[string]string{}).Code)

	rec := ts.do(t, http.MethodPost, "/v1/users/u1/completions", tok,
		map[string]any{"challenge_id": "prompt-basics-1", "text": passingText})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	user, err := ts.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, user.Completions, 1)
	c := user.Completions[0]
	assert.Equal(t, 50, c.XPAwarded)
	assert.GreaterOrEqual(t, c.BestScore, domain.PassThreshold)
	assert.Equal(t, noon, c.CompletedAt)
	assert.Equal(t, noon, user.LastActiveAt)
	assert.False(t, user.Unlocked()["night_owl"])
}

func TestCompletion_AdminOverrides(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.token(t, "ops", domain.RoleAdmin)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/users", admin, map[string]string{"user_id": "u1"}).Code)

	backfill := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	rec := ts.do(t, http.MethodPost, "/v1/users/u1/completions", admin, map[string]any{
		"challenge_id": "prompt-basics-1",
		"text":         passingText,
		"xp_earned":    40,
		"submitted_at": backfill,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	user, err := ts.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, user.Completions, 1)
	assert.Equal(t, 40, user.Completions[0].XPAwarded)
	assert.Equal(t, backfill, user.Completions[0].CompletedAt)

	// Overrides do not bypass scoring.
	rec = ts.do(t, http.MethodPost, "/v1/users/u1/completions", admin,
		map[string]any{"challenge_id": "prompt-basics-2", "text": failingText, "xp_earned": 40})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRecommendations(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := ts.token(t, "u1", domain.RoleUser)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/users", tok, map[string]string{}).Code)

	rec := ts.do(t, http.MethodGet, "/v1/users/u1/recommendations?n=2", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[map[string][]domain.Challenge](t, rec)["challenges"]
	require.Len(t, first, 2)
	for _, c := range first {
		assert.LessOrEqual(t, c.Difficulty, 1)
	}

	rec = ts.do(t, http.MethodGet, "/v1/users/u1/recommendations?n=2", tok, nil)
	again := decodeBody[map[string][]domain.Challenge](t, rec)["challenges"]
	assert.Equal(t, first, again, "order must be stable per user")

	rec = ts.do(t, http.MethodGet, "/v1/users/u1/recommendations?n=0", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	user := ts.token(t, "u1", domain.RoleUser)
	admin := ts.token(t, "ops", domain.RoleAdmin)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/users", admin, map[string]string{"user_id": "u1"}).Code)

	rec := ts.do(t, http.MethodGet, "/v1/users/u1/progress", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/admin/audit", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/admin/audit", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[auditResponse](t, rec)
	assert.Equal(t, 1, audit.Checked)
	assert.Empty(t, audit.Violations)

	rec = ts.do(t, http.MethodPost, "/v1/users", user, map[string]string{"user_id": "u9", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
