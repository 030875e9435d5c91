package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/metrics"
	"github.com/felixgeelhaar/vibecheck/internal/progress"
	"github.com/felixgeelhaar/vibecheck/internal/progression"
	"github.com/felixgeelhaar/vibecheck/internal/scoring"
)

// maxBodyBytes bounds request bodies; submissions are short free text.
const maxBodyBytes = 64 << 10

// Server represents the vibecheck HTTP API
type Server struct {
	server *http.Server
	router *http.ServeMux
	logger *slog.Logger

	catalog     *catalog.Catalog
	scorer      *scoring.Engine
	coordinator *progress.Coordinator
	metrics     *metrics.Metrics
	ready       func(context.Context) error
	auth        func(http.Handler) http.Handler
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Addr        string
	Catalog     *catalog.Catalog
	Scorer      *scoring.Engine
	Coordinator *progress.Coordinator
	// Verifier authenticates user routes; nil rejects them all.
	Verifier TokenVerifier
	// Metrics is optional; when set /metrics is served and routes are instrumented.
	Metrics *metrics.Metrics
	// RequestsPerSecond enables the rate limiter when positive.
	RequestsPerSecond int
	// Ready reports store health for /v1/health; nil means always ready.
	Ready  func(context.Context) error
	Logger *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Catalog == nil || cfg.Scorer == nil || cfg.Coordinator == nil {
		return nil, errors.New("daemon: catalog, scorer and coordinator are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:      http.NewServeMux(),
		logger:      logger,
		catalog:     cfg.Catalog,
		scorer:      cfg.Scorer,
		coordinator: cfg.Coordinator,
		metrics:     cfg.Metrics,
		ready:       cfg.Ready,
		auth:        authMiddleware(cfg.Verifier, logger),
	}

	s.setupRoutes()

	mw := []func(http.Handler) http.Handler{
		recoveryMiddleware(logger),
		correlationIDMiddleware,
		loggingMiddleware(logger),
	}
	if cfg.RequestsPerSecond > 0 {
		limiter := ratelimit.New(&ratelimit.Config{
			Rate:     cfg.RequestsPerSecond,
			Burst:    cfg.RequestsPerSecond * 2,
			Interval: time.Second,
		})
		mw = append(mw, rateLimitMiddleware(limiter, logger))
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain(s.router, mw...),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Public
	s.handle("GET /v1/health", "health", http.HandlerFunc(s.handleHealth))
	s.handle("GET /v1/challenges", "challenges", http.HandlerFunc(s.handleListChallenges))
	s.handle("POST /v1/challenges/{id}/evaluate", "evaluate", http.HandlerFunc(s.handleEvaluate))
	s.handle("GET /v1/levels/{xp}", "level", http.HandlerFunc(s.handleLevel))

	// Authenticated
	s.handle("POST /v1/users", "enroll", s.auth(http.HandlerFunc(s.handleEnroll)))
	s.handle("GET /v1/users/{id}/progress", "progress", s.auth(http.HandlerFunc(s.handleProgress)))
	s.handle("POST /v1/users/{id}/completions", "complete", s.auth(http.HandlerFunc(s.handleComplete)))
	s.handle("GET /v1/users/{id}/recommendations", "recommend", s.auth(http.HandlerFunc(s.handleRecommend)))
	s.handle("GET /v1/admin/audit", "audit", s.auth(http.HandlerFunc(s.handleAudit)))

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handle(pattern, route string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(route, h)
	}
	s.router.Handle(pattern, h)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting vibecheck daemon", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, s.logger, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Catalog and pure operations

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges := s.catalog.Challenges()
	if cat := r.URL.Query().Get("category"); cat != "" {
		challenges = s.catalog.ChallengesIn(domain.Category(cat))
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"challenges": challenges})
}

type evaluateRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := s.scorer.Evaluate(r.PathValue("id"), req.Text)
	writeJSON(w, s.logger, http.StatusOK, result)
}

type levelResponse struct {
	XP       int                  `json:"xp"`
	Level    domain.Level         `json:"level"`
	Progress progression.Progress `json:"progress"`
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	xp, err := strconv.Atoi(r.PathValue("xp"))
	if err != nil {
		writeDomainError(w, s.logger, domain.Validationf("xp must be an integer"))
		return
	}

	calc := s.coordinator.Calculator()
	number, err := calc.LevelForXP(xp)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	level, err := calc.Level(number)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	prog, err := calc.ProgressToward(xp, number)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, levelResponse{XP: xp, Level: level, Progress: prog})
}

// Learners

type enrollRequest struct {
	UserID   string      `json:"user_id"`
	Email    string      `json:"email"`
	Name     string      `json:"name"`
	Timezone string      `json:"timezone"`
	Role     domain.Role `json:"role"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	p := s.principal(r)
	var req enrollRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = p.UserID
	}

	user, err := s.coordinator.Enroll(r.Context(), p, progress.EnrollRequest{
		UserID:   req.UserID,
		Email:    req.Email,
		Name:     req.Name,
		Timezone: req.Timezone,
		Role:     req.Role,
	})
	if err != nil {
		s.fail(w, r, "enroll", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s/progress", user.UserID))
	writeJSON(w, s.logger, http.StatusCreated, user)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	view, err := s.coordinator.Progress(r.Context(), s.principal(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "progress", err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, view)
}

type completionRequest struct {
	ChallengeID    string  `json:"challenge_id"`
	Text           string  `json:"text"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`

	// Admin-only overrides. Learners get the catalog reward and the server clock.
	XPEarned    *int      `json:"xp_earned,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitzero"`
}

// rejectedSubmission is returned when a submission scores below the pass mark.
type rejectedSubmission struct {
	errorResponse
	Result domain.ScoreResult `json:"result"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	p := s.principal(r)
	userID := r.PathValue("id")

	var req completionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !p.CanActFor(userID) {
		writeDomainError(w, s.logger, fmt.Errorf("record completion for %s: %w", userID, domain.ErrForbidden))
		return
	}
	if p.Role != domain.RoleAdmin && (req.XPEarned != nil || !req.SubmittedAt.IsZero()) {
		writeDomainError(w, s.logger, fmt.Errorf("xp_earned and submitted_at are admin overrides: %w", domain.ErrForbidden))
		return
	}
	if req.ElapsedSeconds < 0 {
		writeDomainError(w, s.logger, domain.Validationf("elapsed_seconds must be non-negative"))
		return
	}
	ch, ok := s.catalog.Challenge(req.ChallengeID)
	if !ok {
		writeDomainError(w, s.logger, fmt.Errorf("%s: %w", req.ChallengeID, domain.ErrChallengeNotFound))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeDomainError(w, s.logger, domain.Validationf("text is required"))
		return
	}

	score := s.scorer.Evaluate(ch.ID, req.Text)
	if !score.Passed {
		status := http.StatusUnprocessableEntity
		writeJSON(w, s.logger, status, rejectedSubmission{
			errorResponse: errorResponse{Error: domain.ErrNotPassed.Error(), Status: status, Details: score.Feedback},
			Result:        score,
		})
		return
	}

	xp := ch.XPReward
	if req.XPEarned != nil {
		xp = *req.XPEarned
	}
	result, err := s.coordinator.RecordCompletion(r.Context(), p, progress.CompletionRequest{
		UserID:      userID,
		ChallengeID: ch.ID,
		XPEarned:    xp,
		Score:       score.Score,
		Elapsed:     time.Duration(req.ElapsedSeconds * float64(time.Second)),
		SubmittedAt: req.SubmittedAt,
	})
	if err != nil {
		s.fail(w, r, "complete", err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyCompleted {
		status = http.StatusOK
	}
	writeJSON(w, s.logger, status, result)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	n := 3
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 50 {
			writeDomainError(w, s.logger, domain.Validationf("n must be between 1 and 50"))
			return
		}
		n = v
	}

	challenges, err := s.coordinator.Recommend(r.Context(), s.principal(r), r.PathValue("id"), n)
	if err != nil {
		s.fail(w, r, "recommend", err)
		return
	}
	if challenges == nil {
		challenges = []domain.Challenge{}
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"challenges": challenges})
}

type auditResponse struct {
	Checked    int               `json:"checked"`
	Violations map[string]string `json:"violations"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if p := s.principal(r); p.Role != domain.RoleAdmin {
		writeDomainError(w, s.logger, domain.ErrForbidden)
		return
	}

	results, err := s.coordinator.AuditAll(r.Context())
	if err != nil {
		s.fail(w, r, "audit", err)
		return
	}

	resp := auditResponse{Checked: len(results), Violations: make(map[string]string)}
	for id, err := range results {
		if err != nil {
			resp.Violations[id] = err.Error()
		}
	}
	writeJSON(w, s.logger, http.StatusOK, resp)
}

// Helpers

func (s *Server) principal(r *http.Request) domain.Principal {
	p, _ := GetPrincipal(r.Context())
	return p
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeDomainError(w, s.logger, domain.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if statusFor(err) >= 500 {
		s.logger.Error("request failed",
			"correlation_id", GetCorrelationID(r.Context()),
			"op", op,
			"error", err)
	}
	writeDomainError(w, s.logger, err)
}
