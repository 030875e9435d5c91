package mcp

import (
	"context"
	"errors"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/ordering"
	"github.com/felixgeelhaar/vibecheck/internal/progression"
	"github.com/felixgeelhaar/vibecheck/internal/scoring"
)

// Server wraps the MCP server with the stateless vibecheck operations
type Server struct {
	mcpServer  *server.Server
	catalog    *catalog.Catalog
	scorer     *scoring.Engine
	calculator *progression.Calculator
}

// Config contains configuration for the MCP server
type Config struct {
	Catalog *catalog.Catalog
	// Scorer defaults to an engine over Catalog.
	Scorer  *scoring.Engine
	Version string
}

// NewServer creates a new MCP server for vibecheck
func NewServer(cfg Config) (*Server, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("mcp: catalog is required")
	}
	calc, err := progression.New(cfg.Catalog.Levels())
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = scoring.NewEngine(cfg.Catalog)
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		catalog:    cfg.Catalog,
		scorer:     scorer,
		calculator: calc,
	}

	s.mcpServer = server.New(server.Info{
		Name:    "vibecheck",
		Version: version,
	}, server.WithInstructions(`
VibeCheck scores practice submissions for AI-assisted development challenges
and tracks learner progression.

Available tools:
- vibecheck_evaluate: Score a submission against a challenge rubric
- vibecheck_level: Resolve the level and progress for an XP total
- vibecheck_shuffle: Deterministically order challenges for a seed
- vibecheck_recommend: Recommend challenges for a learner level

Scores are 0-100; a submission passes at 70.
`))

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("vibecheck_evaluate").
		Description("Score a submission against a challenge's keyword rubric.").
		Handler(s.handleEvaluate)

	s.mcpServer.Tool("vibecheck_level").
		Description("Get the level and progress toward the next level for an XP total.").
		Handler(s.handleLevel)

	s.mcpServer.Tool("vibecheck_shuffle").
		Description("Order challenges deterministically for a seed, optionally within one category.").
		Handler(s.handleShuffle)

	s.mcpServer.Tool("vibecheck_recommend").
		Description("Recommend up to n challenges at or below a level, stable per seed.").
		Handler(s.handleRecommend)
}

// Input/Output types for tools

type EvaluateInput struct {
	ChallengeID string `json:"challenge_id" jsonschema:"description=Challenge ID from the catalog"`
	Text        string `json:"text" jsonschema:"description=Submission text to score"`
}

type LevelInput struct {
	XP int `json:"xp" jsonschema:"description=Total experience points (non-negative)"`
}

type LevelOutput struct {
	XP       int                  `json:"xp"`
	Level    int                  `json:"level"`
	Name     string               `json:"name"`
	Progress progression.Progress `json:"progress"`
}

type ShuffleInput struct {
	Seed     string `json:"seed" jsonschema:"description=Seed string; the same seed always yields the same order"`
	Category string `json:"category,omitempty" jsonschema:"description=Restrict to one category"`
}

type RecommendInput struct {
	Seed  string `json:"seed" jsonschema:"description=Learner ID used to seed the order"`
	Level int    `json:"level" jsonschema:"description=Learner level; challenges above it are excluded"`
	N     int    `json:"n,omitempty" jsonschema:"description=Maximum number of challenges (default 3)"`
}

type ChallengeSummary struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Category   domain.Category `json:"category"`
	Difficulty int             `json:"difficulty"`
	XPReward   int             `json:"xp_reward"`
}

type ChallengesOutput struct {
	Challenges []ChallengeSummary `json:"challenges"`
}

// Tool handlers

func (s *Server) handleEvaluate(_ context.Context, input EvaluateInput) (domain.ScoreResult, error) {
	if input.ChallengeID == "" {
		return domain.ScoreResult{}, domain.Validationf("challenge_id is required")
	}
	return s.scorer.Evaluate(input.ChallengeID, input.Text), nil
}

func (s *Server) handleLevel(_ context.Context, input LevelInput) (LevelOutput, error) {
	number, err := s.calculator.LevelForXP(input.XP)
	if err != nil {
		return LevelOutput{}, err
	}
	level, err := s.calculator.Level(number)
	if err != nil {
		return LevelOutput{}, err
	}
	prog, err := s.calculator.ProgressToward(input.XP, number)
	if err != nil {
		return LevelOutput{}, err
	}
	return LevelOutput{XP: input.XP, Level: number, Name: level.Name, Progress: prog}, nil
}

func (s *Server) handleShuffle(_ context.Context, input ShuffleInput) (ChallengesOutput, error) {
	challenges := s.catalog.Challenges()
	if input.Category != "" {
		challenges = s.catalog.ChallengesIn(domain.Category(input.Category))
		if len(challenges) == 0 {
			return ChallengesOutput{}, domain.Validationf("unknown category %q", input.Category)
		}
	}
	return summarize(ordering.Shuffle(challenges, input.Seed)), nil
}

func (s *Server) handleRecommend(_ context.Context, input RecommendInput) (ChallengesOutput, error) {
	n := input.N
	if n == 0 {
		n = 3
	}
	if n < 1 || n > 50 {
		return ChallengesOutput{}, domain.Validationf("n must be between 1 and 50")
	}
	if input.Level < 1 || input.Level > s.calculator.MaxLevel() {
		return ChallengesOutput{}, domain.Validationf("level must be between 1 and %d", s.calculator.MaxLevel())
	}
	return summarize(ordering.Recommend(s.catalog.Challenges(), input.Level, input.Seed, n)), nil
}

func summarize(challenges []domain.Challenge) ChallengesOutput {
	out := ChallengesOutput{Challenges: make([]ChallengeSummary, 0, len(challenges))}
	for _, c := range challenges {
		out.Challenges = append(out.Challenges, ChallengeSummary{
			ID:         c.ID,
			Title:      c.Title,
			Category:   c.Category,
			Difficulty: c.Difficulty,
			XPReward:   c.XPReward,
		})
	}
	return out
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
