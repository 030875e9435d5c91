package domain

import (
	"context"
	"time"
)

// Standing is the derived part of a learner row written back at the end of a
// progression transaction.
type Standing struct {
	Level        int
	StreakDays   int
	LastActiveAt time.Time
}

// ProgressTotals are the sums that must reconcile with a learner's XP.
type ProgressTotals struct {
	XP           int
	Level        int
	CompletionXP int
	BonusXP      int
}

// ProgressStore is durable storage for learner progress.
type ProgressStore interface {
	// Begin starts a unit of work. Implementations serialize writers on the
	// same learner for the lifetime of the unit.
	Begin(ctx context.Context) (UnitOfWork, error)
	// GetUser loads a learner with completions and achievements.
	GetUser(ctx context.Context, userID string) (*UserProgress, error)
	// Totals returns stored XP alongside the sums of its sources.
	Totals(ctx context.Context, userID string) (ProgressTotals, error)
	// ListUserIDs returns every learner id, sorted.
	ListUserIDs(ctx context.Context) ([]string, error)
	Close() error
}

// UnitOfWork is one atomic progression transaction.
//
// Nothing written through a UnitOfWork is visible to other readers until
// Commit returns nil. Rollback after Commit is a no-op.
type UnitOfWork interface {
	CreateUser(ctx context.Context, user *UserProgress) error
	// LockUser reads a learner and holds it against concurrent writers until
	// the unit ends.
	LockUser(ctx context.Context, userID string) (*UserProgress, error)
	// InsertCompletion inserts rec unless (UserID, ChallengeID) already
	// exists. It reports whether a row was inserted.
	InsertCompletion(ctx context.Context, rec CompletionRecord) (bool, error)
	// TouchCompletion bumps submitted_at and keeps the best score.
	TouchCompletion(ctx context.Context, userID, challengeID string, submittedAt time.Time, score int) error
	// InsertAchievement inserts ua unless it already exists and reports
	// whether a row was inserted.
	InsertAchievement(ctx context.Context, ua UnlockedAchievement) (bool, error)
	// AddXP increments xp in place and returns the new total.
	AddXP(ctx context.Context, userID string, delta int) (int, error)
	UpdateStanding(ctx context.Context, userID string, s Standing) error
	Commit() error
	Rollback() error
}
