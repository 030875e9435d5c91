package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// ProgressStore implements domain.ProgressStore using PostgreSQL.
//
// Units of work run at READ COMMITTED and serialize on the learner row with
// SELECT ... FOR UPDATE. XP is only ever changed with an in-place increment.
type ProgressStore struct {
	pool *pgxpool.Pool
}

// NewProgressStore creates a new PostgreSQL-backed progress store.
func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// queryer is satisfied by *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Begin starts a transaction.
func (s *ProgressStore) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, classify("begin", err)
	}
	return &unitOfWork{tx: tx}, nil
}

// GetUser loads a learner with completions and achievements.
func (s *ProgressStore) GetUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	return loadUser(ctx, s.pool, userID, false)
}

// Totals returns stored XP alongside the sums that should produce it.
func (s *ProgressStore) Totals(ctx context.Context, userID string) (domain.ProgressTotals, error) {
	var t domain.ProgressTotals
	err := s.pool.QueryRow(ctx, `
		SELECT u.xp, u.level,
			(SELECT COALESCE(SUM(xp_awarded), 0)::int FROM challenge_completions WHERE user_id = u.id),
			(SELECT COALESCE(SUM(xp_bonus), 0)::int FROM user_achievements WHERE user_id = u.id)
		FROM users u WHERE u.id = $1`, userID).Scan(&t.XP, &t.Level, &t.CompletionXP, &t.BonusXP)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, domain.ErrUserNotFound
	}
	if err != nil {
		return t, classify("totals", err)
	}
	return t, nil
}

// ListUserIDs returns all learner ids.
func (s *ProgressStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, classify("list users", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("list users", err)
	}
	return ids, nil
}

// Ping checks database connectivity
func (s *ProgressStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *ProgressStore) Close() error {
	s.pool.Close()
	return nil
}

type unitOfWork struct {
	tx pgx.Tx
}

func (u *unitOfWork) CreateUser(ctx context.Context, user *domain.UserProgress) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO users (id, email, name, role, timezone, xp, level, streak_days, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.UserID, user.Email, user.Name, string(user.Role), user.Timezone,
		user.XP, user.Level, user.StreakDays, nullTime(user.LastActiveAt), user.CreatedAt.UTC(),
	)
	if err := classify("create user", err); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrUserAlreadyExists
		}
		return err
	}
	return nil
}

func (u *unitOfWork) LockUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	return loadUser(ctx, u.tx, userID, true)
}

func (u *unitOfWork) InsertCompletion(ctx context.Context, rec domain.CompletionRecord) (bool, error) {
	tag, err := u.tx.Exec(ctx, `
		INSERT INTO challenge_completions (id, user_id, challenge_id, status, xp_awarded, best_score, completed_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT challenge_completions_user_challenge DO NOTHING`,
		rec.ID, rec.UserID, rec.ChallengeID, string(rec.Status), rec.XPAwarded, rec.BestScore,
		rec.CompletedAt.UTC(), rec.SubmittedAt.UTC(),
	)
	if err != nil {
		return false, classify("insert completion", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (u *unitOfWork) TouchCompletion(ctx context.Context, userID, challengeID string, submittedAt time.Time, score int) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE challenge_completions SET submitted_at = $1, best_score = GREATEST(best_score, $2)
		WHERE user_id = $3 AND challenge_id = $4`,
		submittedAt.UTC(), score, userID, challengeID,
	)
	if err != nil {
		return classify("touch completion", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("completion %s/%s: %w", userID, challengeID, domain.ErrNotFound)
	}
	return nil
}

func (u *unitOfWork) InsertAchievement(ctx context.Context, ua domain.UnlockedAchievement) (bool, error) {
	tag, err := u.tx.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, xp_bonus, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		ua.UserID, ua.AchievementID, ua.XPBonus, ua.UnlockedAt.UTC(),
	)
	if err != nil {
		return false, classify("insert achievement", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (u *unitOfWork) AddXP(ctx context.Context, userID string, delta int) (int, error) {
	var xp int
	err := u.tx.QueryRow(ctx, "UPDATE users SET xp = xp + $1 WHERE id = $2 RETURNING xp", delta, userID).Scan(&xp)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, classify("add xp", err)
	}
	return xp, nil
}

func (u *unitOfWork) UpdateStanding(ctx context.Context, userID string, s domain.Standing) error {
	tag, err := u.tx.Exec(ctx,
		"UPDATE users SET level = $1, streak_days = $2, last_active_at = $3 WHERE id = $4",
		s.Level, s.StreakDays, nullTime(s.LastActiveAt), userID,
	)
	if err != nil {
		return classify("update standing", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (u *unitOfWork) Commit() error {
	// The unit's context may already be done; commit on a fresh bounded one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return classify("commit", u.tx.Commit(ctx))
}

func (u *unitOfWork) Rollback() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classify("rollback", err)
	}
	return nil
}

func loadUser(ctx context.Context, q queryer, userID string, lock bool) (*domain.UserProgress, error) {
	query := `
		SELECT id, email, name, role, timezone, xp, level, streak_days, last_active_at, created_at
		FROM users WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}

	var (
		user       domain.UserProgress
		role       string
		lastActive *time.Time
	)
	err := q.QueryRow(ctx, query, userID).Scan(
		&user.UserID, &user.Email, &user.Name, &role, &user.Timezone,
		&user.XP, &user.Level, &user.StreakDays, &lastActive, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, classify("load user", err)
	}
	user.Role = domain.Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	if lastActive != nil {
		user.LastActiveAt = lastActive.UTC()
	}

	rows, err := q.Query(ctx, `
		SELECT id::text, user_id, challenge_id, status, xp_awarded, best_score, completed_at, submitted_at
		FROM challenge_completions WHERE user_id = $1 ORDER BY completed_at, challenge_id`, userID)
	if err != nil {
		return nil, classify("load completions", err)
	}
	user.Completions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CompletionRecord, error) {
		var (
			rec    domain.CompletionRecord
			status string
		)
		err := row.Scan(&rec.ID, &rec.UserID, &rec.ChallengeID, &status,
			&rec.XPAwarded, &rec.BestScore, &rec.CompletedAt, &rec.SubmittedAt)
		rec.Status = domain.CompletionStatus(status)
		rec.CompletedAt = rec.CompletedAt.UTC()
		rec.SubmittedAt = rec.SubmittedAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, classify("load completions", err)
	}

	rows, err = q.Query(ctx, `
		SELECT user_id, achievement_id, xp_bonus, unlocked_at
		FROM user_achievements WHERE user_id = $1 ORDER BY unlocked_at, achievement_id`, userID)
	if err != nil {
		return nil, classify("load achievements", err)
	}
	user.Achievements, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UnlockedAchievement, error) {
		var ua domain.UnlockedAchievement
		err := row.Scan(&ua.UserID, &ua.AchievementID, &ua.XPBonus, &ua.UnlockedAt)
		ua.UnlockedAt = ua.UnlockedAt.UTC()
		return ua, err
	})
	if err != nil {
		return nil, classify("load achievements", err)
	}
	return &user, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ domain.ProgressStore = (*ProgressStore)(nil)
