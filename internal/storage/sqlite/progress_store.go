package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// ProgressStore implements domain.ProgressStore backed by SQLite.
type ProgressStore struct {
	db *DB
}

// NewProgressStore creates a new SQLite-backed progress store.
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Begin starts an immediate transaction.
func (s *ProgressStore) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	return &unitOfWork{tx: tx}, nil
}

// GetUser loads a learner with completions and achievements.
func (s *ProgressStore) GetUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	return loadUser(ctx, s.db, userID)
}

// Totals returns stored XP alongside the sums that should produce it.
func (s *ProgressStore) Totals(ctx context.Context, userID string) (domain.ProgressTotals, error) {
	var t domain.ProgressTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT u.xp, u.level,
			(SELECT COALESCE(SUM(xp_awarded), 0) FROM challenge_completions WHERE user_id = u.id),
			(SELECT COALESCE(SUM(xp_bonus), 0) FROM user_achievements WHERE user_id = u.id)
		FROM users u WHERE u.id = ?`, userID).Scan(&t.XP, &t.Level, &t.CompletionXP, &t.BonusXP)
	if errors.Is(err, sql.ErrNoRows) {
		return t, domain.ErrUserNotFound
	}
	if err != nil {
		return t, classify("totals", err)
	}
	return t, nil
}

// ListUserIDs returns all learner ids.
func (s *ProgressStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *ProgressStore) Close() error {
	return s.db.Close()
}

type unitOfWork struct {
	tx *sql.Tx
}

func (u *unitOfWork) CreateUser(ctx context.Context, user *domain.UserProgress) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, timezone, xp, level, streak_days, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	// The immediate transaction already holds the database write lock.
	return loadUser(ctx, u.tx, userID)
}

func (u *unitOfWork) InsertCompletion(ctx context.Context, rec domain.CompletionRecord) (bool, error) {
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO challenge_completions (id, user_id, challenge_id, status, xp_awarded, best_score, completed_at, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, challenge_id) DO NOTHING`,
		rec.ID, rec.UserID, rec.ChallengeID, string(rec.Status), rec.XPAwarded, rec.BestScore,
		rec.CompletedAt.UTC(), rec.SubmittedAt.UTC(),
	)
	if err != nil {
		return false, classify("insert completion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("insert completion", err)
	}
	return n == 1, nil
}

func (u *unitOfWork) TouchCompletion(ctx context.Context, userID, challengeID string, submittedAt time.Time, score int) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE challenge_completions SET submitted_at = ?, best_score = MAX(best_score, ?)
		WHERE user_id = ? AND challenge_id = ?`,
		submittedAt.UTC(), score, userID, challengeID,
	)
	if err != nil {
		return classify("touch completion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("completion %s/%s: %w", userID, challengeID, domain.ErrNotFound)
	}
	return nil
}

func (u *unitOfWork) InsertAchievement(ctx context.Context, ua domain.UnlockedAchievement) (bool, error) {
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, xp_bonus, unlocked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		ua.UserID, ua.AchievementID, ua.XPBonus, ua.UnlockedAt.UTC(),
	)
	if err != nil {
		return false, classify("insert achievement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("insert achievement", err)
	}
	return n == 1, nil
}

func (u *unitOfWork) AddXP(ctx context.Context, userID string, delta int) (int, error) {
	var xp int
	err := u.tx.QueryRowContext(ctx, "UPDATE users SET xp = xp + ? WHERE id = ? RETURNING xp", delta, userID).Scan(&xp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, classify("add xp", err)
	}
	return xp, nil
}

func (u *unitOfWork) UpdateStanding(ctx context.Context, userID string, s domain.Standing) error {
	res, err := u.tx.ExecContext(ctx,
		"UPDATE users SET level = ?, streak_days = ?, last_active_at = ? WHERE id = ?",
		s.Level, s.StreakDays, nullTime(s.LastActiveAt), userID,
	)
	if err != nil {
		return classify("update standing", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (u *unitOfWork) Commit() error {
	return classify("commit", u.tx.Commit())
}

func (u *unitOfWork) Rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify("rollback", err)
	}
	return nil
}

func loadUser(ctx context.Context, q querier, userID string) (*domain.UserProgress, error) {
	var (
		user       domain.UserProgress
		role       string
		lastActive sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, email, name, role, timezone, xp, level, streak_days, last_active_at, created_at
		FROM users WHERE id = ?`, userID).Scan(
		&user.UserID, &user.Email, &user.Name, &role, &user.Timezone,
		&user.XP, &user.Level, &user.StreakDays, &lastActive, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, classify("load user", err)
	}
	user.Role = domain.Role(role)
	if lastActive.Valid {
		user.LastActiveAt = lastActive.Time.UTC()
	}
	user.CreatedAt = user.CreatedAt.UTC()

	if user.Completions, err = loadCompletions(ctx, q, userID); err != nil {
		return nil, err
	}
	if user.Achievements, err = loadAchievements(ctx, q, userID); err != nil {
		return nil, err
	}
	return &user, nil
}

func loadCompletions(ctx context.Context, q querier, userID string) ([]domain.CompletionRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, challenge_id, status, xp_awarded, best_score, completed_at, submitted_at
		FROM challenge_completions WHERE user_id = ? ORDER BY completed_at, challenge_id`, userID)
	if err != nil {
		return nil, classify("load completions", err)
	}
	defer rows.Close()

	var out []domain.CompletionRecord
	for rows.Next() {
		var (
			rec    domain.CompletionRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ChallengeID, &status,
			&rec.XPAwarded, &rec.BestScore, &rec.CompletedAt, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.Status = domain.CompletionStatus(status)
		rec.CompletedAt = rec.CompletedAt.UTC()
		rec.SubmittedAt = rec.SubmittedAt.UTC()
		out = append(out, rec)
	}
	return out, classify("load completions", rows.Err())
}

func loadAchievements(ctx context.Context, q querier, userID string) ([]domain.UnlockedAchievement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, achievement_id, xp_bonus, unlocked_at
		FROM user_achievements WHERE user_id = ? ORDER BY unlocked_at, achievement_id`, userID)
	if err != nil {
		return nil, classify("load achievements", err)
	}
	defer rows.Close()

	var out []domain.UnlockedAchievement
	for rows.Next() {
		var ua domain.UnlockedAchievement
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &ua.XPBonus, &ua.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		ua.UnlockedAt = ua.UnlockedAt.UTC()
		out = append(out, ua)
	}
	return out, classify("load achievements", rows.Err())
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
