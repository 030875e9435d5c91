// Package progress applies challenge completions to durable learner state.
//
// RecordCompletion is the only write path for XP. Each call runs as one unit
// of work whose XP increment is gated on inserting the (user, challenge)
// completion row: when the insert finds an existing row, the call degrades to
// a timestamp update and awards nothing. Duplicate and concurrent
// submissions therefore never double-award, regardless of how many reach the
// store.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/vibecheck/internal/achievement"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/ordering"
	"github.com/felixgeelhaar/vibecheck/internal/progression"
)

// Catalog is the read-only content the coordinator needs.
type Catalog interface {
	Levels() domain.LevelTable
	Challenge(id string) (domain.Challenge, bool)
	Challenges() []domain.Challenge
	ChallengesIn(cat domain.Category) []domain.Challenge
	CategoryIDs() []domain.Category
	Achievements() []domain.Achievement
}

// EventPublisher receives events after their transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// SubmissionGuard dampens bursts of identical submissions before they reach
// storage. The store's unique completion gate stays authoritative.
type SubmissionGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Observer is told about coordinator outcomes.
type Observer interface {
	ObserveCompletion(result *CompletionResult)
	ObserveStorageError(op string, err error)
	ObserveTransaction(op string, elapsed time.Duration)
}

// CompletionRequest is one accepted submission.
type CompletionRequest struct {
	UserID      string
	ChallengeID string
	XPEarned    int
	Score       int
	// Elapsed is the time taken; zero when the client did not time it.
	Elapsed     time.Duration
	SubmittedAt time.Time
}

// CompletionResult is the learner's standing after a completion.
type CompletionResult struct {
	NewXP            int      `json:"new_xp"`
	NewLevel         int      `json:"new_level"`
	AlreadyCompleted bool     `json:"already_completed"`
	Unlocked         []string `json:"unlocked,omitempty"`
	BonusXP          int      `json:"bonus_xp"`
	StreakDays       int      `json:"streak_days"`
}

// EnrollRequest creates a learner.
type EnrollRequest struct {
	UserID   string
	Email    string
	Name     string
	Timezone string
	Role     domain.Role
}

// View is a learner with display-ready progression.
type View struct {
	User     *domain.UserProgress `json:"user"`
	Level    domain.Level         `json:"level"`
	Progress progression.Progress `json:"progress"`
}

// Coordinator owns progression writes.
type Coordinator struct {
	store     domain.ProgressStore
	catalog   Catalog
	calc      *progression.Calculator
	evaluator *achievement.Evaluator
	exec      *executor
	cfg       Config

	publisher EventPublisher
	guard     SubmissionGuard
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig overrides storage timeouts and resilience settings.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithPublisher sets where committed events go.
func WithPublisher(p EventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithGuard sets an in-flight submission guard.
func WithGuard(g SubmissionGuard) Option {
	return func(c *Coordinator) { c.guard = g }
}

// WithObserver sets an outcome observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator over store and catalog.
func New(store domain.ProgressStore, catalog Catalog, opts ...Option) (*Coordinator, error) {
	calc, err := progression.New(catalog.Levels())
	if err != nil {
		return nil, fmt.Errorf("level table: %w", err)
	}

	c := &Coordinator{
		store:     store,
		catalog:   catalog,
		calc:      calc,
		evaluator: achievement.NewEvaluator(catalog.Achievements()),
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.withDefaults()
	c.exec = newExecutor(c.cfg, c.logger)
	return c, nil
}

// Calculator exposes the level calculator the coordinator uses.
func (c *Coordinator) Calculator() *progression.Calculator {
	return c.calc
}

// RecordCompletion applies a completion for req.UserID.
func (c *Coordinator) RecordCompletion(ctx context.Context, p domain.Principal, req CompletionRequest) (*CompletionResult, error) {
	ch, err := c.validateCompletion(req)
	if err != nil {
		return nil, err
	}
	if !p.CanActFor(req.UserID) {
		return nil, fmt.Errorf("record completion for %s: %w", req.UserID, domain.ErrForbidden)
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = c.now()
	}
	req.SubmittedAt = req.SubmittedAt.UTC()

	if c.guard != nil {
		release, err := c.guard.Acquire(ctx, req.UserID+":"+req.ChallengeID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var (
		result *CompletionResult
		events []domain.Event
	)
	err = c.run(ctx, "record completion", func(ctx context.Context) error {
		var txErr error
		result, events, txErr = c.recordCompletion(ctx, ch, req)
		return txErr
	})
	if err != nil {
		c.storageFailed("record_completion", err)
		return nil, err
	}

	c.logger.Info("completion recorded",
		"user_id", req.UserID,
		"challenge_id", req.ChallengeID,
		"new_xp", result.NewXP,
		"new_level", result.NewLevel,
		"already_completed", result.AlreadyCompleted,
		"unlocked", strings.Join(result.Unlocked, ","))

	if c.observer != nil {
		c.observer.ObserveCompletion(result)
	}
	c.publish(ctx, events)
	return result, nil
}

func (c *Coordinator) validateCompletion(req CompletionRequest) (domain.Challenge, error) {
	if req.UserID == "" {
		return domain.Challenge{}, domain.Validationf("user id is required")
	}
	if req.ChallengeID == "" {
		return domain.Challenge{}, domain.Validationf("challenge id is required")
	}
	if req.XPEarned < 0 {
		return domain.Challenge{}, domain.Validationf("xp earned must be non-negative, got %d", req.XPEarned)
	}
	if req.Score < 0 || req.Score > 100 {
		return domain.Challenge{}, domain.Validationf("score %d outside [0,100]", req.Score)
	}
	if req.Elapsed < 0 {
		return domain.Challenge{}, domain.Validationf("elapsed must be non-negative")
	}
	if req.Score < domain.PassThreshold {
		return domain.Challenge{}, fmt.Errorf("score %d below %d: %w", req.Score, domain.PassThreshold, domain.ErrNotPassed)
	}
	ch, ok := c.catalog.Challenge(req.ChallengeID)
	if !ok {
		return domain.Challenge{}, fmt.Errorf("%s: %w", req.ChallengeID, domain.ErrChallengeNotFound)
	}
	return ch, nil
}

func (c *Coordinator) recordCompletion(ctx context.Context, ch domain.Challenge, req CompletionRequest) (*CompletionResult, []domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()

	uow, err := c.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Rollback()

	user, err := uow.LockUser(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}

	at := req.SubmittedAt
	rec := domain.CompletionRecord{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		ChallengeID: req.ChallengeID,
		Status:      domain.StatusCompleted,
		XPAwarded:   req.XPEarned,
		BestScore:   req.Score,
		CompletedAt: at,
		SubmittedAt: at,
	}
	inserted, err := uow.InsertCompletion(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	if !inserted {
		return c.resubmit(ctx, uow, user, ch, req)
	}

	xp, err := uow.AddXP(ctx, req.UserID, req.XPEarned)
	if err != nil {
		return nil, nil, err
	}
	levelBefore := user.Level
	streak := NextStreak(user.LastActiveAt, user.StreakDays, at)
	completions := append(user.Completions, rec)

	level, err := c.calc.LevelForXP(xp)
	if err != nil {
		return nil, nil, err
	}

	ev := achievement.Event{
		Kind:            achievement.EventCompletion,
		ChallengeID:     ch.ID,
		FirstCompletion: len(user.Completions) == 0,
		TimeLimit:       ch.TimeLimit,
		Elapsed:         req.Elapsed,
		CompletedAt:     at,
		Location:        user.Location(),
		StreakDays:      streak,
		LevelAfter:      level,
	}
	c.describeCompletions(&ev, completions)

	unlocked, bonus, xp, level, err := c.unlock(ctx, uow, user, ev, xp)
	if err != nil {
		return nil, nil, err
	}

	if err := uow.UpdateStanding(ctx, req.UserID, domain.Standing{
		Level:        level,
		StreakDays:   streak,
		LastActiveAt: at,
	}); err != nil {
		return nil, nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}

	events := append([]domain.Event{
		domain.NewChallengeCompletedEvent(req.UserID, ch.ID, req.XPEarned, req.Score, xp, at),
	}, c.unlockEvents(req.UserID, unlocked, at)...)
	if level > levelBefore {
		user.XP, user.Level = xp, level
		info, _ := c.calc.Level(level)
		events = append(events, domain.NewLevelReachedEvent(user, levelBefore, info.Name, at))
	}

	return &CompletionResult{
		NewXP:      xp,
		NewLevel:   level,
		Unlocked:   unlocked,
		BonusXP:    bonus,
		StreakDays: streak,
	}, events, nil
}

// resubmit handles a submission for a challenge the learner already
// completed. The completion itself awards nothing; only its timestamp and best
// score move. A higher best score can still earn score-based achievements,
// whose bonuses are credited like any other unlock.
func (c *Coordinator) resubmit(ctx context.Context, uow domain.UnitOfWork, user *domain.UserProgress, ch domain.Challenge, req CompletionRequest) (*CompletionResult, []domain.Event, error) {
	at := req.SubmittedAt
	if err := uow.TouchCompletion(ctx, req.UserID, req.ChallengeID, at, req.Score); err != nil {
		return nil, nil, err
	}

	result := &CompletionResult{
		NewXP:            user.XP,
		NewLevel:         user.Level,
		AlreadyCompleted: true,
		StreakDays:       user.StreakDays,
	}

	completions := make([]domain.CompletionRecord, len(user.Completions))
	raised := false
	for i, rec := range user.Completions {
		if rec.ChallengeID == ch.ID && req.Score > rec.BestScore {
			rec.BestScore = req.Score
			raised = true
		}
		completions[i] = rec
	}
	if !raised {
		if err := uow.Commit(); err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	}

	ev := achievement.Event{
		Kind:        achievement.EventRescore,
		ChallengeID: ch.ID,
		CompletedAt: at,
		Location:    user.Location(),
		LevelAfter:  user.Level,
	}
	c.describeCompletions(&ev, completions)

	unlocked, bonus, xp, level, err := c.unlock(ctx, uow, user, ev, user.XP)
	if err != nil {
		return nil, nil, err
	}
	if len(unlocked) > 0 {
		if err := uow.UpdateStanding(ctx, req.UserID, domain.Standing{
			Level:        level,
			StreakDays:   user.StreakDays,
			LastActiveAt: user.LastActiveAt,
		}); err != nil {
			return nil, nil, err
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}

	levelBefore := user.Level
	events := c.unlockEvents(req.UserID, unlocked, at)
	if level > levelBefore {
		user.XP, user.Level = xp, level
		info, _ := c.calc.Level(level)
		events = append(events, domain.NewLevelReachedEvent(user, levelBefore, info.Name, at))
	}

	result.NewXP, result.NewLevel = xp, level
	result.Unlocked, result.BonusXP = unlocked, bonus
	return result, events, nil
}

func (c *Coordinator) unlockEvents(userID string, ids []string, at time.Time) []domain.Event {
	events := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		a, _ := c.evaluator.Lookup(id)
		events = append(events, domain.NewAchievementUnlockedEvent(userID, id, a.XPBonus, at))
	}
	return events
}

// unlock persists every achievement ev earns. Bonus XP can lift the learner
// past further level thresholds, so evaluation repeats until the level stops
// moving. Bonuses are credited only for rows the store actually inserted.
func (c *Coordinator) unlock(ctx context.Context, uow domain.UnitOfWork, user *domain.UserProgress, ev achievement.Event, xp int) ([]string, int, int, int, error) {
	held := user.Unlocked()
	state := achievement.State{Unlocked: held, LevelBefore: user.Level}

	var (
		newly []string
		bonus int
	)
	for {
		ids := c.evaluator.Evaluate(state, ev)
		for _, id := range ids {
			a, _ := c.evaluator.Lookup(id)
			held[id] = true

			ok, err := uow.InsertAchievement(ctx, domain.UnlockedAchievement{
				UserID:        user.UserID,
				AchievementID: id,
				XPBonus:       a.XPBonus,
				UnlockedAt:    ev.CompletedAt,
			})
			if err != nil {
				return nil, 0, 0, 0, err
			}
			if !ok {
				continue
			}
			newly = append(newly, id)
			if a.XPBonus > 0 {
				if xp, err = uow.AddXP(ctx, user.UserID, a.XPBonus); err != nil {
					return nil, 0, 0, 0, err
				}
				bonus += a.XPBonus
			}
		}

		level, err := c.calc.LevelForXP(xp)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		if level == ev.LevelAfter {
			return newly, bonus, xp, level, nil
		}
		ev.LevelAfter = level
	}
}

func (c *Coordinator) describeCompletions(ev *achievement.Event, completions []domain.CompletionRecord) {
	done := make(map[string]bool, len(completions))
	ev.CategoryCompletions = make(map[domain.Category]int)
	for _, rec := range completions {
		done[rec.ChallengeID] = true
		if rec.BestScore == 100 {
			ev.PerfectScores++
		}
		if ch, ok := c.catalog.Challenge(rec.ChallengeID); ok {
			ev.CategoryCompletions[ch.Category]++
		}
	}

	ev.CategoriesComplete = make(map[domain.Category]bool)
	ev.AllCategoriesCompleted = true
	for _, cat := range c.catalog.CategoryIDs() {
		if ev.CategoryCompletions[cat] == 0 {
			ev.AllCategoriesCompleted = false
		}
		complete := true
		for _, ch := range c.catalog.ChallengesIn(cat) {
			if !done[ch.ID] {
				complete = false
				break
			}
		}
		ev.CategoriesComplete[cat] = complete
	}
}

// Enroll creates a learner at level 1 and unlocks account achievements.
func (c *Coordinator) Enroll(ctx context.Context, p domain.Principal, req EnrollRequest) (*domain.UserProgress, error) {
	if req.UserID == "" {
		return nil, domain.Validationf("user id is required")
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, domain.Validationf("unknown timezone %q", req.Timezone)
		}
	}
	if req.Role == "" {
		req.Role = domain.RoleUser
	}
	if !p.CanActFor(req.UserID) || (req.Role == domain.RoleAdmin && p.Role != domain.RoleAdmin) {
		return nil, fmt.Errorf("enroll %s: %w", req.UserID, domain.ErrForbidden)
	}

	now := c.now().UTC()
	var (
		user   *domain.UserProgress
		events []domain.Event
	)
	err := c.run(ctx, "enroll", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
		defer cancel()

		uow, err := c.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer uow.Rollback()

		u := &domain.UserProgress{
			UserID:    req.UserID,
			Email:     req.Email,
			Name:      req.Name,
			Role:      req.Role,
			Timezone:  req.Timezone,
			Level:     1,
			CreatedAt: now,
		}
		if err := uow.CreateUser(ctx, u); err != nil {
			return err
		}

		evs := []domain.Event{domain.NewUserEnrolledEvent(u, now)}
		ids := c.evaluator.Evaluate(achievement.State{LevelBefore: 1}, achievement.Event{
			Kind:        achievement.EventEnrollment,
			CompletedAt: now,
			Location:    u.Location(),
		})
		for _, id := range ids {
			a, _ := c.evaluator.Lookup(id)
			ua := domain.UnlockedAchievement{UserID: u.UserID, AchievementID: id, XPBonus: a.XPBonus, UnlockedAt: now}
			if _, err := uow.InsertAchievement(ctx, ua); err != nil {
				return err
			}
			if a.XPBonus > 0 {
				if u.XP, err = uow.AddXP(ctx, u.UserID, a.XPBonus); err != nil {
					return err
				}
			}
			u.Achievements = append(u.Achievements, ua)
			evs = append(evs, domain.NewAchievementUnlockedEvent(u.UserID, id, a.XPBonus, now))
		}

		if u.Level, err = c.calc.LevelForXP(u.XP); err != nil {
			return err
		}
		if err := uow.UpdateStanding(ctx, u.UserID, domain.Standing{Level: u.Level}); err != nil {
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}
		user, events = u, evs
		return nil
	})
	if err != nil {
		c.storageFailed("enroll", err)
		return nil, err
	}

	c.logger.Info("learner enrolled", "user_id", user.UserID)
	c.publish(ctx, events)
	return user, nil
}

// Progress returns a learner's standing for display.
func (c *Coordinator) Progress(ctx context.Context, p domain.Principal, userID string) (*View, error) {
	if !p.CanActFor(userID) {
		return nil, fmt.Errorf("read progress for %s: %w", userID, domain.ErrForbidden)
	}
	user, err := c.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	level, err := c.calc.Level(user.Level)
	if err != nil {
		return nil, err
	}
	prog, err := c.calc.ProgressToward(user.XP, user.Level)
	if err != nil {
		return nil, err
	}
	return &View{User: user, Level: level, Progress: prog}, nil
}

// Recommend returns up to n challenges for the learner, in the learner's
// stable order.
func (c *Coordinator) Recommend(ctx context.Context, p domain.Principal, userID string, n int) ([]domain.Challenge, error) {
	if !p.CanActFor(userID) {
		return nil, fmt.Errorf("recommend for %s: %w", userID, domain.ErrForbidden)
	}
	user, err := c.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ordering.Recommend(c.catalog.Challenges(), user.Level, user.UserID, n), nil
}

func (c *Coordinator) load(ctx context.Context, userID string) (*domain.UserProgress, error) {
	var user *domain.UserProgress
	err := c.run(ctx, "load user", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
		defer cancel()
		u, err := c.store.GetUser(ctx, userID)
		user = u
		return err
	})
	if err != nil {
		c.storageFailed("load_user", err)
		return nil, err
	}
	return user, nil
}

// Audit checks that userID's XP equals the sum of what was awarded for it
// and that the stored level matches that XP. A mismatch is a bug, reported
// as ErrConsistency and never repaired here.
func (c *Coordinator) Audit(ctx context.Context, userID string) error {
	var totals domain.ProgressTotals
	err := c.run(ctx, "audit", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
		defer cancel()
		t, err := c.store.Totals(ctx, userID)
		totals = t
		return err
	})
	if err != nil {
		return err
	}

	if want := totals.CompletionXP + totals.BonusXP; totals.XP != want {
		c.logger.Error("xp does not reconcile",
			"user_id", userID,
			"xp", totals.XP,
			"completion_xp", totals.CompletionXP,
			"bonus_xp", totals.BonusXP)
		return fmt.Errorf("user %s: xp %d, awarded %d: %w", userID, totals.XP, want, domain.ErrConsistency)
	}
	level, err := c.calc.LevelForXP(totals.XP)
	if err != nil {
		return err
	}
	if level != totals.Level {
		c.logger.Error("level does not match xp",
			"user_id", userID,
			"xp", totals.XP,
			"level", totals.Level,
			"expected_level", level)
		return fmt.Errorf("user %s: level %d, xp implies %d: %w", userID, totals.Level, level, domain.ErrConsistency)
	}
	return nil
}

// AuditAll audits every learner. The result has one entry per learner; the
// error is nil when their totals are consistent.
func (c *Coordinator) AuditAll(ctx context.Context) (map[string]error, error) {
	ids, err := c.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]error, len(ids))
	for _, id := range ids {
		results[id] = c.Audit(ctx, id)
	}
	return results, nil
}

func (c *Coordinator) publish(ctx context.Context, events []domain.Event) {
	if c.publisher == nil {
		return
	}
	// Publishing must not inherit the caller's deadline or cancellation.
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if err := c.publisher.Publish(ctx, ev); err != nil {
			c.logger.Warn("failed to publish event",
				"event_type", ev.EventType(),
				"user_id", ev.UserID(),
				"error", err)
		}
	}
}

// run executes fn under the resilience policy and reports its latency.
func (c *Coordinator) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := c.exec.run(ctx, op, fn)
	if c.observer != nil {
		c.observer.ObserveTransaction(op, time.Since(start))
	}
	return err
}

func (c *Coordinator) storageFailed(op string, err error) {
	if !errors.Is(err, domain.ErrTransient) {
		return
	}
	c.logger.Warn("storage unavailable", "op", op, "error", err)
	if c.observer != nil {
		c.observer.ObserveStorageError(op, err)
	}
}
