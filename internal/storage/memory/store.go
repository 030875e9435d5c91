// Package memory is an in-process ProgressStore for tests and demos.
//
// Units of work are serialized: Begin blocks until the previous unit commits
// or rolls back, which gives the same isolation the sqlite store gets from an
// immediate transaction.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// ErrInjected is the cause carried by failures from InjectFailures.
var ErrInjected = errors.New("injected storage failure")

// Store keeps learners in a map.
type Store struct {
	writer chan struct{}

	mu    sync.RWMutex
	users map[string]*domain.UserProgress

	failures atomic.Int32
	begins   atomic.Int32
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		writer: make(chan struct{}, 1),
		users:  make(map[string]*domain.UserProgress),
	}
}

// InjectFailures makes the next n calls to Begin fail with a transient error.
func (s *Store) InjectFailures(n int) {
	s.failures.Store(int32(n))
}

// Begins reports how many units of work have been requested.
func (s *Store) Begins() int {
	return int(s.begins.Load())
}

// Begin implements domain.ProgressStore.
func (s *Store) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	s.begins.Add(1)
	if s.failures.Load() > 0 && s.failures.Add(-1) >= 0 {
		return nil, domain.Transient("begin", ErrInjected)
	}

	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, domain.Transient("begin", ctx.Err())
	}
	return &unit{store: s, staged: make(map[string]*domain.UserProgress)}, nil
}

// GetUser implements domain.ProgressStore.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(u), nil
}

// Totals implements domain.ProgressStore.
func (s *Store) Totals(ctx context.Context, userID string) (domain.ProgressTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.ProgressTotals{}, domain.ErrUserNotFound
	}
	t := domain.ProgressTotals{XP: u.XP, Level: u.Level}
	for _, c := range u.Completions {
		t.CompletionXP += c.XPAwarded
	}
	for _, a := range u.Achievements {
		t.BonusXP += a.XPBonus
	}
	return t, nil
}

// ListUserIDs implements domain.ProgressStore.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put stores a learner directly, bypassing units of work. Tests use it to
// seed or corrupt state.
func (s *Store) Put(u *domain.UserProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = clone(u)
}

// Close implements domain.ProgressStore.
func (s *Store) Close() error { return nil }

type unit struct {
	store  *Store
	staged map[string]*domain.UserProgress
	done   bool
}

func (u *unit) load(userID string) (*domain.UserProgress, error) {
	if p, ok := u.staged[userID]; ok {
		return p, nil
	}
	u.store.mu.RLock()
	p, ok := u.store.users[userID]
	u.store.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := clone(p)
	u.staged[userID] = c
	return c, nil
}

func (u *unit) CreateUser(ctx context.Context, user *domain.UserProgress) error {
	if _, err := u.load(user.UserID); err == nil {
		return domain.ErrUserAlreadyExists
	}
	u.staged[user.UserID] = clone(user)
	return nil
}

func (u *unit) LockUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	p, err := u.load(userID)
	if err != nil {
		return nil, err
	}
	return clone(p), nil
}

func (u *unit) InsertCompletion(ctx context.Context, rec domain.CompletionRecord) (bool, error) {
	p, err := u.load(rec.UserID)
	if err != nil {
		return false, err
	}
	if p.HasCompleted(rec.ChallengeID) {
		return false, nil
	}
	p.Completions = append(p.Completions, rec)
	return true, nil
}

func (u *unit) TouchCompletion(ctx context.Context, userID, challengeID string, submittedAt time.Time, score int) error {
	p, err := u.load(userID)
	if err != nil {
		return err
	}
	for i := range p.Completions {
		c := &p.Completions[i]
		if c.ChallengeID == challengeID {
			c.SubmittedAt = submittedAt
			c.BestScore = max(c.BestScore, score)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (u *unit) InsertAchievement(ctx context.Context, ua domain.UnlockedAchievement) (bool, error) {
	p, err := u.load(ua.UserID)
	if err != nil {
		return false, err
	}
	if p.Unlocked()[ua.AchievementID] {
		return false, nil
	}
	p.Achievements = append(p.Achievements, ua)
	return true, nil
}

func (u *unit) AddXP(ctx context.Context, userID string, delta int) (int, error) {
	p, err := u.load(userID)
	if err != nil {
		return 0, err
	}
	p.XP += delta
	return p.XP, nil
}

func (u *unit) UpdateStanding(ctx context.Context, userID string, s domain.Standing) error {
	p, err := u.load(userID)
	if err != nil {
		return err
	}
	p.Level = s.Level
	p.StreakDays = s.StreakDays
	p.LastActiveAt = s.LastActiveAt
	return nil
}

func (u *unit) Commit() error {
	if u.done {
		return nil
	}
	u.store.mu.Lock()
	for id, p := range u.staged {
		u.store.users[id] = p
	}
	u.store.mu.Unlock()
	u.release()
	return nil
}

func (u *unit) Rollback() error {
	if u.done {
		return nil
	}
	u.release()
	return nil
}

func (u *unit) release() {
	u.done = true
	<-u.store.writer
}

func clone(p *domain.UserProgress) *domain.UserProgress {
	c := *p
	c.Completions = slices.Clone(p.Completions)
	c.Achievements = slices.Clone(p.Achievements)
	return &c
}

var _ domain.ProgressStore = (*Store)(nil)
