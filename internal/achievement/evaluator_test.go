package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// noon keeps time-window achievements out of the way.
var noon = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newEvaluator() *Evaluator {
	return NewEvaluator(catalog.Default().Achievements())
}

func completion(mutate func(*Event)) Event {
	ev := Event{
		Kind:        EventCompletion,
		ChallengeID: "prompt-basics-2",
		CompletedAt: noon,
		StreakDays:  1,
		LevelAfter:  1,
	}
	if mutate != nil {
		mutate(&ev)
	}
	return ev
}

func TestEvaluate_Enrollment(t *testing.T) {
	got := newEvaluator().Evaluate(State{LevelBefore: 1}, Event{Kind: EventEnrollment, CompletedAt: noon})
	assert.Equal(t, []string{"first_steps"}, got)
}

func TestEvaluate_FirstCompletion(t *testing.T) {
	e := newEvaluator()

	got := e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) { ev.FirstCompletion = true }))
	assert.Equal(t, []string{"first_challenge"}, got)

	got = e.Evaluate(State{LevelBefore: 1}, completion(nil))
	assert.Empty(t, got)
}

func TestEvaluate_Speed(t *testing.T) {
	e := newEvaluator()

	tests := []struct {
		name    string
		limit   time.Duration
		elapsed time.Duration
		want    bool
	}{
		{"under limit", 5 * time.Minute, 3 * time.Minute, true},
		{"exactly at limit", 5 * time.Minute, 5 * time.Minute, false},
		{"over limit", 5 * time.Minute, 6 * time.Minute, false},
		{"untimed challenge", 0, time.Minute, false},
		{"no elapsed reported", 5 * time.Minute, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) {
				ev.TimeLimit = tt.limit
				ev.Elapsed = tt.elapsed
			}))
			assert.Equal(t, tt.want, contains(got, "speed_demon"), "got %v", got)
		})
	}
}

func TestEvaluate_StreakThresholds(t *testing.T) {
	e := newEvaluator()

	tests := []struct {
		streak int
		want   []string
	}{
		{2, nil},
		{3, []string{"streak_3"}},
		{7, []string{"streak_3", "streak_7"}},
		{45, []string{"streak_3", "streak_30", "streak_7"}},
	}

	for _, tt := range tests {
		got := e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) { ev.StreakDays = tt.streak }))
		if tt.want == nil {
			assert.Empty(t, got, "streak %d", tt.streak)
			continue
		}
		assert.Equal(t, tt.want, got, "streak %d", tt.streak)
	}
}

func TestEvaluate_StreakRecomputedSameDay(t *testing.T) {
	e := newEvaluator()
	state := State{LevelBefore: 1, Unlocked: map[string]bool{"streak_3": true}}

	got := e.Evaluate(state, completion(func(ev *Event) { ev.StreakDays = 3 }))
	assert.Empty(t, got)
}

func TestEvaluate_LevelJumpUnlocksEveryLevelPassed(t *testing.T) {
	e := newEvaluator()

	got := e.Evaluate(State{LevelBefore: 2}, completion(func(ev *Event) { ev.LevelAfter = 4 }))
	assert.Equal(t, []string{"level_up_3", "level_up_4"}, got)

	got = e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) { ev.LevelAfter = 5 }))
	assert.Equal(t, []string{"level_up_2", "level_up_3", "level_up_4", "level_up_5"}, got)

	got = e.Evaluate(State{LevelBefore: 3}, completion(func(ev *Event) { ev.LevelAfter = 3 }))
	assert.Empty(t, got)
}

func TestEvaluate_Categories(t *testing.T) {
	e := newEvaluator()

	got := e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) {
		ev.AllCategoriesCompleted = true
		ev.CategoriesComplete = map[domain.Category]bool{domain.CategoryDebugging: true}
		ev.CategoryCompletions = map[domain.Category]int{domain.CategoryPrompting: 5}
	}))
	assert.Equal(t, []string{"all_categories", "bug_hunter", "prompt_apprentice"}, got)

	got = e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) {
		ev.CategoryCompletions = map[domain.Category]int{domain.CategoryPrompting: 4}
	}))
	assert.Empty(t, got)
}

func TestEvaluate_PerfectScores(t *testing.T) {
	e := newEvaluator()

	got := e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) { ev.PerfectScores = 5 }))
	assert.Equal(t, []string{"perfectionist"}, got)
}

func TestEvaluate_TimeWindowUsesLocation(t *testing.T) {
	e := newEvaluator()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		loc  *time.Location
		want []string
	}{
		{"utc 00:00", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil, []string{"night_owl"}},
		{"utc 03:59", time.Date(2026, 1, 1, 3, 59, 0, 0, time.UTC), nil, []string{"night_owl"}},
		{"utc 04:00", time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC), nil, nil},
		{"utc 05:00", time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC), nil, []string{"early_bird"}},
		{"utc 06:59", time.Date(2026, 1, 1, 6, 59, 0, 0, time.UTC), nil, []string{"early_bird"}},
		{"utc 07:00", time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC), nil, nil},
		// 18:30 UTC is 03:30 the next day in Tokyo.
		{"tokyo night", time.Date(2026, 1, 1, 18, 30, 0, 0, time.UTC), tokyo, []string{"night_owl"}},
		// 21:00 UTC is 06:00 in Tokyo.
		{"tokyo morning", time.Date(2026, 1, 1, 21, 0, 0, 0, time.UTC), tokyo, []string{"early_bird"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(State{LevelBefore: 1}, completion(func(ev *Event) {
				ev.CompletedAt = tt.at
				ev.Location = tt.loc
			}))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_NeverReturnsUnlocked(t *testing.T) {
	e := newEvaluator()

	all := make(map[string]bool)
	for _, a := range catalog.Default().Achievements() {
		all[a.ID] = true
	}

	ev := completion(func(ev *Event) {
		ev.FirstCompletion = true
		ev.TimeLimit = time.Minute
		ev.Elapsed = time.Second
		ev.StreakDays = 30
		ev.LevelAfter = 5
		ev.AllCategoriesCompleted = true
		ev.PerfectScores = 10
		ev.CompletedAt = time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	})

	fresh := e.Evaluate(State{LevelBefore: 1}, ev)
	require.NotEmpty(t, fresh)

	again := e.Evaluate(State{LevelBefore: 1, Unlocked: all}, ev)
	assert.Empty(t, again)
}

func TestLookup(t *testing.T) {
	e := newEvaluator()

	a, ok := e.Lookup("streak_7")
	require.True(t, ok)
	assert.Equal(t, 100, a.XPBonus)

	_, ok = e.Lookup("missing")
	assert.False(t, ok)
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestEvaluate_RescoreOnlyScoreRules(t *testing.T) {
	e := newEvaluator()
	ev := Event{
		Kind:          EventRescore,
		ChallengeID:   "prompt-basics-1",
		CompletedAt:   time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC),
		StreakDays:    7,
		LevelAfter:    1,
		PerfectScores: 5,
	}

	// The night-time hour and the streak would unlock on a first completion.
	assert.Equal(t, []string{"perfectionist"}, e.Evaluate(State{LevelBefore: 1}, ev))

	ev.LevelAfter = 2
	assert.Equal(t, []string{"level_up_2", "perfectionist"}, e.Evaluate(State{LevelBefore: 1}, ev))

	ev.PerfectScores = 4
	ev.LevelAfter = 1
	assert.Empty(t, e.Evaluate(State{LevelBefore: 1}, ev))
}
