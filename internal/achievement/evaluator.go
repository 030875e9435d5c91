// Package achievement decides which achievements a progression event earns.
//
// The evaluator is advisory: it returns ids that should unlock and never
// persists anything. Recording an unlock exactly once, and crediting its XP
// bonus exactly once, is the caller's job.
package achievement

import (
	"sort"
	"time"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// State is what the learner held before the event.
type State struct {
	Unlocked    map[string]bool
	LevelBefore int
}

// Event describes one progression step.
//
// Elapsed and TimeLimit are zero for untimed submissions. CompletedAt is
// interpreted in Location, which defaults to UTC when nil. Category maps
// are counted after the event has been applied.
type Event struct {
	Kind                   EventKind
	ChallengeID            string
	FirstCompletion        bool
	TimeLimit              time.Duration
	Elapsed                time.Duration
	CompletedAt            time.Time
	Location               *time.Location
	StreakDays             int
	LevelAfter             int
	AllCategoriesCompleted bool
	CategoryCompletions    map[domain.Category]int
	CategoriesComplete     map[domain.Category]bool
	PerfectScores          int
}

// EventKind distinguishes account creation, first completions and
// resubmissions that raised a best score.
type EventKind int

const (
	EventCompletion EventKind = iota
	EventEnrollment
	// EventRescore is a resubmission of a completed challenge with a higher
	// score. Only score-based rules and the levels their bonuses reach apply.
	EventRescore
)

// Hour returns the wall-clock hour of the event in its location.
func (ev Event) Hour() int {
	loc := ev.Location
	if loc == nil {
		loc = time.UTC
	}
	return ev.CompletedAt.In(loc).Hour()
}

// Evaluator checks events against a fixed set of achievements.
type Evaluator struct {
	achievements []domain.Achievement
}

// NewEvaluator creates an Evaluator over achievements.
func NewEvaluator(achievements []domain.Achievement) *Evaluator {
	return &Evaluator{achievements: append([]domain.Achievement(nil), achievements...)}
}

// Evaluate returns the sorted ids of achievements ev earns that prior does
// not already hold.
func (e *Evaluator) Evaluate(prior State, ev Event) []string {
	var ids []string
	for _, a := range e.achievements {
		if prior.Unlocked[a.ID] {
			continue
		}
		if earns(a, prior, ev) {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the achievement with id, if the evaluator knows it.
func (e *Evaluator) Lookup(id string) (domain.Achievement, bool) {
	for _, a := range e.achievements {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Achievement{}, false
}

func earns(a domain.Achievement, prior State, ev Event) bool {
	switch ev.Kind {
	case EventEnrollment:
		return a.Trigger == domain.TriggerAccountCreated
	case EventRescore:
		switch a.Trigger {
		case domain.TriggerPerfectScores:
			return ev.PerfectScores >= a.Threshold
		case domain.TriggerLevelReached:
			return prior.LevelBefore < a.Threshold && ev.LevelAfter >= a.Threshold
		}
		return false
	}

	switch a.Trigger {
	case domain.TriggerFirstCompletion:
		return ev.FirstCompletion
	case domain.TriggerSpeedCompletion:
		return ev.TimeLimit > 0 && ev.Elapsed > 0 && ev.Elapsed < ev.TimeLimit
	case domain.TriggerStreakReached:
		return ev.StreakDays >= a.Threshold
	case domain.TriggerLevelReached:
		return prior.LevelBefore < a.Threshold && ev.LevelAfter >= a.Threshold
	case domain.TriggerAllCategories:
		return ev.AllCategoriesCompleted
	case domain.TriggerTimeWindow:
		h := ev.Hour()
		return h >= a.HourFrom && h < a.HourTo
	case domain.TriggerCategoryCount:
		return ev.CategoryCompletions[a.Category] >= a.Threshold
	case domain.TriggerCategoryComplete:
		return ev.CategoriesComplete[a.Category]
	case domain.TriggerPerfectScores:
		return ev.PerfectScores >= a.Threshold
	}
	return false
}
