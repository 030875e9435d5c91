package domain

import "time"

// TriggerKind names the rule that unlocks an achievement.
type TriggerKind string

const (
	TriggerAccountCreated   TriggerKind = "account-created"
	TriggerFirstCompletion  TriggerKind = "first-completion"
	TriggerSpeedCompletion  TriggerKind = "speed-completion"
	TriggerLevelReached     TriggerKind = "level-reached"
	TriggerStreakReached    TriggerKind = "streak-reached"
	TriggerAllCategories    TriggerKind = "all-categories"
	TriggerTimeWindow       TriggerKind = "time-window"
	TriggerCategoryCount    TriggerKind = "category-count"
	TriggerCategoryComplete TriggerKind = "category-complete"
	TriggerPerfectScores    TriggerKind = "perfect-scores"
)

// Achievement is a catalog entry describing an unlockable badge.
//
// Threshold is interpreted per trigger: the level number for level-reached,
// the streak length for streak-reached, the completion count for
// category-count and the number of perfect scores for perfect-scores.
// HourFrom and HourTo bound a time-window trigger as [HourFrom, HourTo).
type Achievement struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Icon        string      `json:"icon"`
	XPBonus     int         `json:"xp_bonus"`
	Secret      bool        `json:"secret"`
	Trigger     TriggerKind `json:"trigger"`
	Threshold   int         `json:"threshold,omitempty"`
	Category    Category    `json:"category,omitempty"`
	HourFrom    int         `json:"hour_from,omitempty"`
	HourTo      int         `json:"hour_to,omitempty"`
}

// Validate checks that the achievement's trigger is well formed.
func (a Achievement) Validate() error {
	if a.ID == "" {
		return Validationf("achievement id is empty")
	}
	if a.XPBonus < 0 {
		return Validationf("achievement %s has negative xp bonus", a.ID)
	}
	switch a.Trigger {
	case TriggerAccountCreated, TriggerFirstCompletion, TriggerSpeedCompletion, TriggerAllCategories:
	case TriggerLevelReached, TriggerStreakReached, TriggerPerfectScores:
		if a.Threshold <= 0 {
			return Validationf("achievement %s needs a positive threshold", a.ID)
		}
	case TriggerCategoryCount:
		if a.Threshold <= 0 || a.Category == "" {
			return Validationf("achievement %s needs a category and a positive threshold", a.ID)
		}
	case TriggerCategoryComplete:
		if a.Category == "" {
			return Validationf("achievement %s needs a category", a.ID)
		}
	case TriggerTimeWindow:
		if a.HourFrom < 0 || a.HourTo > 24 || a.HourFrom >= a.HourTo {
			return Validationf("achievement %s has invalid hour window [%d,%d)", a.ID, a.HourFrom, a.HourTo)
		}
	default:
		return Validationf("achievement %s has unknown trigger %q", a.ID, a.Trigger)
	}
	return nil
}

// UnlockedAchievement records that a user holds an achievement. XPBonus is
// the bonus actually credited when it was unlocked.
type UnlockedAchievement struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	XPBonus       int       `json:"xp_bonus"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}
