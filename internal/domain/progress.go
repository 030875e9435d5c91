package domain

import (
	"sort"
	"time"
)

// Role is the privilege carried by an authenticated principal.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated identity acting on a request.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// CanActFor reports whether p may read or mutate userID's progress.
func (p Principal) CanActFor(userID string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	return p.UserID != "" && p.UserID == userID
}

// CompletionStatus is the lifecycle state of a completion record.
type CompletionStatus string

// StatusCompleted is the only status a persisted completion can hold.
const StatusCompleted CompletionStatus = "COMPLETED"

// CompletionRecord is the per (user, challenge) fact that the challenge has
// been completed. At most one exists per pair.
type CompletionRecord struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	ChallengeID string           `json:"challenge_id"`
	Status      CompletionStatus `json:"status"`
	XPAwarded   int              `json:"xp_awarded"`
	BestScore   int              `json:"best_score"`
	CompletedAt time.Time        `json:"completed_at"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// UserProgress is a learner's accumulated standing.
type UserProgress struct {
	UserID       string                `json:"user_id"`
	Email        string                `json:"email"`
	Name         string                `json:"name"`
	Role         Role                  `json:"role"`
	Timezone     string                `json:"timezone"`
	XP           int                   `json:"xp"`
	Level        int                   `json:"level"`
	StreakDays   int                   `json:"streak_days"`
	LastActiveAt time.Time             `json:"last_active_at,omitzero"`
	CreatedAt    time.Time             `json:"created_at"`
	Completions  []CompletionRecord    `json:"completions"`
	Achievements []UnlockedAchievement `json:"achievements"`
}

// HasCompleted reports whether a completion exists for challengeID.
func (p *UserProgress) HasCompleted(challengeID string) bool {
	for _, c := range p.Completions {
		if c.ChallengeID == challengeID {
			return true
		}
	}
	return false
}

// CompletedIDs returns the completed challenge ids, sorted.
func (p *UserProgress) CompletedIDs() []string {
	ids := make([]string, 0, len(p.Completions))
	for _, c := range p.Completions {
		ids = append(ids, c.ChallengeID)
	}
	sort.Strings(ids)
	return ids
}

// Unlocked returns the set of unlocked achievement ids.
func (p *UserProgress) Unlocked() map[string]bool {
	set := make(map[string]bool, len(p.Achievements))
	for _, a := range p.Achievements {
		set[a.AchievementID] = true
	}
	return set
}

// Location resolves the user's IANA timezone, falling back to UTC when it is
// empty or unknown.
func (p *UserProgress) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
