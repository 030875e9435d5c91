package domain

import "time"

// Category groups challenges by the skill they practice.
type Category string

const (
	CategoryPrompting   Category = "prompting"
	CategoryDebugging   Category = "debugging"
	CategoryBuilding    Category = "building"
	CategoryRefactoring Category = "refactoring"
	CategorySpeed       Category = "speed"
)

// Challenge is one playable unit of content.
type Challenge struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    Category      `json:"category"`
	Difficulty  int           `json:"difficulty"`
	XPReward    int           `json:"xp_reward"`
	TimeLimit   time.Duration `json:"time_limit,omitempty"`
	Hints       []string      `json:"hints,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
}

// Timed reports whether the challenge runs against a clock.
func (c Challenge) Timed() bool {
	return c.TimeLimit > 0
}

// Validate checks the challenge's static invariants.
func (c Challenge) Validate() error {
	switch {
	case c.ID == "":
		return Validationf("challenge id is empty")
	case c.Category == "":
		return Validationf("challenge %s has no category", c.ID)
	case c.Difficulty < 1 || c.Difficulty > 5:
		return Validationf("challenge %s difficulty %d outside [1,5]", c.ID, c.Difficulty)
	case c.XPReward < 0:
		return Validationf("challenge %s has negative xp reward", c.ID)
	case c.TimeLimit < 0:
		return Validationf("challenge %s has negative time limit", c.ID)
	}
	return nil
}
