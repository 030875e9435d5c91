// Package catalog holds the static content the engine scores and rewards
// against: levels, challenges with their rubrics, and achievements.
//
// A Catalog is immutable once built and safe for concurrent readers.
package catalog

import "github.com/felixgeelhaar/vibecheck/internal/domain"

// CategoryInfo is display metadata for a challenge category
type CategoryInfo struct {
	ID    domain.Category `json:"id"`
	Name  string          `json:"name"`
	Icon  string          `json:"icon"`
	Color string          `json:"color"`
}

// Catalog provides read access to levels, challenges, rubrics and achievements
type Catalog struct {
	levels           domain.LevelTable
	categories       []CategoryInfo
	challenges       map[string]domain.Challenge
	order            []string
	rubrics          map[string]domain.RubricEntry
	outputs          map[string]string
	achievements     map[string]domain.Achievement
	achievementOrder []string
}

// Levels returns the level table
func (c *Catalog) Levels() domain.LevelTable {
	return append(domain.LevelTable(nil), c.levels...)
}

// Categories returns the categories in catalog order
func (c *Catalog) Categories() []CategoryInfo {
	return append([]CategoryInfo(nil), c.categories...)
}

// CategoryIDs returns the category identifiers in catalog order
func (c *Catalog) CategoryIDs() []domain.Category {
	ids := make([]domain.Category, len(c.categories))
	for i, ci := range c.categories {
		ids[i] = ci.ID
	}
	return ids
}

// Challenge returns the challenge with the given id
func (c *Catalog) Challenge(id string) (domain.Challenge, bool) {
	ch, ok := c.challenges[id]
	return ch, ok
}

// Challenges returns all challenges in catalog order
func (c *Catalog) Challenges() []domain.Challenge {
	out := make([]domain.Challenge, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.challenges[id])
	}
	return out
}

// ChallengesIn returns the challenges of one category in catalog order
func (c *Catalog) ChallengesIn(cat domain.Category) []domain.Challenge {
	var out []domain.Challenge
	for _, id := range c.order {
		if ch := c.challenges[id]; ch.Category == cat {
			out = append(out, ch)
		}
	}
	return out
}

// Rubric returns the scoring rubric for a challenge, if it has one
func (c *Catalog) Rubric(challengeID string) (domain.RubricEntry, bool) {
	r, ok := c.rubrics[challengeID]
	return r, ok
}

// CannedOutput returns the illustrative snippet shown for a passing
// submission, if the challenge has one
func (c *Catalog) CannedOutput(challengeID string) (string, bool) {
	out, ok := c.outputs[challengeID]
	return out, ok
}

// Achievement returns the achievement with the given id
func (c *Catalog) Achievement(id string) (domain.Achievement, bool) {
	a, ok := c.achievements[id]
	return a, ok
}

// Achievements returns all achievements in catalog order
func (c *Catalog) Achievements() []domain.Achievement {
	out := make([]domain.Achievement, 0, len(c.achievementOrder))
	for _, id := range c.achievementOrder {
		out = append(out, c.achievements[id])
	}
	return out
}
