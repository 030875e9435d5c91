// Package progression maps accumulated XP onto the level ladder.
//
// Calculator.LevelForXP is the only place in the module that compares XP with
// level thresholds; every caller that needs a level derives it here.
package progression

import (
	"math"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// Progress describes how far a learner is between their level and the next.
type Progress struct {
	Current    int     `json:"current"`
	Needed     int     `json:"needed"`
	Percentage float64 `json:"percentage"`
	MaxLevel   bool    `json:"max_level"`
}

// Calculator derives levels from a validated level table.
type Calculator struct {
	levels domain.LevelTable
}

// New validates levels and returns a Calculator over them.
func New(levels domain.LevelTable) (*Calculator, error) {
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{levels: append(domain.LevelTable(nil), levels...)}, nil
}

// LevelForXP returns the highest level whose threshold is at most xp.
func (c *Calculator) LevelForXP(xp int) (int, error) {
	if xp < 0 {
		return 0, domain.Validationf("xp must be non-negative, got %d", xp)
	}
	for i := len(c.levels) - 1; i >= 0; i-- {
		if xp >= c.levels[i].XPThreshold {
			return c.levels[i].Number, nil
		}
	}
	// Unreachable for a validated table: level 1 starts at 0.
	return c.levels[0].Number, nil
}

// ProgressToward reports progress from level's threshold to the next one.
// The terminal level is always 100% with nothing more needed.
func (c *Calculator) ProgressToward(xp, level int) (Progress, error) {
	if xp < 0 {
		return Progress{}, domain.Validationf("xp must be non-negative, got %d", xp)
	}
	if level < 1 || level > c.levels.Max() {
		return Progress{}, domain.Validationf("level %d outside [1,%d]", level, c.levels.Max())
	}

	current := xp - c.levels[level-1].XPThreshold
	if level == c.levels.Max() {
		return Progress{Current: current, Needed: 0, Percentage: 100, MaxLevel: true}, nil
	}

	needed := c.levels[level].XPThreshold - c.levels[level-1].XPThreshold
	pct := 100 * float64(current) / float64(needed)
	pct = math.Max(0, math.Min(100, pct))

	return Progress{
		Current:    current,
		Needed:     needed,
		Percentage: math.Floor(pct*10+0.5+1e-9) / 10,
	}, nil
}

// Level returns the table row for a level number.
func (c *Calculator) Level(number int) (domain.Level, error) {
	if number < 1 || number > c.levels.Max() {
		return domain.Level{}, domain.ErrLevelNotFound
	}
	return c.levels[number-1], nil
}

// MaxLevel returns the terminal level number.
func (c *Calculator) MaxLevel() int {
	return c.levels.Max()
}
