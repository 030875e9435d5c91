package domain

// Level is one rung of the progression ladder.
type Level struct {
	Number      int    `json:"level" yaml:"level"`
	Name        string `json:"name" yaml:"name"`
	XPThreshold int    `json:"xp_threshold" yaml:"xp_threshold"`
	Color       string `json:"color" yaml:"color"`
	Icon        string `json:"icon" yaml:"icon"`
	Description string `json:"description" yaml:"description"`
}

// LevelTable is the ordered list of levels, lowest first.
type LevelTable []Level

// Validate checks that levels are numbered consecutively from 1, that level 1
// starts at 0 XP, and that thresholds strictly increase.
func (t LevelTable) Validate() error {
	if len(t) == 0 {
		return Validationf("level table is empty")
	}
	for i, l := range t {
		if l.Number != i+1 {
			return Validationf("level at position %d has number %d; want %d", i, l.Number, i+1)
		}
		if i == 0 {
			if l.XPThreshold != 0 {
				return Validationf("level 1 threshold is %d; want 0", l.XPThreshold)
			}
			continue
		}
		if l.XPThreshold <= t[i-1].XPThreshold {
			return Validationf("level %d threshold %d does not exceed level %d threshold %d",
				l.Number, l.XPThreshold, t[i-1].Number, t[i-1].XPThreshold)
		}
	}
	return nil
}

// Max returns the terminal level number.
func (t LevelTable) Max() int {
	return len(t)
}
