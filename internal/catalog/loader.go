package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// File represents the YAML structure of a catalog document
type File struct {
	Levels       []domain.Level    `yaml:"levels"`
	Categories   []CategoryFile    `yaml:"categories"`
	Challenges   []ChallengeFile   `yaml:"challenges"`
	Achievements []AchievementFile `yaml:"achievements"`
}

// CategoryFile represents a category entry
type CategoryFile struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Icon  string `yaml:"icon"`
	Color string `yaml:"color"`
}

// ChallengeFile represents a challenge entry with its optional rubric
type ChallengeFile struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	Description      string   `yaml:"description"`
	Category         string   `yaml:"category"`
	Difficulty       int      `yaml:"difficulty"`
	XPReward         int      `yaml:"xp_reward"`
	TimeLimitSeconds int      `yaml:"time_limit_seconds"`
	Hints            []string `yaml:"hints"`
	Tags             []string `yaml:"tags"`
	Rubric           *struct {
		Keywords     []string `yaml:"keywords"`
		IntentVerbs  []string `yaml:"intent_verbs"`
		ContextTerms []string `yaml:"context_terms"`
	} `yaml:"rubric"`
	Output string `yaml:"output"`
}

// AchievementFile represents an achievement entry
type AchievementFile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	XPBonus     int    `yaml:"xp_bonus"`
	Secret      bool   `yaml:"secret"`
	Trigger     string `yaml:"trigger"`
	Threshold   int    `yaml:"threshold"`
	Category    string `yaml:"category"`
	HourFrom    int    `yaml:"hour_from"`
	HourTo      int    `yaml:"hour_to"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns the embedded catalog when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return build(&f)
}

func build(f *File) (*Catalog, error) {
	levels := domain.LevelTable(f.Levels)
	if err := levels.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		levels:       levels,
		challenges:   make(map[string]domain.Challenge, len(f.Challenges)),
		rubrics:      make(map[string]domain.RubricEntry),
		outputs:      make(map[string]string),
		achievements: make(map[string]domain.Achievement, len(f.Achievements)),
	}

	known := make(map[domain.Category]bool, len(f.Categories))
	for _, cf := range f.Categories {
		cat := domain.Category(cf.ID)
		if known[cat] {
			return nil, domain.Validationf("duplicate category %q", cf.ID)
		}
		known[cat] = true
		c.categories = append(c.categories, CategoryInfo{ID: cat, Name: cf.Name, Icon: cf.Icon, Color: cf.Color})
	}

	for _, cf := range f.Challenges {
		ch := domain.Challenge{
			ID:          cf.ID,
			Title:       cf.Title,
			Description: cf.Description,
			Category:    domain.Category(cf.Category),
			Difficulty:  cf.Difficulty,
			XPReward:    cf.XPReward,
			TimeLimit:   time.Duration(cf.TimeLimitSeconds) * time.Second,
			Hints:       cf.Hints,
			Tags:        cf.Tags,
		}
		if err := ch.Validate(); err != nil {
			return nil, err
		}
		if !known[ch.Category] {
			return nil, domain.Validationf("challenge %s has unknown category %q", ch.ID, ch.Category)
		}
		if _, dup := c.challenges[ch.ID]; dup {
			return nil, domain.Validationf("duplicate challenge %q", ch.ID)
		}
		c.challenges[ch.ID] = ch
		c.order = append(c.order, ch.ID)

		if cf.Rubric != nil {
			c.rubrics[ch.ID] = domain.RubricEntry{
				ChallengeID:  ch.ID,
				Keywords:     lowerAll(cf.Rubric.Keywords),
				IntentVerbs:  lowerAll(cf.Rubric.IntentVerbs),
				ContextTerms: lowerAll(cf.Rubric.ContextTerms),
			}
		}
		if cf.Output != "" {
			c.outputs[ch.ID] = cf.Output
		}
	}

	for _, af := range f.Achievements {
		a := domain.Achievement{
			ID:          af.ID,
			Name:        af.Name,
			Description: af.Description,
			Icon:        af.Icon,
			XPBonus:     af.XPBonus,
			Secret:      af.Secret,
			Trigger:     domain.TriggerKind(af.Trigger),
			Threshold:   af.Threshold,
			Category:    domain.Category(af.Category),
			HourFrom:    af.HourFrom,
			HourTo:      af.HourTo,
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if a.Category != "" && !known[a.Category] {
			return nil, domain.Validationf("achievement %s has unknown category %q", a.ID, a.Category)
		}
		if a.Trigger == domain.TriggerLevelReached && a.Threshold > levels.Max() {
			return nil, domain.Validationf("achievement %s targets level %d beyond %d", a.ID, a.Threshold, levels.Max())
		}
		if _, dup := c.achievements[a.ID]; dup {
			return nil, domain.Validationf("duplicate achievement %q", a.ID)
		}
		c.achievements[a.ID] = a
		c.achievementOrder = append(c.achievementOrder, a.ID)
	}

	return c, nil
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
