// Package scoring grades free-text submissions against a challenge rubric.
//
// Scoring is a deterministic lexical heuristic: the lower-cased submission is
// searched for the rubric's keywords, intent verbs and context terms, and the
// three coverage ratios are blended into a 0-100 score.
package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// Weights of the three sub-scores.
const (
	keywordWeight = 0.5
	intentWeight  = 0.3
	contextWeight = 0.2
)

// genericTargetLength is the submission length that earns a full score when
// a challenge has no rubric.
const genericTargetLength = 50

// RubricSource supplies rubrics and canned outputs by challenge id
type RubricSource interface {
	Rubric(challengeID string) (domain.RubricEntry, bool)
	CannedOutput(challengeID string) (string, bool)
}

// Observer is notified of every evaluation
type Observer interface {
	ObserveScore(challengeID string, result domain.ScoreResult)
}

// Engine evaluates submissions. It holds no mutable state.
type Engine struct {
	rubrics  RubricSource
	observer Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver registers an observer for evaluation results
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine creates a scoring engine backed by rubrics
func NewEngine(rubrics RubricSource, opts ...Option) *Engine {
	e := &Engine{rubrics: rubrics}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores text for challengeID.
func (e *Engine) Evaluate(challengeID, text string) domain.ScoreResult {
	var result domain.ScoreResult
	if rubric, ok := e.rubrics.Rubric(challengeID); ok {
		result = e.evaluateRubric(challengeID, rubric, text)
	} else {
		result = evaluateGeneric(text)
	}

	if e.observer != nil {
		e.observer.ObserveScore(challengeID, result)
	}
	return result
}

// evaluateGeneric scores by length: 50 characters earn a full score.
func evaluateGeneric(text string) domain.ScoreResult {
	n := utf8.RuneCountInString(text)
	score := min(100, roundHalfUp(float64(n)*100/genericTargetLength))

	feedback := genericFailFeedback
	if score >= domain.PassThreshold {
		feedback = genericPassFeedback
	}
	return domain.NewScoreResult(score, feedback, genericOutput)
}

func (e *Engine) evaluateRubric(challengeID string, rubric domain.RubricEntry, text string) domain.ScoreResult {
	m := matchRubric(rubric, strings.ToLower(text))

	keywordScore := ratio(len(m.keywords), len(rubric.Keywords))
	intentScore := 0.0
	if len(m.intents) > 0 {
		intentScore = 100
	}
	contextScore := ratio(len(m.context), len(rubric.ContextTerms))

	score := roundHalfUp(keywordWeight*keywordScore + intentWeight*intentScore + contextWeight*contextScore)
	score = max(0, min(100, score))

	if score < domain.PassThreshold {
		return domain.NewScoreResult(score, failFeedback(m), diagnostic(m))
	}

	output, ok := e.rubrics.CannedOutput(challengeID)
	if !ok {
		output = defaultPassOutput
	}
	return domain.NewScoreResult(score, passFeedback(score, m), output)
}

// match records which rubric terms appear in a submission, in rubric order.
type match struct {
	keywords        []string
	missingKeywords []string
	intents         []string
	context         []string
}

func matchRubric(rubric domain.RubricEntry, lower string) match {
	var m match
	for _, k := range rubric.Keywords {
		if strings.Contains(lower, k) {
			m.keywords = append(m.keywords, k)
		} else {
			m.missingKeywords = append(m.missingKeywords, k)
		}
	}
	for _, v := range rubric.IntentVerbs {
		if strings.Contains(lower, v) {
			m.intents = append(m.intents, v)
		}
	}
	for _, c := range rubric.ContextTerms {
		if strings.Contains(lower, c) {
			m.context = append(m.context, c)
		}
	}
	return m
}

// ratio returns 100*found/total, or 0 for an empty term set.
func ratio(found, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(found) / float64(total)
}

// roundHalfUp rounds to the nearest integer with halves going up. The small
// epsilon absorbs binary representation error so that exact halves such as
// 77.5 are not rounded down.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5 + 1e-9))
}
