package domain

// PassThreshold is the minimum score at which a submission passes.
const PassThreshold = 70

// RubricEntry is the lexical rubric a submission for one challenge is scored
// against. Terms are stored lower-cased.
type RubricEntry struct {
	ChallengeID  string   `json:"challenge_id" yaml:"challenge_id"`
	Keywords     []string `json:"keywords" yaml:"keywords"`
	IntentVerbs  []string `json:"intent_verbs" yaml:"intent_verbs"`
	ContextTerms []string `json:"context_terms" yaml:"context_terms"`
}

// ScoreResult is the outcome of evaluating one submission.
type ScoreResult struct {
	Score    int    `json:"score"`
	Passed   bool   `json:"passed"`
	Feedback string `json:"feedback"`
	Output   string `json:"output"`
}

// NewScoreResult clamps score to [0,100] and derives Passed from it.
func NewScoreResult(score int, feedback, output string) ScoreResult {
	score = max(0, min(100, score))
	return ScoreResult{
		Score:    score,
		Passed:   score >= PassThreshold,
		Feedback: feedback,
		Output:   output,
	}
}
