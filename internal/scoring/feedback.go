package scoring

import (
	"fmt"
	"strings"
)

// Fixed texts for challenges without a rubric.
const (
	genericPassFeedback = "Your vibe is strong! Good detail."
	genericFailFeedback = "Your prompt feels a bit hollow. Add more context!"
	genericOutput       = "// AI synthesized your request based on the vibes provided."
	defaultPassOutput   = "// AI: Vibe synthesized successfully. Logic verified."
)

const (
	passTemplate      = "%s You covered %d core concepts. Your intent (%s) was effectively communicated."
	failTemplate      = "The AI is hallucinating slightly. To ground it, %s."
	activeVerbTip     = "try using more active verbs like 'refactor' or 'implement'"
	contextTip        = "add more technical context"
	diagnosticOutput  = "// AI ERROR: Vibe mismatch detected.\n// Recommendation: Be more specific about the technical requirements.\n// Missing Context: %s..."
	maxFeedbackTerms  = 2
	maxDiagnosticTerm = 3
)

// tonePrefix varies the opening of passing feedback by score band.
func tonePrefix(score int) string {
	switch {
	case score > 90:
		return "Spectacular aura! ✨"
	case score > 80:
		return "Strong technical vibe."
	default:
		return "Vibe check passed."
	}
}

func passFeedback(score int, m match) string {
	intent := "clear"
	if len(m.intents) > 0 {
		intent = m.intents[0]
	}
	return fmt.Sprintf(passTemplate, tonePrefix(score), len(m.keywords), intent)
}

// failFeedback names at most the first two missing keywords and, when no
// intent verb was used, also asks for one.
func failFeedback(m match) string {
	var tips []string
	if missing := firstN(m.missingKeywords, maxFeedbackTerms); len(missing) > 0 {
		tips = append(tips, fmt.Sprintf(`consider mentioning "%s"`, strings.Join(missing, `" and "`)))
	}
	if len(m.intents) == 0 {
		tips = append(tips, activeVerbTip)
	}
	if len(tips) == 0 {
		tips = append(tips, contextTip)
	}
	return fmt.Sprintf(failTemplate, strings.Join(tips, ", and "))
}

func diagnostic(m match) string {
	return fmt.Sprintf(diagnosticOutput, strings.Join(firstN(m.missingKeywords, maxDiagnosticTerm), ", "))
}

func firstN(terms []string, n int) []string {
	if len(terms) > n {
		return terms[:n]
	}
	return terms
}
