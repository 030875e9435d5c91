package scoring

import (
	"strings"
	"sync"
	"testing"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// fakeRubrics is an in-memory RubricSource for crafted score boundaries.
type fakeRubrics struct {
	rubrics map[string]domain.RubricEntry
	outputs map[string]string
}

func (f fakeRubrics) Rubric(id string) (domain.RubricEntry, bool) {
	r, ok := f.rubrics[id]
	return r, ok
}

func (f fakeRubrics) CannedOutput(id string) (string, bool) {
	o, ok := f.outputs[id]
	return o, ok
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[string][]domain.ScoreResult
}

func (r *recordingObserver) ObserveScore(id string, res domain.ScoreResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string][]domain.ScoreResult)
	}
	r.results[id] = append(r.results[id], res)
}

func terms(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func TestEvaluate_WellFormedPromptPasses(t *testing.T) {
	e := NewEngine(catalog.Default())

	res := e.Evaluate("prompt-basics-1", "please write a javascript function that prints hello world using console.log")

	if !res.Passed {
		t.Fatalf("Passed = false; want true (score %d, feedback %q)", res.Score, res.Feedback)
	}
	if res.Score != 80 {
		t.Errorf("Score = %d; want 80", res.Score)
	}
	want := "Vibe check passed. You covered 4 core concepts. Your intent (write) was effectively communicated."
	if res.Feedback != want {
		t.Errorf("Feedback = %q; want %q", res.Feedback, want)
	}
	if !strings.Contains(res.Output, "function helloWorld()") {
		t.Errorf("Output = %q; want canned hello world snippet", res.Output)
	}
}

func TestEvaluate_TrivialPromptFails(t *testing.T) {
	e := NewEngine(catalog.Default())

	res := e.Evaluate("prompt-basics-1", "hi")

	if res.Passed {
		t.Fatal("Passed = true; want false")
	}
	if res.Score >= domain.PassThreshold {
		t.Errorf("Score = %d; want < 70", res.Score)
	}
	if !strings.Contains(res.Feedback, `"hello world" and "javascript"`) {
		t.Errorf("Feedback = %q; want first two missing keywords", res.Feedback)
	}
	if strings.Contains(res.Feedback, "function") {
		t.Errorf("Feedback = %q; names more than two keywords", res.Feedback)
	}
	if !strings.Contains(res.Feedback, "active verbs") {
		t.Errorf("Feedback = %q; want active verb tip", res.Feedback)
	}
	if !strings.HasSuffix(res.Output, "Missing Context: hello world, javascript, function...") {
		t.Errorf("Output = %q; want diagnostic with three missing keywords", res.Output)
	}
}

func TestEvaluate_PassBoundary(t *testing.T) {
	src := fakeRubrics{rubrics: map[string]domain.RubricEntry{
		"b69": {Keywords: terms("k", 7), IntentVerbs: []string{"build"}, ContextTerms: terms("c", 6)},
		"b70": {Keywords: terms("k", 5), IntentVerbs: []string{"build"}, ContextTerms: terms("c", 3)},
		"b71": {Keywords: terms("k", 7), IntentVerbs: []string{"build"}, ContextTerms: terms("c", 7)},
	}}
	e := NewEngine(src)

	tests := []struct {
		id         string
		text       string
		wantScore  int
		wantPassed bool
	}{
		// 0.5*500/7 + 30 + 0.2*100/6 = 69.05
		{"b69", "build ka kb kc kd ke ca", 69, false},
		// 0.5*80 + 30 = 70
		{"b70", "build ka kb kc kd", 70, true},
		// 0.5*500/7 + 30 + 0.2*200/7 = 71.43
		{"b71", "build ka kb kc kd ke ca cb", 71, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			res := e.Evaluate(tt.id, tt.text)
			if res.Score != tt.wantScore {
				t.Errorf("Score = %d; want %d", res.Score, tt.wantScore)
			}
			if res.Passed != tt.wantPassed {
				t.Errorf("Passed = %v; want %v", res.Passed, tt.wantPassed)
			}
			if res.Passed != (res.Score >= 70) {
				t.Errorf("Passed = %v disagrees with score %d", res.Passed, res.Score)
			}
		})
	}
}

func TestEvaluate_ToneBands(t *testing.T) {
	src := fakeRubrics{rubrics: map[string]domain.RubricEntry{
		"c": {Keywords: []string{"alpha", "beta"}, IntentVerbs: []string{"make"}, ContextTerms: []string{"x1", "x2", "x3"}},
	}}
	e := NewEngine(src)

	tests := []struct {
		text      string
		wantScore int
		prefix    string
	}{
		{"make alpha beta x1 x2 x3", 100, "Spectacular aura!"},
		{"make alpha beta x1", 87, "Strong technical vibe."},
		{"make alpha beta", 80, "Vibe check passed."},
	}

	for _, tt := range tests {
		res := e.Evaluate("c", tt.text)
		if res.Score != tt.wantScore {
			t.Errorf("Evaluate(%q) score = %d; want %d", tt.text, res.Score, tt.wantScore)
		}
		if !strings.HasPrefix(res.Feedback, tt.prefix) {
			t.Errorf("Evaluate(%q) feedback = %q; want prefix %q", tt.text, res.Feedback, tt.prefix)
		}
		if res.Output != defaultPassOutput {
			t.Errorf("Output = %q; want default pass output", res.Output)
		}
	}
}

func TestEvaluate_CaseInsensitive(t *testing.T) {
	e := NewEngine(catalog.Default())

	lower := e.Evaluate("debug-ai-1", "fix the fetch call: add await for the async promise and json parse on api loading")
	upper := e.Evaluate("debug-ai-1", "FIX THE FETCH CALL: ADD AWAIT FOR THE ASYNC PROMISE AND JSON PARSE ON API LOADING")

	if lower != upper {
		t.Errorf("case changed the result: %+v vs %+v", lower, upper)
	}
	if lower.Score != 93 {
		t.Errorf("Score = %d; want 93", lower.Score)
	}
}

func TestEvaluate_EmptyTermSets(t *testing.T) {
	src := fakeRubrics{rubrics: map[string]domain.RubricEntry{
		"nokeywords": {IntentVerbs: []string{"fix"}},
		"nothing":    {},
	}}
	e := NewEngine(src)

	res := e.Evaluate("nokeywords", "fix it")
	if res.Score != 30 {
		t.Errorf("Score = %d; want 30", res.Score)
	}
	if !strings.Contains(res.Feedback, contextTip) {
		t.Errorf("Feedback = %q; want context tip", res.Feedback)
	}

	res = e.Evaluate("nothing", "anything at all")
	if res.Score != 0 || res.Passed {
		t.Errorf("empty rubric = %+v; want score 0, failed", res)
	}
}

func TestEvaluate_PassWithoutIntent(t *testing.T) {
	src := fakeRubrics{rubrics: map[string]domain.RubricEntry{
		"c": {Keywords: []string{"alpha"}, IntentVerbs: []string{"make"}, ContextTerms: []string{"x"}},
	}}
	res := NewEngine(src).Evaluate("c", "alpha x")

	if res.Score != 70 || !res.Passed {
		t.Fatalf("result = %+v; want 70 passed", res)
	}
	if !strings.Contains(res.Feedback, "Your intent (clear)") {
		t.Errorf("Feedback = %q", res.Feedback)
	}
}

func TestEvaluate_GenericFallback(t *testing.T) {
	e := NewEngine(catalog.Default())

	tests := []struct {
		length     int
		wantScore  int
		wantPassed bool
	}{
		{0, 0, false},
		{34, 68, false},
		{35, 70, true},
		{36, 72, true},
		{50, 100, true},
		{400, 100, true},
	}

	for _, tt := range tests {
		res := e.Evaluate("architecture-1", strings.Repeat("x", tt.length))
		if res.Score != tt.wantScore {
			t.Errorf("len %d: Score = %d; want %d", tt.length, res.Score, tt.wantScore)
		}
		if res.Passed != tt.wantPassed {
			t.Errorf("len %d: Passed = %v; want %v", tt.length, res.Passed, tt.wantPassed)
		}
		wantFeedback := genericFailFeedback
		if tt.wantPassed {
			wantFeedback = genericPassFeedback
		}
		if res.Feedback != wantFeedback {
			t.Errorf("len %d: Feedback = %q; want %q", tt.length, res.Feedback, wantFeedback)
		}
		if res.Output != genericOutput {
			t.Errorf("len %d: Output = %q", tt.length, res.Output)
		}
	}

	// Unknown ids also take the fallback.
	if res := e.Evaluate("no-such-challenge", strings.Repeat("y", 50)); res.Score != 100 {
		t.Errorf("unknown id score = %d; want 100", res.Score)
	}
}

func TestEvaluate_DeterministicAndConcurrent(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(catalog.Default(), WithObserver(obs))
	text := "refactor this into clean readable code with descriptive names and types, following best practices"

	first := e.Evaluate("refactor-ai-1", text)

	var wg sync.WaitGroup
	results := make([]domain.ScoreResult, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Evaluate("refactor-ai-1", text)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r != first {
			t.Fatalf("result %d = %+v; want %+v", i, r, first)
		}
	}
	if got := len(obs.results["refactor-ai-1"]); got != 33 {
		t.Errorf("observer saw %d results; want 33", got)
	}
}
