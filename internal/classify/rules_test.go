package classify

import (
	"testing"

	"github.com/kalambet/cortex/internal/notes"
)

func TestRuleMatches_Empty(t *testing.T) {
	if got := RuleMatches("   "); got != nil {
		t.Errorf("RuleMatches(blank) = %v, want nil", got)
	}
}

func TestRuleMatches_TopMatch(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantCategory  notes.Category
		minConfidence float64
	}{
		{"url", "https://example.com/article worth saving", notes.CategoryBucket, 0.85},
		{"two urls", "https://a.com and https://b.com", notes.CategoryBucket, 0.90},
		{"checkbox", "- [ ] water the plants", notes.CategoryTask, 0.90},
		{"todo", "TODO: call the dentist", notes.CategoryTask, 0.85},
		{"deadline", "Need to finish quarterly report by Friday", notes.CategoryTask, 0.80},
		{"leading bucket verb", "Buy groceries from Trader Joes", notes.CategoryBucket, 0.85},
		{"mid-sentence bucket verb", "someday i might watch that documentary", notes.CategoryBucket, 0.70},
		{"task modal", "should call mom this evening", notes.CategoryTask, 0.75},
		{"project terms", "design and build a prototype for the roadmap", notes.CategoryProject, 0.80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := RuleMatches(tt.text)
			if len(matches) == 0 {
				t.Fatalf("no matches for %q", tt.text)
			}
			top := matches[0]
			if top.Category != tt.wantCategory {
				t.Errorf("top category = %s, want %s (reason %q)", top.Category, tt.wantCategory, top.Reason)
			}
			if top.Confidence < tt.minConfidence {
				t.Errorf("top confidence = %.2f, want >= %.2f", top.Confidence, tt.minConfidence)
			}
		})
	}
}

func TestRuleMatches_SortedByConfidence(t *testing.T) {
	// Checkbox (0.90), todo (0.85), and modal (0.75) all fire here.
	matches := RuleMatches("- [ ] todo: need to water the plants")
	if len(matches) < 3 {
		t.Fatalf("got %d matches, want >= 3", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Confidence > matches[i-1].Confidence {
			t.Errorf("matches not sorted: %.2f before %.2f", matches[i-1].Confidence, matches[i].Confidence)
		}
	}
}

func TestRuleMatches_WholeWordOnly(t *testing.T) {
	// "readiness" must not trigger the "read" bucket verb.
	for _, m := range RuleMatches("assessing production readiness") {
		if m.Category == notes.CategoryBucket {
			t.Errorf("substring matched as bucket verb: %+v", m)
		}
	}
}
