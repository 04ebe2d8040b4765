package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kalambet/cortex/internal/notes"
)

// Match is a single rule hit. RuleMatches returns all hits sorted by
// confidence descending.
type Match struct {
	Category   notes.Category
	Confidence float64
	Reason     string
}

var (
	urlPattern      = regexp.MustCompile(`https?://\S+|\bwww\.\S+`)
	checkboxPattern = regexp.MustCompile(`(?m)^\s*[-*]\s*\[[ xX]?\]`)
	todoPattern     = regexp.MustCompile(`\btodo\b`)
	deadlinePattern = regexp.MustCompile(`\b(deadline|due|asap|by (monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|eod|end of (the )?(day|week|month)))\b`)
)

var bucketVerbs = []string{
	"buy", "order", "visit", "read", "watch", "try", "listen", "download", "book",
}

var taskModals = []string{
	"need to", "must", "should", "have to", "remember to",
}

var projectTerms = []string{
	"build", "create", "design", "project", "prototype", "develop", "implement", "roadmap",
}

// RuleMatches evaluates every pattern family against the text and
// returns all matches, highest confidence first. Empty or
// whitespace-only text yields no matches. Deterministic and synchronous
// with no learned state.
func RuleMatches(text string) []Match {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}

	var matches []Match

	if m := matchURLs(lower); m != nil {
		matches = append(matches, *m)
	}
	if m := matchBucketVerbs(lower); m != nil {
		matches = append(matches, *m)
	}
	matches = append(matches, matchTaskIndicators(lower)...)
	if m := matchProjectTerms(lower); m != nil {
		matches = append(matches, *m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// matchURLs maps link-bearing text to bucket; confidence scales with
// URL density, 0.85 for a single link up to 1.0.
func matchURLs(lower string) *Match {
	urls := urlPattern.FindAllString(lower, -1)
	if len(urls) == 0 {
		return nil
	}
	confidence := clamp01(0.85 + 0.05*float64(len(urls)-1))
	return &Match{
		Category:   notes.CategoryBucket,
		Confidence: confidence,
		Reason:     fmt.Sprintf("contains %d URL(s)", len(urls)),
	}
}

// matchBucketVerbs looks for action verbs like "buy" or "watch";
// a verb leading a clause is a stronger signal than one mid-sentence.
func matchBucketVerbs(lower string) *Match {
	for _, verb := range bucketVerbs {
		if !containsWord(lower, verb) {
			continue
		}
		confidence := 0.70
		if leadsClause(lower, verb) {
			confidence = 0.85
		}
		return &Match{
			Category:   notes.CategoryBucket,
			Confidence: confidence,
			Reason:     fmt.Sprintf("action verb %q", verb),
		}
	}
	return nil
}

func matchTaskIndicators(lower string) []Match {
	var matches []Match
	if checkboxPattern.MatchString(lower) {
		matches = append(matches, Match{
			Category:   notes.CategoryTask,
			Confidence: 0.90,
			Reason:     "markdown checkbox",
		})
	}
	if todoPattern.MatchString(lower) {
		matches = append(matches, Match{
			Category:   notes.CategoryTask,
			Confidence: 0.85,
			Reason:     `contains "todo"`,
		})
	}
	if m := deadlinePattern.FindString(lower); m != "" {
		matches = append(matches, Match{
			Category:   notes.CategoryTask,
			Confidence: 0.80,
			Reason:     fmt.Sprintf("deadline phrase %q", m),
		})
	}
	for _, modal := range taskModals {
		if strings.Contains(lower, modal) {
			matches = append(matches, Match{
				Category:   notes.CategoryTask,
				Confidence: 0.75,
				Reason:     fmt.Sprintf("task phrase %q", modal),
			})
			break
		}
	}
	return matches
}

// matchProjectTerms boosts confidence slightly per additional matching
// term, capped at 0.85.
func matchProjectTerms(lower string) *Match {
	var found []string
	for _, term := range projectTerms {
		if containsWord(lower, term) {
			found = append(found, term)
		}
	}
	if len(found) == 0 {
		return nil
	}
	confidence := 0.65 + 0.05*float64(len(found)-1)
	if confidence > 0.85 {
		confidence = 0.85
	}
	return &Match{
		Category:   notes.CategoryProject,
		Confidence: confidence,
		Reason:     fmt.Sprintf("project term(s) %s", strings.Join(found, ", ")),
	}
}

// containsWord reports whether w occurs in s as a whole word.
func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// leadsClause reports whether the verb starts the text or immediately
// follows clause-ending punctuation.
func leadsClause(lower, verb string) bool {
	if strings.HasPrefix(lower, verb) {
		return true
	}
	for _, sep := range []string{". ", "! ", "? ", "; ", "\n", "- "} {
		if strings.Contains(lower, sep+verb) {
			return true
		}
	}
	return false
}
