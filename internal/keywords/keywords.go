// Package keywords provides tokenization, TF-IDF keyword extraction, and
// token-set overlap measures. It has no external dependencies and never
// errors: empty input yields empty output.
package keywords

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// stopWords are excluded from keyword extraction and keyword sets.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "day": {}, "get": {}, "has": {}, "him": {},
	"his": {}, "how": {}, "its": {}, "new": {}, "now": {}, "old": {},
	"see": {}, "two": {}, "way": {}, "who": {}, "did": {}, "yes": {},
	"this": {}, "that": {}, "with": {}, "have": {}, "from": {},
	"they": {}, "will": {}, "would": {}, "there": {}, "their": {},
	"what": {}, "about": {}, "which": {}, "when": {}, "make": {},
	"like": {}, "time": {}, "just": {}, "know": {}, "take": {},
	"into": {}, "your": {}, "some": {}, "could": {}, "them": {},
	"than": {}, "then": {}, "only": {}, "over": {}, "also": {},
	"after": {}, "most": {}, "need": {}, "should": {}, "very": {},
	"more": {}, "these": {}, "been": {}, "were": {}, "because": {},
	"does": {}, "where": {}, "here": {}, "each": {}, "other": {},
	"things": {}, "thing": {}, "want": {}, "really": {}, "going": {},
}

// IsStopWord reports whether w is in the stop-word list.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Tokenize lowercases text and splits it on non-alphanumeric boundaries.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// KeywordSet returns the stop-word-filtered tokens of length >= 3 as a set.
func KeywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if len(tok) < 3 || IsStopWord(tok) {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B| for two token sets.
// Defined as 0.0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// TopKeywords extracts the topN most salient terms across documents by
// aggregate TF×IDF score. Terms of length <= 2 and stop words are excluded.
// An empty corpus yields an empty result.
func TopKeywords(documents []string, topN int) []string {
	if len(documents) == 0 || topN <= 0 {
		return nil
	}

	// Term frequency per document and document frequency across the corpus.
	termFreqs := make([]map[string]int, 0, len(documents))
	docFreq := make(map[string]int)
	for _, doc := range documents {
		tf := make(map[string]int)
		for _, tok := range Tokenize(doc) {
			if len(tok) <= 2 || IsStopWord(tok) {
				continue
			}
			tf[tok]++
		}
		for term := range tf {
			docFreq[term]++
		}
		termFreqs = append(termFreqs, tf)
	}

	totalDocs := float64(len(documents))
	scores := make(map[string]float64)
	for _, tf := range termFreqs {
		for term, count := range tf {
			idf := math.Log(totalDocs / float64(docFreq[term]))
			scores[term] += float64(count) * idf
		}
	}

	terms := make([]string, 0, len(scores))
	for term := range scores {
		terms = append(terms, term)
	}
	// Alphabetical tie-break keeps the result deterministic.
	sort.Slice(terms, func(i, j int) bool {
		if scores[terms[i]] != scores[terms[j]] {
			return scores[terms[i]] > scores[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > topN {
		terms = terms[:topN]
	}
	return terms
}
