// Package classify assigns a category to freeform note text through a
// tiered fallback chain: deterministic rules, then a statistical
// classifier, then low-confidence rules, then a fixed fallback. A user
// override bypasses all tiers. Classification never returns an error —
// the worst case is the idea/0.10 fallback.
package classify

import "github.com/kalambet/cortex/internal/notes"

// Tier identifies which stage of the fallback chain produced a result.
type Tier string

const (
	TierRuleBased    Tier = "rule_based"
	TierStatistical  Tier = "statistical"
	TierFallback     Tier = "fallback"
	TierUserOverride Tier = "user_override"
)

// Result is an immutable classification outcome: produced fresh per
// call, never mutated.
type Result struct {
	Category   notes.Category `json:"category"`
	Confidence float64        `json:"confidence"`
	Tier       Tier           `json:"tier"`
	Reasoning  string         `json:"reasoning"`
}

// clamp01 bounds a confidence to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
