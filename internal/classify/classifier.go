package classify

import (
	"context"
	"fmt"

	"github.com/kalambet/cortex/internal/notes"
)

// Config holds the orchestrator's acceptance thresholds.
type Config struct {
	// RuleThreshold is the minimum rule-match confidence for immediate
	// acceptance. Defaults to 0.70.
	RuleThreshold float64
	// StatThreshold is the minimum statistical-tier confidence for
	// acceptance. Defaults to 0.45.
	StatThreshold float64
}

const (
	defaultRuleThreshold = 0.70
	defaultStatThreshold = 0.45

	fallbackConfidence = 0.10
)

// Classifier composes the rule-based, statistical, and fallback tiers
// into one decision with provenance. Evaluation order is fixed:
//
//  1. Rule match at or above RuleThreshold — accept immediately.
//  2. Statistical match at or above StatThreshold — accept.
//  3. Any rule match, however weak — rules beat pure fallback.
//  4. Fallback to idea at confidence 0.10.
//
// A user override bypasses all tiers with confidence 1.0.
type Classifier struct {
	statistical *Statistical
	cfg         Config
}

// New creates a Classifier. statistical may be nil, in which case that
// tier is skipped.
func New(statistical *Statistical, cfg Config) *Classifier {
	if cfg.RuleThreshold <= 0 {
		cfg.RuleThreshold = defaultRuleThreshold
	}
	if cfg.StatThreshold <= 0 {
		cfg.StatThreshold = defaultStatThreshold
	}
	return &Classifier{statistical: statistical, cfg: cfg}
}

// Classify runs the tier chain over the text. It never fails: tier
// errors are treated as "no match" and evaluation falls through.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	ruleMatches := RuleMatches(text)

	if len(ruleMatches) > 0 && ruleMatches[0].Confidence >= c.cfg.RuleThreshold {
		top := ruleMatches[0]
		return Result{
			Category:   top.Category,
			Confidence: clamp01(top.Confidence),
			Tier:       TierRuleBased,
			Reasoning:  fmt.Sprintf("rule: %s", top.Reason),
		}
	}

	if c.statistical != nil {
		if m := c.statistical.Classify(ctx, text); m != nil && m.Confidence >= c.cfg.StatThreshold {
			return Result{
				Category:   m.Category,
				Confidence: clamp01(m.Confidence),
				Tier:       TierStatistical,
				Reasoning:  fmt.Sprintf("statistical: %s", m.Reason),
			}
		}
	}

	if len(ruleMatches) > 0 {
		top := ruleMatches[0]
		return Result{
			Category:   top.Category,
			Confidence: clamp01(top.Confidence),
			Tier:       TierRuleBased,
			Reasoning:  fmt.Sprintf("low-confidence rule: %s", top.Reason),
		}
	}

	return Result{
		Category:   notes.CategoryIdea,
		Confidence: fallbackConfidence,
		Tier:       TierFallback,
		Reasoning:  "no rule or statistical match; defaulting to idea",
	}
}

// Override returns the result for an explicit user choice. It always
// wins regardless of any prior automated classification.
func (c *Classifier) Override(category notes.Category) Result {
	return Result{
		Category:   category,
		Confidence: 1.0,
		Tier:       TierUserOverride,
		Reasoning:  fmt.Sprintf("user selected %s", category),
	}
}

// ClassifyAndApply decides the entry's category (honoring an optional
// user override) and writes it onto the entry, returning the full
// result for display.
func (c *Classifier) ClassifyAndApply(ctx context.Context, entry *notes.Entry, override *notes.Category) Result {
	var result Result
	if override != nil && override.Valid() {
		result = c.Override(*override)
	} else {
		result = c.Classify(ctx, entry.Text())
	}
	entry.Category = result.Category
	return result
}
