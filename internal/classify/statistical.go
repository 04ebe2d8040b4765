package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kalambet/cortex/internal/embedding"
	"github.com/kalambet/cortex/internal/notes"
)

// TextModel is an optional pre-trained text classifier exposing a top
// label and a label-probability distribution.
type TextModel interface {
	Predict(ctx context.Context, text string) (label string, probs map[string]float64, err error)
}

// exemplars anchor the embedding-distance fallback: each category is
// represented by a handful of typical phrases.
var exemplars = map[notes.Category][]string{
	notes.CategoryIdea: {
		"what if we tried a different approach",
		"an idea for improving the onboarding flow",
		"random thought about combining these concepts",
		"it would be interesting to explore this further",
	},
	notes.CategoryTask: {
		"finish the report before the meeting",
		"call the dentist to reschedule the appointment",
		"submit the expense form by end of week",
		"fix the broken login flow today",
	},
	notes.CategoryProject: {
		"plan the architecture for the new service",
		"milestones for the kitchen renovation",
		"design and build a personal website",
		"research phase for the side project",
	},
	notes.CategoryBucket: {
		"book to read when i have time",
		"restaurant someone recommended",
		"movie to watch this weekend",
		"article saved for later",
	},
}

const defaultMinConfidence = 0.45

// Statistical is the second classification tier. With a trained model
// it uses the model's top label; without one it compares the input's
// embedding against per-category exemplar phrases. Either way it fails
// open: any backend problem or sub-threshold confidence yields no
// result rather than an error.
type Statistical struct {
	embedder      *embedding.Embedder
	model         TextModel
	minConfidence float64
	logger        *slog.Logger
}

// NewStatistical creates the statistical tier. model may be nil;
// minConfidence <= 0 uses the default (0.45).
func NewStatistical(embedder *embedding.Embedder, model TextModel, minConfidence float64) *Statistical {
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}
	return &Statistical{
		embedder:      embedder,
		model:         model,
		minConfidence: minConfidence,
		logger:        slog.Default(),
	}
}

// Classify returns the tier's best guess, or nil when it has nothing
// confident enough to say.
func (s *Statistical) Classify(ctx context.Context, text string) *Match {
	if s.model != nil {
		if m := s.classifyWithModel(ctx, text); m != nil {
			return m
		}
		// Model unavailable or unsure: fall through to exemplars.
	}
	return s.classifyWithExemplars(ctx, text)
}

func (s *Statistical) classifyWithModel(ctx context.Context, text string) *Match {
	label, probs, err := s.model.Predict(ctx, text)
	if err != nil {
		s.logger.Debug("statistical model unavailable", "error", err)
		return nil
	}
	category := notes.Category(label)
	if !category.Valid() {
		s.logger.Debug("statistical model returned unknown label", "label", label)
		return nil
	}
	confidence := clamp01(probs[label])
	if confidence < s.minConfidence {
		return nil
	}
	return &Match{
		Category:   category,
		Confidence: confidence,
		Reason:     fmt.Sprintf("model predicted %q (p=%.2f)", label, confidence),
	}
}

// classifyWithExemplars averages embedding similarity against each
// category's exemplar phrases and remaps the winner into a deliberately
// conservative band: raw similarities cluster tightly, so the value is
// rescaled via clamp((sim − 0.3) / 0.5, 0, 1) × 0.75.
func (s *Statistical) classifyWithExemplars(ctx context.Context, text string) *Match {
	if s.embedder == nil {
		return nil
	}
	input, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Debug("statistical tier: embedding failed", "error", err)
		return nil
	}

	categories := make([]notes.Category, 0, len(exemplars))
	for category := range exemplars {
		categories = append(categories, category)
	}
	// Fixed evaluation order keeps ties deterministic.
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var best notes.Category
	bestSim := -2.0
	for _, category := range categories {
		phrases := exemplars[category]
		var total float64
		var counted int
		for _, phrase := range phrases {
			vec, err := s.embedder.Embed(ctx, phrase)
			if err != nil {
				s.logger.Debug("statistical tier: exemplar embedding failed", "error", err)
				return nil
			}
			total += embedding.Cosine(input, vec)
			counted++
		}
		if counted == 0 {
			continue
		}
		avg := total / float64(counted)
		if avg > bestSim {
			bestSim = avg
			best = category
		}
	}
	if best == "" {
		return nil
	}

	confidence := clamp01((bestSim-0.3)/0.5) * 0.75
	if confidence < s.minConfidence {
		return nil
	}
	return &Match{
		Category:   best,
		Confidence: confidence,
		Reason:     fmt.Sprintf("closest to %s exemplars (sim=%.2f)", best, bestSim),
	}
}
