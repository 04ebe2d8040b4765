// Package embedding turns text into fixed-length vectors and compares
// them by cosine similarity. Successful embeds are cached in a bounded
// LRU keyed by exact text.
//
// The backing provider is treated as an optional capability: a backend
// that supports sentence-level embedding is preferred; one that only
// supplies per-word vectors is handled with a term-frequency-weighted
// average. A missing backend surfaces ErrUnavailable to the caller.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cortex/internal/keywords"
)

var (
	// ErrUnavailable means no embedding backend exists for the
	// configured language.
	ErrUnavailable = errors.New("embedding backend unavailable")

	// ErrNoTokens means the text yields no embeddable tokens.
	ErrNoTokens = errors.New("text produced no embeddable tokens")

	// ErrDimensionMismatch is declared for callers that compare raw
	// vectors; Cosine itself returns 0.0 defensively instead of
	// raising it.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Backend is a natural-language embedding source for one language.
// Implementations additionally satisfy SentenceEmbedder, WordEmbedder,
// or both; the Embedder upgrades via type assertion.
type Backend interface {
	Language() string
}

// SentenceEmbedder embeds a whole text in one call.
type SentenceEmbedder interface {
	EmbedSentence(ctx context.Context, text string) ([]float32, error)
}

// WordEmbedder returns a vector for a single word. A (nil, nil) return
// means the word is out of vocabulary and is skipped.
type WordEmbedder interface {
	EmbedWord(ctx context.Context, word string) ([]float32, error)
}

// Config holds the embedder's tunables.
type Config struct {
	// MaxCacheSize bounds the text→vector cache. Defaults to 500.
	MaxCacheSize int
	// Language is the language the backend must serve.
	Language string
}

const defaultCacheSize = 500

// Embedder produces and caches embeddings. Safe for concurrent use:
// callers are serialized on an internal mutex so cache access stays
// strictly ordered by the monotonic access counter.
type Embedder struct {
	backend Backend
	cfg     Config

	mu    sync.Mutex
	cache *lruCache
}

// New creates an Embedder over the given backend. A nil backend is
// allowed; Embed then fails with ErrUnavailable.
func New(backend Backend, cfg Config) *Embedder {
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = defaultCacheSize
	}
	return &Embedder{
		backend: backend,
		cfg:     cfg,
		cache:   newLRUCache(cfg.MaxCacheSize),
	}
}

// Embed returns the vector for text, computing and caching it on first
// use. A cache hit refreshes the entry's recency instead of recomputing.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.backend == nil {
		return nil, fmt.Errorf("no backend for language %q: %w", e.cfg.Language, ErrUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoTokens
	}

	e.mu.Lock()
	if vec, ok := e.cache.get(text); ok {
		e.mu.Unlock()
		return vec, nil
	}
	e.mu.Unlock()

	vec, err := e.compute(ctx, text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache.put(text, vec)
	e.mu.Unlock()
	return vec, nil
}

func (e *Embedder) compute(ctx context.Context, text string) ([]float32, error) {
	if se, ok := e.backend.(SentenceEmbedder); ok {
		vec, err := se.EmbedSentence(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("sentence embedding: %w", err)
		}
		if len(vec) == 0 {
			return nil, ErrNoTokens
		}
		return vec, nil
	}

	we, ok := e.backend.(WordEmbedder)
	if !ok {
		return nil, fmt.Errorf("backend for language %q supports neither sentence nor word embedding: %w",
			e.cfg.Language, ErrUnavailable)
	}
	return e.wordAverage(ctx, we, text)
}

// wordAverage builds a sentence vector from per-word vectors, weighting
// each distinct word by 1 + ln(count) and normalizing by total weight.
func (e *Embedder) wordAverage(ctx context.Context, we WordEmbedder, text string) ([]float32, error) {
	counts := make(map[string]int)
	for _, tok := range keywords.Tokenize(text) {
		counts[tok]++
	}
	if len(counts) == 0 {
		return nil, ErrNoTokens
	}

	var sum []float32
	var totalWeight float64
	for word, count := range counts {
		vec, err := we.EmbedWord(ctx, word)
		if err != nil {
			return nil, fmt.Errorf("word embedding %q: %w", word, err)
		}
		if len(vec) == 0 {
			continue // out of vocabulary
		}
		if sum == nil {
			sum = make([]float32, len(vec))
		}
		if len(vec) != len(sum) {
			return nil, fmt.Errorf("word %q has dimension %d, want %d: %w",
				word, len(vec), len(sum), ErrDimensionMismatch)
		}
		weight := 1.0 + math.Log(float64(count))
		for i, v := range vec {
			sum[i] += float32(weight) * v
		}
		totalWeight += weight
	}

	if sum == nil || totalWeight == 0 {
		return nil, ErrNoTokens
	}
	for i := range sum {
		sum[i] /= float32(totalWeight)
	}
	return sum, nil
}

// EmbedAll embeds multiple texts with bounded concurrency. Returns nil
// (not an error) for empty input.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Similarity embeds both texts and returns their cosine similarity.
func (e *Embedder) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := e.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.Embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return Cosine(va, vb), nil
}

// CacheLen reports the current number of cached vectors.
func (e *Embedder) CacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.len()
}
