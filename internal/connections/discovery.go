// Package connections discovers semantic links between entries by
// blending embedding similarity, keyword-set overlap, and temporal
// proximity into a single connection strength.
package connections

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/embedding"
	"github.com/kalambet/cortex/internal/keywords"
	"github.com/kalambet/cortex/internal/notes"
)

// Blend weights: similarity carries the signal, keyword overlap and
// temporal proximity refine it.
const (
	similarityWeight = 0.6
	keywordWeight    = 0.2
)

// Config holds the discovery tunables.
type Config struct {
	// SimilarityThreshold gates candidates: below it they are skipped
	// entirely. Defaults to 0.5.
	SimilarityThreshold float64
	// MaxConnections caps the result list per entry. Defaults to 5.
	MaxConnections int
	// TemporalWindow is the creation-time window within which two
	// entries earn TemporalBonus. Defaults to 30 minutes.
	TemporalWindow time.Duration
	// TemporalBonus is the flat score bonus for temporally close
	// entries. Defaults to 0.2.
	TemporalBonus float64
	// DebounceInterval is how long DiscoverDebounced waits before
	// checking whether a newer request superseded it. Defaults to 300ms.
	DebounceInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.5
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 5
	}
	if c.TemporalWindow <= 0 {
		c.TemporalWindow = 30 * time.Minute
	}
	if c.TemporalBonus <= 0 {
		c.TemporalBonus = 0.2
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 300 * time.Millisecond
	}
}

// TextEmbedder turns text into a vector. Failures propagate to the
// discovery caller: embedding is a hard precondition here.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ConnectionStore is the persistence boundary discovery needs for
// deduplication: existing edges for an entry and in-place strength
// updates.
type ConnectionStore interface {
	ConnectionsFor(ctx context.Context, entryID string) ([]notes.Connection, error)
	UpdateConnectionStrength(ctx context.Context, connectionID string, strength float64) error
}

// Discoverer finds connections for a target entry against a corpus.
// The debounce token is private mutable state confined behind the
// mutex; concurrent callers are serialized by the component itself.
type Discoverer struct {
	embedder TextEmbedder
	store    ConnectionStore
	cfg      Config

	mu     sync.Mutex
	latest uint64
}

// New creates a Discoverer. store may be nil, in which case
// deduplication against persisted connections is skipped.
func New(embedder TextEmbedder, store ConnectionStore, cfg Config) *Discoverer {
	cfg.applyDefaults()
	return &Discoverer{embedder: embedder, store: store, cfg: cfg}
}

// Discover scores every corpus entry against the target and returns new
// auto connections, strongest first, capped at MaxConnections.
//
// Candidates below the similarity threshold are skipped: similarity is
// a necessary condition, not just one signal among several. When a
// connection to a candidate already exists, its stored strength is
// raised to the higher of old and new instead of creating a duplicate
// edge, and the candidate does not count toward the result list.
func (d *Discoverer) Discover(ctx context.Context, target notes.Entry, corpus []notes.Entry) ([]notes.Connection, error) {
	targetVec, err := d.embedder.Embed(ctx, target.Text())
	if err != nil {
		return nil, fmt.Errorf("embedding target %s: %w", target.ID, err)
	}
	targetTokens := keywords.KeywordSet(target.Text())

	existing, err := d.existingByOther(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry notes.Entry
		score float64
	}
	var candidates []scored

	for _, candidate := range corpus {
		if candidate.ID == target.ID {
			continue
		}

		candidateVec, err := d.embedder.Embed(ctx, candidate.Text())
		if err != nil {
			return nil, fmt.Errorf("embedding candidate %s: %w", candidate.ID, err)
		}
		similarity := embedding.Cosine(targetVec, candidateVec)
		if similarity < d.cfg.SimilarityThreshold {
			continue
		}

		score := similarityWeight*similarity +
			keywordWeight*keywords.Jaccard(targetTokens, keywords.KeywordSet(candidate.Text())) +
			d.temporalBonus(target.CreatedAt, candidate.CreatedAt)
		if score > 1.0 {
			score = 1.0
		}

		if conn, ok := existing[candidate.ID]; ok {
			if score > conn.Strength {
				if err := d.store.UpdateConnectionStrength(ctx, conn.ID, score); err != nil {
					return nil, fmt.Errorf("updating connection %s: %w", conn.ID, err)
				}
			}
			continue
		}

		candidates = append(candidates, scored{entry: candidate, score: score})
	}

	// Candidates were evaluated in corpus order; the explicit sort makes
	// caller-visible ordering deterministic regardless.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.ID < candidates[j].entry.ID
	})
	if len(candidates) > d.cfg.MaxConnections {
		candidates = candidates[:d.cfg.MaxConnections]
	}

	now := time.Now().UTC()
	result := make([]notes.Connection, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, notes.Connection{
			ID:           uuid.New().String(),
			SourceID:     target.ID,
			TargetID:     c.entry.ID,
			Relationship: notes.DefaultRelationship,
			Strength:     c.score,
			CreatedBy:    notes.CreatorAuto,
			CreatedAt:    now,
		})
	}
	return result, nil
}

// DiscoverDebounced tags the call with a fresh request token, sleeps
// for the debounce interval, and proceeds only if no newer request has
// superseded it — otherwise it returns an empty result silently.
// Supersession is advisory staleness checking, not a destructive cancel.
func (d *Discoverer) DiscoverDebounced(ctx context.Context, target notes.Entry, corpus []notes.Entry) ([]notes.Connection, error) {
	d.mu.Lock()
	d.latest++
	token := d.latest
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.cfg.DebounceInterval):
	}

	d.mu.Lock()
	superseded := token != d.latest
	d.mu.Unlock()
	if superseded {
		return nil, nil
	}

	return d.Discover(ctx, target, corpus)
}

// existingByOther indexes the target's persisted connections by the
// entry on the far side. Dedup is keyed by candidate ID only, so two
// relationship types between the same pair cannot coexist.
func (d *Discoverer) existingByOther(ctx context.Context, targetID string) (map[string]notes.Connection, error) {
	if d.store == nil {
		return nil, nil
	}
	conns, err := d.store.ConnectionsFor(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading existing connections: %w", err)
	}
	byOther := make(map[string]notes.Connection, len(conns))
	for _, conn := range conns {
		if other, ok := conn.Other(targetID); ok {
			byOther[other] = conn
		}
	}
	return byOther, nil
}

func (d *Discoverer) temporalBonus(a, b time.Time) float64 {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	if diff <= d.cfg.TemporalWindow {
		return d.cfg.TemporalBonus
	}
	return 0
}
