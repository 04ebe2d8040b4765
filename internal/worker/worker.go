// Package worker processes background jobs from the SQLite job queue:
// classification, connection discovery, re-clustering, and full
// rescoring happen off the request path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/cortex/internal/classify"
	"github.com/kalambet/cortex/internal/clustering"
	"github.com/kalambet/cortex/internal/notes"
	"github.com/kalambet/cortex/internal/scoring"
	"github.com/kalambet/cortex/internal/storage"
)

// Job types understood by the worker.
const (
	JobClassifyEntry       = "classify_entry"
	JobDiscoverConnections = "discover_connections"
	JobRecluster           = "recluster"
	JobRescoreAll          = "rescore_all"
)

var allJobTypes = []string{JobClassifyEntry, JobDiscoverConnections, JobRecluster, JobRescoreAll}

// JobStore abstracts the persistence the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error

	GetEntry(id string) (notes.Entry, error)
	ListEntries(includeArchived bool) ([]notes.Entry, error)
	UpdateEntryCategory(id string, category notes.Category) error
	UpdateEntryScore(id string, score float64) error
	UpdateScores(scores map[string]float64) error
	SaveConnection(c notes.Connection) error
	ListGroups() ([]notes.Group, error)
	ReplaceGroups(groups []notes.Group) error
}

// EntryClassifier decides a category for free text.
type EntryClassifier interface {
	Classify(ctx context.Context, text string) classify.Result
}

// ConnectionFinder scores a target entry against a corpus and returns
// new connections.
type ConnectionFinder interface {
	Discover(ctx context.Context, target notes.Entry, corpus []notes.Entry) ([]notes.Connection, error)
}

// DensityClusterer runs the embedding-based grouping engine.
type DensityClusterer interface {
	Cluster(ctx context.Context, entries []notes.Entry) (clustering.DensityResult, error)
}

// Worker polls the job queue and dispatches by job type.
type Worker struct {
	store      JobStore
	classifier EntryClassifier
	finder     ConnectionFinder
	density    DensityClusterer
	keywordCfg clustering.KeywordConfig
	poll       time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, classifier EntryClassifier, finder ConnectionFinder, density DensityClusterer, keywordCfg clustering.KeywordConfig, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:      store,
		classifier: classifier,
		finder:     finder,
		density:    density,
		keywordCfg: keywordCfg,
		poll:       pollInterval,
		logger:     slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(allJobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type entryPayload struct {
	EntryID string `json:"entry_id"`
}

type reclusterPayload struct {
	Engine string `json:"engine"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobClassifyEntry:
		return w.classifyEntry(ctx, job.PayloadJSON)
	case JobDiscoverConnections:
		return w.discoverConnections(ctx, job.PayloadJSON)
	case JobRecluster:
		return w.recluster(ctx, job.PayloadJSON)
	case JobRescoreAll:
		return w.rescoreAll()
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) classifyEntry(ctx context.Context, payloadJSON string) error {
	var payload entryPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	entry, err := w.store.GetEntry(payload.EntryID)
	if err != nil {
		return fmt.Errorf("loading entry %s: %w", payload.EntryID, err)
	}

	result := w.classifier.Classify(ctx, entry.Text())
	if err := w.store.UpdateEntryCategory(entry.ID, result.Category); err != nil {
		return fmt.Errorf("updating category: %w", err)
	}

	// Category feeds the score's base, so recompute immediately.
	entry.Category = result.Category
	if err := w.store.UpdateEntryScore(entry.ID, scoring.Score(entry, time.Now().UTC())); err != nil {
		return fmt.Errorf("updating score: %w", err)
	}

	w.logger.Debug("entry classified",
		"entry_id", entry.ID,
		"category", result.Category,
		"tier", result.Tier,
		"confidence", result.Confidence)
	return nil
}

func (w *Worker) discoverConnections(ctx context.Context, payloadJSON string) error {
	var payload entryPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	target, err := w.store.GetEntry(payload.EntryID)
	if err != nil {
		return fmt.Errorf("loading entry %s: %w", payload.EntryID, err)
	}

	corpus, err := w.store.ListEntries(false)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	conns, err := w.finder.Discover(ctx, target, corpus)
	if err != nil {
		return fmt.Errorf("discovering connections: %w", err)
	}

	for _, conn := range conns {
		if err := w.store.SaveConnection(conn); err != nil {
			return fmt.Errorf("saving connection %s: %w", conn.ID, err)
		}
	}
	w.logger.Debug("connections discovered", "entry_id", target.ID, "count", len(conns))
	return nil
}

func (w *Worker) recluster(ctx context.Context, payloadJSON string) error {
	var payload reclusterPayload
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
	}

	entries, err := w.store.ListEntries(false)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	var clusters []clustering.Cluster
	switch payload.Engine {
	case "", "keywords":
		clusters = clustering.ClusterByKeywords(entries, w.keywordCfg)
	case "embeddings":
		if w.density == nil {
			return fmt.Errorf("embedding engine unavailable")
		}
		result, err := w.density.Cluster(ctx, entries)
		if err != nil {
			return fmt.Errorf("density clustering: %w", err)
		}
		clusters = result.Clusters
	default:
		return fmt.Errorf("unknown cluster engine %q", payload.Engine)
	}

	existing, err := w.store.ListGroups()
	if err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}

	byID := make(map[string]notes.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	groups := clustering.ReconcileGroups(clusters, existing, func(id string) (string, bool) {
		e, ok := byID[id]
		if !ok {
			return "", false
		}
		return e.Text(), true
	})

	if err := w.store.ReplaceGroups(groups); err != nil {
		return fmt.Errorf("replacing groups: %w", err)
	}
	w.logger.Debug("reclustered", "engine", payload.Engine, "groups", len(groups))
	return nil
}

func (w *Worker) rescoreAll() error {
	entries, err := w.store.ListEntries(false)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	now := time.Now().UTC()
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		scores[e.ID] = scoring.Score(e, now)
	}
	if err := w.store.UpdateScores(scores); err != nil {
		return fmt.Errorf("updating scores: %w", err)
	}
	w.logger.Debug("rescored all entries", "count", len(entries))
	return nil
}
