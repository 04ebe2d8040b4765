package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/classify"
	"github.com/kalambet/cortex/internal/notes"
	"github.com/kalambet/cortex/internal/scoring"
	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/worker"
)

// EntryClassifier decides entry categories for the API layer.
type EntryClassifier interface {
	ClassifyAndApply(ctx context.Context, entry *notes.Entry, override *notes.Category) classify.Result
}

// ConnectionDiscoverer runs debounced connection discovery.
type ConnectionDiscoverer interface {
	DiscoverDebounced(ctx context.Context, target notes.Entry, corpus []notes.Entry) ([]notes.Connection, error)
}

// EntryRequest is the create/update payload. Pointer fields distinguish
// "absent" from zero values on PATCH.
type EntryRequest struct {
	Title     *string `json:"title"`
	Body      *string `json:"body"`
	Category  *string `json:"category"`
	DueDate   *string `json:"due_date"`
	Urgency   *string `json:"urgency"`
	Pinned    *bool   `json:"pinned"`
	Archived  *bool   `json:"archived"`
	Starred   *bool   `json:"starred"`
	Completed *bool   `json:"completed"`
}

func handleCreateEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req EntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		entry := notes.Entry{
			ID:        uuid.New().String(),
			Category:  notes.CategoryIdea,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if req.Title != nil {
			entry.Title = *req.Title
		}
		if req.Body != nil {
			entry.Body = *req.Body
		}
		if entry.Text() == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of title or body is required")
			return
		}

		override, err := categoryOverride(req.Category)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := applyOptionalFields(&entry, req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		result := deps.Classifier.ClassifyAndApply(r.Context(), &entry, override)
		entry.Score = scoring.Score(entry, time.Now().UTC())

		if err := deps.Store.SaveEntry(entry); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save entry: %v", err)
			return
		}

		// Connection discovery runs off the request path.
		if err := enqueueEntryJob(deps.Store, worker.JobDiscoverConnections, entry.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saved entry but failed to queue discovery: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"entry":          toEntryJSON(entry),
			"classification": result,
		})
	}
}

func handleListEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.ListEntries(parseBoolParam(r, "include_archived"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entries: %v", err)
			return
		}

		out := make([]EntryJSON, len(entries))
		for i, e := range entries {
			out[i] = toEntryJSON(e)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := deps.Store.GetEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entry: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toEntryJSON(entry))
	}
}

func handleUpdateEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req EntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		entry, err := deps.Store.GetEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entry: %v", err)
			return
		}

		textChanged := false
		if req.Title != nil && *req.Title != entry.Title {
			entry.Title = *req.Title
			textChanged = true
		}
		if req.Body != nil && *req.Body != entry.Body {
			entry.Body = *req.Body
			textChanged = true
		}
		if entry.Text() == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of title or body is required")
			return
		}

		override, err := categoryOverride(req.Category)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := applyOptionalFields(&entry, req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		switch {
		case override != nil:
			deps.Classifier.ClassifyAndApply(r.Context(), &entry, override)
		case textChanged:
			deps.Classifier.ClassifyAndApply(r.Context(), &entry, nil)
		}

		entry.UpdatedAt = time.Now().UTC()
		entry.Score = scoring.Score(entry, time.Now().UTC())

		if err := deps.Store.UpdateEntry(entry); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update entry: %v", err)
			return
		}

		if textChanged {
			if err := enqueueEntryJob(deps.Store, worker.JobDiscoverConnections, entry.ID); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "updated entry but failed to queue discovery: %v", err)
				return
			}
		}

		writeJSON(w, http.StatusOK, toEntryJSON(entry))
	}
}

func handleDeleteEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete entry: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleClassifyEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Category *string `json:"category"`
		}
		// Empty body means "re-run automatic classification".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		entry, err := deps.Store.GetEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entry: %v", err)
			return
		}

		override, err := categoryOverride(req.Category)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		result := deps.Classifier.ClassifyAndApply(r.Context(), &entry, override)
		if err := deps.Store.UpdateEntryCategory(entry.ID, entry.Category); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update category: %v", err)
			return
		}
		if err := deps.Store.UpdateEntryScore(entry.ID, scoring.Score(entry, time.Now().UTC())); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update score: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func handleListConnections(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetEntry(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entry: %v", err)
			return
		}

		conns, err := deps.Store.ConnectionsFor(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list connections: %v", err)
			return
		}

		out := make([]ConnectionJSON, len(conns))
		for i, c := range conns {
			out[i] = toConnectionJSON(c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDiscoverConnections(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := deps.Store.GetEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entry: %v", err)
			return
		}

		corpus, err := deps.Store.ListEntries(false)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entries: %v", err)
			return
		}

		conns, err := deps.Discoverer.DiscoverDebounced(r.Context(), target, corpus)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "discovery failed: %v", err)
			return
		}

		for _, conn := range conns {
			if err := deps.Store.SaveConnection(conn); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save connection: %v", err)
				return
			}
		}

		out := make([]ConnectionJSON, len(conns))
		for i, c := range conns {
			out[i] = toConnectionJSON(c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteConnection(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "connection not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete connection: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleRescore(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        worker.JobRescoreAll,
			PayloadJSON: "{}",
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue rescore: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func categoryOverride(s *string) (*notes.Category, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	c := notes.Category(*s)
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %q", *s)
	}
	return &c, nil
}

func applyOptionalFields(entry *notes.Entry, req EntryRequest) error {
	if req.DueDate != nil {
		if *req.DueDate == "" {
			entry.DueDate = nil
		} else {
			t, err := time.Parse(time.RFC3339, *req.DueDate)
			if err != nil {
				return fmt.Errorf("invalid due_date: %w", err)
			}
			entry.DueDate = &t
		}
	}
	if req.Urgency != nil {
		u := notes.Urgency(*req.Urgency)
		// Empty string clears the urgency.
		if u != "" && !u.Valid() {
			return fmt.Errorf("invalid urgency %q", *req.Urgency)
		}
		entry.Urgency = u
	}
	if req.Pinned != nil {
		entry.Pinned = *req.Pinned
	}
	if req.Archived != nil {
		entry.Archived = *req.Archived
	}
	if req.Starred != nil {
		entry.Starred = *req.Starred
	}
	if req.Completed != nil {
		entry.Completed = *req.Completed
	}
	return nil
}

func enqueueEntryJob(store *storage.Store, jobType, entryID string) error {
	payload, err := json.Marshal(map[string]string{"entry_id": entryID})
	if err != nil {
		return err
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: string(payload),
	})
}
