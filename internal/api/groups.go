package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/worker"
)

func handleListGroups(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := deps.Store.ListGroups()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list groups: %v", err)
			return
		}

		out := make([]GroupJSON, len(groups))
		for i, g := range groups {
			out[i] = toGroupJSON(g)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleRebuildGroups(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := r.URL.Query().Get("engine")
		switch engine {
		case "", "keywords", "embeddings":
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown engine %q", engine)
			return
		}

		payload, err := json.Marshal(map[string]string{"engine": engine})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        worker.JobRecluster,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue recluster: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func handleRenameGroup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		err := deps.Store.RenameGroup(chi.URLParam(r, "id"), req.Name)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "group not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename group: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
	}
}
