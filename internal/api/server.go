// Package api exposes the daemon over HTTP (chi) and MCP (stdio).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cortex/internal/notes"
	"github.com/kalambet/cortex/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds the handler dependencies.
type AppDeps struct {
	Store      *storage.Store
	Classifier EntryClassifier
	Discoverer ConnectionDiscoverer
	// Token enables bearer auth when non-empty.
	Token string
}

// NewAppHandler returns the HTTP API handler.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)

	r.Post("/entries", handleCreateEntry(deps))
	r.Get("/entries", handleListEntries(deps))
	r.Get("/entries/{id}", handleGetEntry(deps))
	r.Patch("/entries/{id}", handleUpdateEntry(deps))
	r.Delete("/entries/{id}", handleDeleteEntry(deps))
	r.Post("/entries/{id}/classify", handleClassifyEntry(deps))
	r.Get("/entries/{id}/connections", handleListConnections(deps))
	r.Post("/entries/{id}/connections/discover", handleDiscoverConnections(deps))
	r.Delete("/connections/{id}", handleDeleteConnection(deps))

	r.Get("/groups", handleListGroups(deps))
	r.Post("/groups/rebuild", handleRebuildGroups(deps))
	r.Patch("/groups/{id}", handleRenameGroup(deps))

	r.Post("/rescore", handleRescore(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// EntryJSON is the wire form of an entry.
type EntryJSON struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Category        string   `json:"category"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
	Score           float64  `json:"score"`
	Pinned          bool     `json:"pinned"`
	Archived        bool     `json:"archived"`
	Starred         bool     `json:"starred"`
	Completed       bool     `json:"completed"`
	DueDate         *string  `json:"due_date,omitempty"`
	Urgency         string   `json:"urgency,omitempty"`
	ConnectionCount int      `json:"connection_count"`
}

func toEntryJSON(e notes.Entry) EntryJSON {
	out := EntryJSON{
		ID:              e.ID,
		Title:           e.Title,
		Body:            e.Body,
		Category:        string(e.Category),
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       e.UpdatedAt.UTC().Format(time.RFC3339),
		Score:           e.Score,
		Pinned:          e.Pinned,
		Archived:        e.Archived,
		Starred:         e.Starred,
		Completed:       e.Completed,
		Urgency:         string(e.Urgency),
		ConnectionCount: e.ConnectionCount,
	}
	if e.DueDate != nil {
		s := e.DueDate.UTC().Format(time.RFC3339)
		out.DueDate = &s
	}
	return out
}

// ConnectionJSON is the wire form of a connection.
type ConnectionJSON struct {
	ID           string  `json:"id"`
	SourceID     string  `json:"source_id"`
	TargetID     string  `json:"target_id"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
	CreatedBy    string  `json:"created_by"`
	CreatedAt    string  `json:"created_at"`
}

func toConnectionJSON(c notes.Connection) ConnectionJSON {
	return ConnectionJSON{
		ID:           c.ID,
		SourceID:     c.SourceID,
		TargetID:     c.TargetID,
		Relationship: c.Relationship,
		Strength:     c.Strength,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// GroupJSON is the wire form of a group.
type GroupJSON struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MemberIDs     []string `json:"member_ids"`
	AutoGenerated bool     `json:"auto_generated"`
	CreatedAt     string   `json:"created_at"`
}

func toGroupJSON(g notes.Group) GroupJSON {
	return GroupJSON{
		ID:            g.ID,
		Name:          g.Name,
		MemberIDs:     g.MemberIDs,
		AutoGenerated: g.AutoGenerated,
		CreatedAt:     g.CreatedAt.UTC().Format(time.RFC3339),
	}
}
