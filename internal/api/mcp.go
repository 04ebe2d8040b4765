package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cortex/internal/notes"
	"github.com/kalambet/cortex/internal/scoring"
	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/worker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Classifier EntryClassifier
	Discoverer ConnectionDiscoverer
}

// NewMCPServer creates an MCP server with all cortex tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"cortex",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cortex — local note intelligence: classification, priority scoring, connection discovery, and grouping."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_note",
			mcp.WithDescription("Store a note. The category is inferred automatically unless given explicitly."),
			mcp.WithString("title", mcp.Description("Title for the note")),
			mcp.WithString("body", mcp.Description("The note text"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Optional explicit category: idea, task, project, or bucket")),
		),
		mcpAddNote(deps),
	)

	s.AddTool(
		mcp.NewTool("classify_note",
			mcp.WithDescription("Classify free text into idea, task, project, or bucket without storing it."),
			mcp.WithString("text", mcp.Description("Text to classify"), mcp.Required()),
		),
		mcpClassifyNote(deps),
	)

	s.AddTool(
		mcp.NewTool("find_connections",
			mcp.WithDescription("Discover related notes for a stored note and persist the strongest links."),
			mcp.WithString("note_id", mcp.Description("ID of the note to find connections for"), mcp.Required()),
		),
		mcpFindConnections(deps),
	)

	s.AddTool(
		mcp.NewTool("list_groups",
			mcp.WithDescription("List the current note groups with their members."),
		),
		mcpListGroups(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"notes://top",
			"Top Notes",
			mcp.WithResourceDescription("The 10 highest-priority notes as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTopNotes(deps),
	)

	return s
}

func mcpAddNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}

		entry := notes.Entry{
			ID:        uuid.New().String(),
			Title:     req.GetString("title", ""),
			Body:      body,
			Category:  notes.CategoryIdea,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}

		var override *notes.Category
		if raw := req.GetString("category", ""); raw != "" {
			c := notes.Category(raw)
			if !c.Valid() {
				return mcpError(fmt.Sprintf("invalid category %q", raw)), nil
			}
			override = &c
		}

		result := deps.Classifier.ClassifyAndApply(ctx, &entry, override)
		entry.Score = scoring.Score(entry, time.Now().UTC())

		if err := deps.Store.SaveEntry(entry); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		payload, err := json.Marshal(map[string]string{"entry_id": entry.ID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal discovery payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        worker.JobDiscoverConnections,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("saved note but failed to queue discovery: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored note %s as %s (%s, confidence %.2f)",
			entry.ID, result.Category, result.Tier, result.Confidence)), nil
	}
}

func mcpClassifyNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		entry := notes.Entry{Body: text}
		result := deps.Classifier.ClassifyAndApply(ctx, &entry, nil)

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFindConnections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		noteID, err := req.RequireString("note_id")
		if err != nil {
			return mcpError("note_id is required"), nil
		}

		target, err := deps.Store.GetEntry(noteID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load note: %v", err)), nil
		}
		corpus, err := deps.Store.ListEntries(false)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list notes: %v", err)), nil
		}

		conns, err := deps.Discoverer.DiscoverDebounced(ctx, target, corpus)
		if err != nil {
			return mcpError(fmt.Sprintf("discovery failed: %v", err)), nil
		}
		for _, conn := range conns {
			if err := deps.Store.SaveConnection(conn); err != nil {
				return mcpError(fmt.Sprintf("failed to save connection: %v", err)), nil
			}
		}

		out := make([]ConnectionJSON, len(conns))
		for i, c := range conns {
			out[i] = toConnectionJSON(c)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal connections: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListGroups(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		groups, err := deps.Store.ListGroups()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list groups: %v", err)), nil
		}

		out := make([]GroupJSON, len(groups))
		for i, g := range groups {
			out[i] = toGroupJSON(g)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal groups: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTopNotes(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Store.ListEntries(false)
		if err != nil {
			return nil, fmt.Errorf("failed to list notes: %w", err)
		}
		if len(entries) > 10 {
			entries = entries[:10]
		}

		out := make([]EntryJSON, len(entries))
		for i, e := range entries {
			out[i] = toEntryJSON(e)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notes: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
