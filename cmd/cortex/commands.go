package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/cortex/internal/config"
	"github.com/kalambet/cortex/internal/ingest"
)

type entryView struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Body            string  `json:"body"`
	Category        string  `json:"category"`
	Score           float64 `json:"score"`
	Pinned          bool    `json:"pinned"`
	ConnectionCount int     `json:"connection_count"`
}

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a note (category inferred unless given)",
	Long: `Add a note. The category is inferred from the text unless set explicitly.

Examples:
  cortex add "Need to finish quarterly report by Friday"
  cortex add "Buy groceries from Trader Joes" --category bucket
  cortex add "Redesign the garden" --title Garden --urgency high`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := strings.Join(args, " ")
		title, _ := cmd.Flags().GetString("title")
		category, _ := cmd.Flags().GetString("category")
		due, _ := cmd.Flags().GetString("due")
		urgency, _ := cmd.Flags().GetString("urgency")

		req := map[string]any{"body": body}
		if title != "" {
			req["title"] = title
		}
		if category != "" {
			req["category"] = category
		}
		if due != "" {
			req["due_date"] = due
		}
		if urgency != "" {
			req["urgency"] = urgency
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/entries", req)
		if err != nil {
			return err
		}

		var result struct {
			Entry          entryView `json:"entry"`
			Classification struct {
				Category   string  `json:"category"`
				Confidence float64 `json:"confidence"`
				Tier       string  `json:"tier"`
			} `json:"classification"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Added %s as %s (%s, confidence %.2f)",
			result.Entry.ID[:8], result.Classification.Category,
			result.Classification.Tier, result.Classification.Confidence)
		return nil
	},
}

func init() {
	addCmd.Flags().String("title", "", "title for the note")
	addCmd.Flags().String("category", "", "explicit category: idea, task, project, or bucket")
	addCmd.Flags().String("due", "", "due date (RFC3339)")
	addCmd.Flags().String("urgency", "", "urgency: low, medium, or high")
}

// --- list / show ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes by priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/entries"
		if all {
			path += "?include_archived=true"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var entries []entryView
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No notes found.")
			return nil
		}

		for _, e := range entries {
			text := e.Title
			if text == "" {
				text = e.Body
			}
			if len(text) > 70 {
				text = text[:70] + "..."
			}
			marker := " "
			if e.Pinned {
				marker = colorize(colorYellow, "★")
			}
			fmt.Printf("%s %s  %7.1f  %-7s  %s\n",
				marker,
				colorize(colorCyan, e.ID[:8]),
				e.Score,
				e.Category,
				text,
			)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single note as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/entries/"+args[0])
		if err != nil {
			return err
		}

		var entry any
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

func init() {
	listCmd.Flags().Bool("all", false, "include archived notes")
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <id>",
	Short: "Re-run classification for a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		req := map[string]any{}
		if category != "" {
			req["category"] = category
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/entries/"+args[0]+"/classify", req)
		if err != nil {
			return err
		}

		var result struct {
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
			Tier       string  `json:"tier"`
			Reasoning  string  `json:"reasoning"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Classified as %s (%s, confidence %.2f)", result.Category, result.Tier, result.Confidence)
		if result.Reasoning != "" {
			printStatus("Reasoning", "%s", result.Reasoning)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("category", "", "override the category instead of classifying")
}

// --- connections ---

var connectionsCmd = &cobra.Command{
	Use:   "connections <id>",
	Short: "List (and optionally discover) connections for a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		discover, _ := cmd.Flags().GetBool("discover")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if discover {
			resp, err := client.post(cmd.Context(), "/entries/"+args[0]+"/connections/discover", nil)
			if err != nil {
				return err
			}
			var found []json.RawMessage
			if err := decodeJSON(resp, &found); err != nil {
				return err
			}
			printStep("Discovered %d new connection(s)", len(found))
		}

		resp, err := client.get(cmd.Context(), "/entries/"+args[0]+"/connections")
		if err != nil {
			return err
		}

		var conns []struct {
			ID           string  `json:"id"`
			SourceID     string  `json:"source_id"`
			TargetID     string  `json:"target_id"`
			Relationship string  `json:"relationship"`
			Strength     float64 `json:"strength"`
			CreatedBy    string  `json:"created_by"`
		}
		if err := decodeJSON(resp, &conns); err != nil {
			return err
		}
		if len(conns) == 0 {
			fmt.Println("No connections found.")
			return nil
		}

		for _, c := range conns {
			other := c.TargetID
			if other == args[0] {
				other = c.SourceID
			}
			fmt.Printf("%s  %.2f  %-8s  %s  (%s)\n",
				colorize(colorCyan, c.ID[:8]),
				c.Strength,
				c.Relationship,
				other[:8],
				c.CreatedBy,
			)
		}
		return nil
	},
}

func init() {
	connectionsCmd.Flags().Bool("discover", false, "run discovery before listing")
}

// --- groups ---

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage note groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List current groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/groups")
		if err != nil {
			return err
		}

		var groups []struct {
			ID            string   `json:"id"`
			Name          string   `json:"name"`
			MemberIDs     []string `json:"member_ids"`
			AutoGenerated bool     `json:"auto_generated"`
		}
		if err := decodeJSON(resp, &groups); err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No groups found. Run 'cortex groups rebuild' first.")
			return nil
		}

		for _, g := range groups {
			origin := "user"
			if g.AutoGenerated {
				origin = "auto"
			}
			fmt.Printf("%s  %-30s  %d member(s)  [%s]\n",
				colorize(colorCyan, g.ID[:8]),
				colorize(colorBold, g.Name),
				len(g.MemberIDs),
				origin,
			)
		}
		return nil
	},
}

var groupsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Queue a re-clustering run",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _ := cmd.Flags().GetString("engine")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/groups/rebuild"
		if engine != "" {
			path += "?engine=" + engine
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Re-clustering %s", result["status"])
		return nil
	},
}

var groupsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a group (the name survives future rebuilds)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/groups/"+args[0], map[string]string{"name": args[1]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Renamed group %s to %q", args[0][:8], args[1])
		return nil
	},
}

func init() {
	groupsRebuildCmd.Flags().String("engine", "", "cluster engine: keywords (default) or embeddings")
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsRebuildCmd)
	groupsCmd.AddCommand(groupsRenameCmd)
}

// --- rescore ---

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Queue a full priority recomputation",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/rescore", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Rescore %s", result["status"])
		return nil
	},
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file.pdf>",
	Short: "Import a PDF as notes (one per page)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}

		entries, err := ingest.EntriesFromPDF(path, title)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		imported := 0
		for _, e := range entries {
			resp, err := client.post(cmd.Context(), "/entries", map[string]any{
				"title": e.Title,
				"body":  e.Body,
			})
			if err != nil {
				return err
			}
			var result map[string]any
			if err := decodeJSON(resp, &result); err != nil {
				printError("Failed to import %q: %v", e.Title, err)
				continue
			}
			imported++
		}

		printSuccess("Imported %d page(s) from %s", imported, path)
		return nil
	},
}

func init() {
	importCmd.Flags().String("title", "", "title prefix for imported notes (default: file name)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
