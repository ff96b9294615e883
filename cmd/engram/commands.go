package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func defaultProject() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Base(wd)
}

// --- save ---

var saveCmd = &cobra.Command{
	Use:   "save [body]",
	Short: "Store a context item",
	Long: `Store a context item in long-term memory.

The body is taken from the argument, from --file, or from stdin.

Examples:
  engram save --summary "JWT middleware decision" "We picked RS256 because..."
  engram save --summary "Auth handler" --file ./internal/auth/handler.go --kind code-snippet
  git log -1 --format=%B | engram save --summary "Release notes draft"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetString("summary")
		project, _ := cmd.Flags().GetString("project")
		ide, _ := cmd.Flags().GetString("ide")
		kind, _ := cmd.Flags().GetString("kind")
		file, _ := cmd.Flags().GetString("file")
		language, _ := cmd.Flags().GetString("lang")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if summary == "" {
			return fmt.Errorf("--summary is required")
		}

		var body string
		switch {
		case len(args) == 1:
			body = args[0]
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			body = string(data)
			if kind == "" {
				kind = "code-snippet"
			}
		default:
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			body = string(data)
		}

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		if kind == "" {
			kind = "discussion"
		}

		req := map[string]any{
			"project": project,
			"ide":     ide,
			"summary": summary,
			"body":    body,
			"kind":    kind,
		}
		if file != "" {
			req["file_path"] = file
		}
		if language != "" {
			req["language"] = language
		}
		if tags != nil {
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/contexts", req)
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored context %s", result.ID)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringP("summary", "s", "", "one-line summary of the context (required)")
	saveCmd.Flags().StringP("project", "p", defaultProject(), "project the context belongs to")
	saveCmd.Flags().String("ide", "cli", "originating tool")
	saveCmd.Flags().StringP("kind", "k", "", "context kind (code-snippet, fix-history, project-summary, discussion, tool-log, or other:<label>)")
	saveCmd.Flags().StringP("file", "f", "", "read the body from a file")
	saveCmd.Flags().String("lang", "", "programming language of the body")
	saveCmd.Flags().StringP("tags", "t", "", "comma-separated tags")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over stored contexts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		project, _ := cmd.Flags().GetString("project")
		kind, _ := cmd.Flags().GetString("kind")
		tag, _ := cmd.Flags().GetString("tag")
		ide, _ := cmd.Flags().GetString("ide")

		filters := map[string]string{}
		if project != "" {
			filters["project"] = project
		}
		if kind != "" {
			filters["kind"] = kind
		}
		if tag != "" {
			filters["tag"] = tag
		}
		if ide != "" {
			filters["ide"] = ide
		}

		req := map[string]any{
			"query": query,
			"limit": limit,
		}
		if len(filters) > 0 {
			req["filters"] = filters
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/search", req)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				ID       string   `json:"id"`
				Project  string   `json:"project"`
				Summary  string   `json:"summary"`
				Body     string   `json:"body"`
				Kind     string   `json:"kind"`
				Tags     []string `json:"tags"`
				FilePath string   `json:"file_path"`
				Score    float32  `json:"score"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("\n%s [%.3f] %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), r.Score, r.Summary)
			fmt.Printf("   %s  %s  %s", colorize(colorCyan, r.ID[:8]), r.Project, r.Kind)
			if r.FilePath != "" {
				fmt.Printf("  %s", r.FilePath)
			}
			fmt.Println()
			if len(r.Tags) > 0 {
				fmt.Printf("   Tags: %s\n", strings.Join(r.Tags, ", "))
			}
			body := r.Body
			if len(body) > 400 {
				body = body[:400] + "..."
			}
			fmt.Printf("   %s\n", strings.ReplaceAll(body, "\n", "\n   "))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntP("limit", "n", 8, "maximum number of results")
	searchCmd.Flags().StringP("project", "p", "", "restrict to a project")
	searchCmd.Flags().StringP("kind", "k", "", "restrict to a kind")
	searchCmd.Flags().StringP("tag", "t", "", "restrict to a tag")
	searchCmd.Flags().String("ide", "", "restrict to an originating tool")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently stored contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/contexts?limit=%d", limit)
		if project != "" {
			path += "&project=" + url.QueryEscape(project)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var items []struct {
			ID        string `json:"id"`
			Project   string `json:"project"`
			Summary   string `json:"summary"`
			Kind      string `json:"kind"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No contexts found.")
			return nil
		}

		for _, it := range items {
			summary := it.Summary
			if len(summary) > 80 {
				summary = summary[:80] + "..."
			}
			fmt.Printf("%s  %s  %-10s  %s\n",
				colorize(colorCyan, it.ID[:8]),
				it.CreatedAt,
				it.Kind,
				summary,
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of contexts to list")
	historyCmd.Flags().StringP("project", "p", "", "restrict to a project")
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects with stored contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/projects")
		if err != nil {
			return err
		}

		var projects []string
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}

		for _, p := range projects {
			fmt.Println(p)
		}
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daemon statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/stats")
		if err != nil {
			return err
		}

		var stats any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}
