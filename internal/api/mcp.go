package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engram-ai/engram/internal/domain"
	"github.com/engram-ai/engram/internal/service"
)

const mcpInstructions = "engram is the long-term memory of this machine's AI coding assistants. " +
	"Call ingest_context after solving a non-trivial problem, fixing a bug, or learning something " +
	"project-specific worth keeping. Call search_contexts at the start of a task to recall prior " +
	"solutions, conventions, and fixes from any editor or session. Records are shared across all " +
	"assistants on this machine and are never modified or deleted once stored."

// NewMCPServer builds the MCP tool server exposing the memory operations.
// The same server is driven over stdio by IDE bridges and over SSE by the
// owner daemon.
func NewMCPServer(svc *service.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"engram",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(mcpInstructions),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ingest_context",
			mcp.WithDescription("Store a context item (code snippet, fix, discussion, ...) in long-term memory."),
			mcp.WithString("project", mcp.Description("Project identifier, usually the repository name"), mcp.Required()),
			mcp.WithString("ide", mcp.Description("Editor or assistant storing the item"), mcp.Required()),
			mcp.WithString("summary", mcp.Description("One-line description of the item"), mcp.Required()),
			mcp.WithString("body", mcp.Description("Full text or code of the item"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("One of code-snippet, fix-history, project-summary, discussion, tool-log, or other:<label> (default discussion)")),
			mcp.WithString("file_path", mcp.Description("Optional file path the item relates to")),
			mcp.WithString("language", mcp.Description("Optional language tag, e.g. go, rust")),
			mcp.WithArray("tags", mcp.Description("Optional tags for filtering, up to 12")),
		),
		mcpIngestContext(svc),
	)

	s.AddTool(
		mcp.NewTool("search_contexts",
			mcp.WithDescription("Semantically search long-term memory for relevant context items."),
			mcp.WithString("query", mcp.Description("What to look for, in natural language"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 8, max 32)")),
			mcp.WithString("project", mcp.Description("Restrict to one project")),
			mcp.WithString("kind", mcp.Description("Restrict to one kind")),
			mcp.WithString("tag", mcp.Description("Restrict to items carrying this tag")),
			mcp.WithString("ide", mcp.Description("Restrict to items stored by this editor")),
		),
		mcpSearchContexts(svc),
	)

	return s
}

func mcpIngestContext(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		project, err := req.RequireString("project")
		if err != nil {
			return mcpError("project is required"), nil
		}
		ide, err := req.RequireString("ide")
		if err != nil {
			return mcpError("ide is required"), nil
		}
		summary, err := req.RequireString("summary")
		if err != nil {
			return mcpError("summary is required"), nil
		}
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}

		payload := service.IngestPayload{
			Project:  project,
			IDE:      ide,
			Summary:  summary,
			Body:     body,
			FilePath: req.GetString("file_path", ""),
			Language: req.GetString("language", ""),
			Tags:     req.GetStringSlice("tags", nil),
			Kind:     req.GetString("kind", string(domain.KindDiscussion)),
		}

		stored, err := svc.Ingest(ctx, payload)
		if err != nil {
			return mcpError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		return mcpJSON(stored)
	}
}

func mcpSearchContexts(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		resp, err := svc.Search(ctx, service.SearchPayload{
			Query: query,
			Limit: req.GetInt("limit", 0),
			Filters: domain.Filters{
				Project: req.GetString("project", ""),
				Kind:    domain.Kind(req.GetString("kind", "")),
				Tag:     req.GetString("tag", ""),
				IDE:     req.GetString("ide", ""),
			},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(resp.Results)
	}
}

// NewSSEServer wraps the MCP server for the owner daemon's HTTP transport,
// serving the event stream at /sse and client messages at /message.
func NewSSEServer(mcpSrv *server.MCPServer, keepAlive time.Duration) *server.SSEServer {
	return server.NewSSEServer(mcpSrv,
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAliveInterval(keepAlive),
	)
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcpText(string(data)), nil
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
