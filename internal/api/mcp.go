package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfqa/internal/query"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service Service
	Index   IndexReader
	History History // optional; history://recent is not registered when nil
	Version string
}

// NewMCPServer creates an MCP server exposing the document tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"pdfqa",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pdfqa answers questions from a local folder of PDF documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Answer a question using the PDF documents in a local folder"),
			mcp.WithString("prompt", mcp.Required(), mcp.Description("The question to answer")),
			mcp.WithString("directory", mcp.Description("Folder holding the PDFs; defaults to the configured corpus directory")),
		),
		mcpAsk(deps),
	)
	s.AddTool(
		mcp.NewTool("sync_documents",
			mcp.WithDescription("Upload PDFs that are missing from the remote index"),
			mcp.WithString("directory", mcp.Description("Folder holding the PDFs; defaults to the configured corpus directory")),
		),
		mcpSync(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"index://current",
			"Current index",
			mcp.WithResourceDescription("The cached vector store ID"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceIndex(deps),
	)
	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"history://recent",
				"Recent questions",
				mcp.WithResourceDescription("Last 10 answered questions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		dir := req.GetString("directory", "")

		ans, err := deps.Service.Answer(ctx, query.Request{Prompt: prompt, Directory: dir})
		if errors.Is(err, query.ErrNoAnswer) {
			return mcpText("No answer found."), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to answer: %v", err)), nil
		}
		return mcpText(ans.Text), nil
	}
}

func mcpSync(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dir := req.GetString("directory", "")

		res, err := deps.Service.Sync(ctx, query.SyncRequest{Directory: dir, Source: "mcp"})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to sync: %v", err)), nil
		}

		verb := "reused"
		if res.Created {
			verb = "created"
		}
		return mcpText(fmt.Sprintf("Vector store %s %s; %d of %d documents attached.",
			res.IndexID, verb, res.Attached, res.Documents)), nil
	}
}

func mcpResourceIndex(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(map[string]string{"vector_store_id": deps.Index.Cached()})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal index: %w", err)
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

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.History.GetRecentInteractions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prompt    string `json:"prompt"`
			Status    string `json:"status"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			prompt := ix.Prompt
			if utf8.RuneCountInString(prompt) > 200 {
				runes := []rune(prompt)
				prompt = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Prompt:    prompt,
				Status:    ix.Status,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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
