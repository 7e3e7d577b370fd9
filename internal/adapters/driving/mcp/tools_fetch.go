package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// FetchInput is the input schema for the fetch tool.
type FetchInput struct {
	URL     string `json:"url" jsonschema:"page URL to fetch as markdown"`
	Force   bool   `json:"force,omitempty" jsonschema:"bypass the raw cache and refetch"`
	Project string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// FetchOutput is the output schema for the fetch tool.
type FetchOutput struct {
	URL       string `json:"url"`
	Content   string `json:"content"`
	Path      string `json:"path,omitempty"`
	Source    string `json:"source,omitempty"`
	FromCache bool   `json:"from_cache"`
	Ingested  bool   `json:"ingested"`
}

// FetchSitemapInput is the input schema for the fetch_sitemap tool.
type FetchSitemapInput struct {
	URL     string `json:"url" jsonschema:"sitemap.xml URL to expand and fetch"`
	Force   bool   `json:"force,omitempty" jsonschema:"bypass the raw cache and refetch every page"`
	Project string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// LoadDirInput is the input schema for the load_dir tool.
type LoadDirInput struct {
	Pattern string `json:"pattern" jsonschema:"doublestar glob of local files to ingest, e.g. docs/**/*.md"`
	Project string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

func (s *Server) registerFetchTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_fetch",
		Description: "Fetch a page as markdown, cache it and index it. Returns the content.",
	}, s.handleFetch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_fetch_sitemap",
		Description: "Expand a sitemap and fetch every listed page with bounded concurrency.",
	}, s.handleFetchSitemap)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_load_dir",
		Description: "Ingest local files matching a glob pattern into the knowledge index.",
	}, s.handleLoadDir)
}

func (s *Server) handleFetch(ctx context.Context, _ *mcp.CallToolRequest, input FetchInput) (*mcp.CallToolResult, FetchOutput, error) {
	result := s.ports.Fetch.Fetch(ctx, input.Project, input.URL, input.Force)
	if result.Failed() {
		message := fmt.Sprintf("fetching %s: %s", input.URL, result.Message)
		return failureKind(result.ErrorKind, message), FetchOutput{}, nil
	}

	out := FetchOutput{
		URL:       result.URL,
		Content:   result.Content,
		Path:      result.Path,
		FromCache: result.FromCache,
		Ingested:  result.Ingested,
	}
	if result.Meta != nil {
		out.Source = string(result.Meta.MarkdownSource)
	}
	return nil, out, nil
}

func (s *Server) handleFetchSitemap(ctx context.Context, _ *mcp.CallToolRequest, input FetchSitemapInput) (*mcp.CallToolResult, domain.FetchSummary, error) {
	summary, err := s.ports.Fetch.FetchSitemap(ctx, input.Project, input.URL, input.Force)
	if err != nil {
		return failure(err), domain.FetchSummary{}, nil
	}
	return nil, summary, nil
}

func (s *Server) handleLoadDir(ctx context.Context, _ *mcp.CallToolRequest, input LoadDirInput) (*mcp.CallToolResult, domain.LoadSummary, error) {
	summary, err := s.ports.Fetch.LoadDir(ctx, input.Project, input.Pattern)
	if err != nil {
		return failure(err), domain.LoadSummary{}, nil
	}
	return nil, summary, nil
}
