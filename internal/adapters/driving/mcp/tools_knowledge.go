package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"search query"`
	TopK    int    `json:"top_k,omitempty" jsonschema:"maximum number of results (default 10)"`
	Mode    string `json:"mode,omitempty" jsonschema:"retrieval mode: lexical, vector or hybrid (default hybrid)"`
	Thread  string `json:"thread,omitempty" jsonschema:"keep only hits from documents with this thread"`
	Label   string `json:"label,omitempty" jsonschema:"keep only hits from documents with this label"`
	Project string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Hits  []domain.Hit `json:"hits"`
	Count int          `json:"count"`
}

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question    string `json:"question" jsonschema:"question to answer from the indexed knowledge"`
	ContextOnly bool   `json:"context_only,omitempty" jsonschema:"return retrieved chunks without composing an answer"`
	Thread      string `json:"thread,omitempty" jsonschema:"restrict retrieval to documents with this thread"`
	Project     string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer string       `json:"answer,omitempty"`
	Hits   []domain.Hit `json:"hits"`
}

// TimelineInput is the input schema for the timeline tool.
type TimelineInput struct {
	Since   string `json:"since,omitempty" jsonschema:"RFC3339 lower bound on ingestion time"`
	Until   string `json:"until,omitempty" jsonschema:"RFC3339 upper bound on ingestion time"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of entries (default 50)"`
	Project string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// TimelineOutput is the output schema for the timeline tool.
type TimelineOutput struct {
	Entries []domain.TimelineEntry `json:"entries"`
	Count   int                    `json:"count"`
}

// IngestInput is the input schema for the ingest tool.
type IngestInput struct {
	Title    string         `json:"title" jsonschema:"document title"`
	Text     string         `json:"text" jsonschema:"markdown content to index"`
	Label    string         `json:"label,omitempty" jsonschema:"coarse bucket, e.g. a library name (default 'note')"`
	Thread   string         `json:"thread,omitempty" jsonschema:"optional namespacing thread"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"arbitrary key-value metadata"`
	Project  string         `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// IngestOutput is the output schema for the ingest tool.
type IngestOutput struct {
	Chunks    int  `json:"chunks"`
	Duplicate bool `json:"duplicate"`
}

func (s *Server) registerKnowledgeTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_search",
		Description: "Search the project's knowledge index with hybrid lexical and vector retrieval.",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_ask",
		Description: "Answer a question from the knowledge index, or return the raw retrieved context.",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_timeline",
		Description: "List indexed documents in ingestion order.",
	}, s.handleTimeline)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_ingest",
		Description: "Index a document into the project's knowledge store.",
	}, s.handleIngest)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	opts := domain.SearchOptions{
		TopK:   input.TopK,
		Thread: input.Thread,
		Label:  input.Label,
	}
	if input.Mode != "" {
		mode := domain.SearchMode(input.Mode)
		if !mode.Valid() {
			return failure(fmt.Errorf("%w: unknown search mode %q", domain.ErrInvalidInput, input.Mode)), SearchOutput{}, nil
		}
		opts.Mode = mode
	}

	hits, err := s.ports.Knowledge.Search(ctx, input.Project, input.Query, opts)
	if err != nil {
		return failure(err), SearchOutput{}, nil
	}
	return nil, SearchOutput{Hits: hits, Count: len(hits)}, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	answer, err := s.ports.Knowledge.Ask(ctx, input.Project, input.Question, input.ContextOnly, input.Thread)
	if err != nil {
		return failure(err), AskOutput{}, nil
	}
	return nil, AskOutput{Answer: answer.Text, Hits: answer.Hits}, nil
}

func (s *Server) handleTimeline(ctx context.Context, _ *mcp.CallToolRequest, input TimelineInput) (*mcp.CallToolResult, TimelineOutput, error) {
	since, err := parseBound(input.Since)
	if err != nil {
		return failure(fmt.Errorf("%w: since: %v", domain.ErrInvalidInput, err)), TimelineOutput{}, nil
	}
	until, err := parseBound(input.Until)
	if err != nil {
		return failure(fmt.Errorf("%w: until: %v", domain.ErrInvalidInput, err)), TimelineOutput{}, nil
	}

	entries, err := s.ports.Knowledge.Timeline(ctx, input.Project, since, until, input.Limit)
	if err != nil {
		return failure(err), TimelineOutput{}, nil
	}
	return nil, TimelineOutput{Entries: entries, Count: len(entries)}, nil
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (*mcp.CallToolResult, IngestOutput, error) {
	doc := domain.Document{
		Title:    input.Title,
		Label:    input.Label,
		Text:     input.Text,
		Thread:   input.Thread,
		Metadata: input.Metadata,
	}
	if doc.Label == "" {
		doc.Label = "note"
	}

	chunks, err := s.ports.Knowledge.Ingest(ctx, input.Project, doc)
	if err != nil {
		return failure(err), IngestOutput{}, nil
	}
	return nil, IngestOutput{Chunks: chunks, Duplicate: chunks == 0}, nil
}

// parseBound parses an optional RFC3339 timestamp. Empty means open-ended.
func parseBound(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
