package host

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// appleSearchLimit caps apple_search results regardless of what the
// kernel asks for.
const appleSearchLimit = 10

// registerSandboxTools wires the whitelisted tool surface kernel code
// reaches through the callback server. All of them are idempotent
// reads or cache-building fetches; nothing here mutates kernel state.
func (h *Host) registerSandboxTools() {
	h.callbackSrv.RegisterTool("search_knowledge", h.toolSearchKnowledge)
	h.callbackSrv.RegisterTool("ask_knowledge", h.toolAskKnowledge)
	h.callbackSrv.RegisterTool("fetch_url", h.toolFetchURL)
	h.callbackSrv.RegisterTool("load_file", h.toolLoadFile)
	h.callbackSrv.RegisterTool("apple_search", h.toolAppleSearch)
}

func (h *Host) toolSearchKnowledge(ctx context.Context, args map[string]any) (any, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}

	opts := domain.SearchOptions{
		TopK:   intArg(args, "top_k"),
		Thread: stringArg(args, "thread"),
		Label:  stringArg(args, "label"),
	}
	if mode := stringArg(args, "mode"); mode != "" {
		m := domain.SearchMode(mode)
		if !m.Valid() {
			return nil, fmt.Errorf("%w: unknown search mode %q", domain.ErrInvalidInput, mode)
		}
		opts.Mode = m
	}

	hits, err := h.knowledge.Search(ctx, stringArg(args, "project"), query, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hits": hits, "count": len(hits)}, nil
}

func (h *Host) toolAskKnowledge(ctx context.Context, args map[string]any) (any, error) {
	question := stringArg(args, "question")
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	contextOnly := true
	if v, ok := args["context_only"].(bool); ok {
		contextOnly = v
	}

	answer, err := h.knowledge.Ask(ctx, stringArg(args, "project"), question, contextOnly, stringArg(args, "thread"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"answer": answer.Text, "hits": answer.Hits}, nil
}

func (h *Host) toolFetchURL(ctx context.Context, args map[string]any) (any, error) {
	url := stringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}

	force, _ := args["force"].(bool)
	result := h.fetch.Fetch(ctx, stringArg(args, "project"), url, force)
	if result.Failed() {
		// The callback server embeds this into the tool result; kernel
		// code inspects error/error_kind instead of catching exceptions.
		return nil, fmt.Errorf("fetching %s: %s (%s)", url, result.Message, result.ErrorKind)
	}
	return map[string]any{
		"url":        result.URL,
		"content":    result.Content,
		"from_cache": result.FromCache,
		"ingested":   result.Ingested,
	}, nil
}

func (h *Host) toolLoadFile(ctx context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	varName := stringArg(args, "var_name")
	if path == "" || varName == "" {
		return nil, fmt.Errorf("%w: path and var_name are required", domain.ErrInvalidInput)
	}

	size, err := h.kernelOps.LoadFile(ctx, path, varName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"var_name": varName, "size_bytes": size}, nil
}

// toolAppleSearch looks up previously ingested Apple documentation in
// the knowledge index. The framework argument narrows by thread.
func (h *Host) toolAppleSearch(ctx context.Context, args map[string]any) (any, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}

	limit := intArg(args, "top_k")
	if limit <= 0 || limit > appleSearchLimit {
		limit = appleSearchLimit
	}

	opts := domain.SearchOptions{
		TopK:   limit,
		Label:  "apple",
		Thread: stringArg(args, "framework"),
	}

	hits, err := h.knowledge.Search(ctx, stringArg(args, "project"), query, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hits": hits, "count": len(hits)}, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg tolerates the float64 JSON decoding produces.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
