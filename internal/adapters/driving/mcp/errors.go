// Package mcp provides the MCP (Model Context Protocol) server adapter
// for sandbridge. It exposes the kernel, knowledge, fetch and research
// operations as typed tools over stdio or HTTP.
package mcp

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// Required port errors.
var (
	ErrMissingKernelService    = errors.New("mcp: kernel service is required")
	ErrMissingKnowledgeService = errors.New("mcp: knowledge service is required")
	ErrMissingFetchService     = errors.New("mcp: fetch service is required")
)

// toolFailure is the structured error payload every failed tool call
// returns. Raw stack traces never reach the client.
type toolFailure struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// failure wraps a domain error into an error-flagged tool result.
func failure(err error) *mcp.CallToolResult {
	return failureKind(domain.KindOf(err), err.Error())
}

// failureKind builds an error-flagged result with an explicit kind, for
// failures already classified by a lower layer.
func failureKind(kind domain.ErrorKind, message string) *mcp.CallToolResult {
	if kind == "" {
		kind = domain.KindInternal
	}
	payload, merr := json.Marshal(toolFailure{
		ErrorKind: string(kind),
		Message:   message,
	})
	if merr != nil {
		payload = []byte(`{"error_kind":"internal","message":"unserializable error"}`)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}
