package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// uriScheme is the custom URI scheme for sandbridge resources.
	uriScheme = "sandbridge://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	// Static resource for the knowledge index summary.
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "status",
		Name:        "knowledge-status",
		Description: "Summary of the project's knowledge index and raw document cache",
		MIMEType:    "application/json",
	}, s.handleStatusResource)

	// Static resource for the ingestion timeline.
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "timeline",
		Name:        "knowledge-timeline",
		Description: "Indexed documents in ingestion order",
		MIMEType:    "application/json",
	}, s.handleTimelineResource)

	// Static resource for the kernel variable listing.
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "vars",
		Name:        "kernel-vars",
		Description: "User-defined variables in the persistent kernel",
		MIMEType:    "application/json",
	}, s.handleVarsResource)

	// Template for individual kernel variables.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "vars/{name}",
		Name:        "kernel-var",
		Description: "Value of a single kernel variable",
		MIMEType:    "text/plain",
	}, s.handleVarResource)
}

// handleStatusResource returns the knowledge index summary.
func (s *Server) handleStatusResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	var payload any
	if s.ports.Research != nil {
		report, err := s.ports.Research.Status(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("reading status: %w", err)
		}
		payload = report
	} else {
		status, err := s.ports.Knowledge.Status(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("reading status: %w", err)
		}
		payload = status
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling status: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// handleTimelineResource returns the ingestion timeline.
func (s *Server) handleTimelineResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	entries, err := s.ports.Knowledge.Timeline(ctx, "", time.Time{}, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("reading timeline: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling timeline: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// handleVarsResource returns the kernel's variable listing.
func (s *Server) handleVarsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	vars, err := s.ports.Kernel.Vars(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing kernel vars: %w", err)
	}

	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling kernel vars: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// handleVarResource returns the value of a single kernel variable.
func (s *Server) handleVarResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	name := extractVarName(req.Params.URI)
	if name == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	value, err := s.ports.Kernel.GetVar(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("reading kernel var %s: %w", name, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     value,
		}},
	}, nil
}

// extractVarName extracts the variable name from a URI like sandbridge://vars/{name}.
func extractVarName(uri string) string {
	const prefix = uriScheme + "vars/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	return strings.TrimPrefix(uri, prefix)
}
