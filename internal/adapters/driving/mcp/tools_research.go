package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// ResearchInput is the input schema for the research tool.
type ResearchInput struct {
	Topic   string   `json:"topic,omitempty" jsonschema:"library or framework name to research, e.g. 'fastapi'"`
	Seeds   []string `json:"seeds,omitempty" jsonschema:"explicit documentation URLs tried before resolved candidates"`
	Project string   `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

// ClearOutput is the output schema for the knowledge_clear tool.
type ClearOutput struct {
	Cleared bool `json:"cleared"`
}

// projectInput is shared by the status and clear tools.
type projectInput struct {
	Project string `json:"project,omitempty" jsonschema:"project name (default: derived from working directory)"`
}

func (s *Server) registerResearchTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_research",
		Description: "Resolve a topic to documentation URLs, fetch them and index the content.",
	}, s.handleResearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_knowledge_status",
		Description: "Summarize the project's knowledge index and raw document cache.",
	}, s.handleKnowledgeStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_knowledge_clear",
		Description: "Wipe the project's knowledge index. Cached raw markdown is kept.",
	}, s.handleKnowledgeClear)
}

func (s *Server) handleResearch(ctx context.Context, _ *mcp.CallToolRequest, input ResearchInput) (*mcp.CallToolResult, domain.ResearchReport, error) {
	if s.ports.Research == nil {
		return failure(fmt.Errorf("%w: research is not configured", domain.ErrLLMUnavailable)), domain.ResearchReport{}, nil
	}
	report, err := s.ports.Research.Research(ctx, input.Project, input.Topic, input.Seeds)
	if err != nil {
		return failure(err), report, nil
	}
	return nil, report, nil
}

func (s *Server) handleKnowledgeStatus(ctx context.Context, _ *mcp.CallToolRequest, input projectInput) (*mcp.CallToolResult, domain.StatusReport, error) {
	if s.ports.Research == nil {
		status, err := s.ports.Knowledge.Status(ctx, input.Project)
		if err != nil {
			return failure(err), domain.StatusReport{}, nil
		}
		return nil, domain.StatusReport{Index: status}, nil
	}

	report, err := s.ports.Research.Status(ctx, input.Project)
	if err != nil {
		return failure(err), domain.StatusReport{}, nil
	}
	return nil, report, nil
}

func (s *Server) handleKnowledgeClear(ctx context.Context, _ *mcp.CallToolRequest, input projectInput) (*mcp.CallToolResult, ClearOutput, error) {
	if err := s.ports.Knowledge.Clear(ctx, input.Project); err != nil {
		return failure(err), ClearOutput{}, nil
	}
	return nil, ClearOutput{Cleared: true}, nil
}
