package mcp

import (
	"github.com/custodia-labs/sandbridge/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Kernel executes code and manages kernel variables.
	Kernel driving.KernelService

	// SubAgent runs bounded reasoning loops against the kernel.
	SubAgent driving.SubAgentService

	// Usage reads the callback server's usage ledger.
	Usage driving.UsageService

	// Knowledge provides per-project ingest and retrieval.
	Knowledge driving.KnowledgeService

	// Fetch acquires external documentation.
	Fetch driving.FetchService

	// Research composes discovery, fetching and indexing.
	Research driving.ResearchService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Kernel == nil {
		return ErrMissingKernelService
	}
	if p.Knowledge == nil {
		return ErrMissingKnowledgeService
	}
	if p.Fetch == nil {
		return ErrMissingFetchService
	}
	// SubAgent, Usage and Research degrade to unavailable-errors when
	// absent; the tool surface stays registered.
	return nil
}
