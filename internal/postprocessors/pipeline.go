// Package postprocessors turns fetched documents into index-ready chunks.
package postprocessors

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
)

// Pipeline runs a sequence of PostProcessors over a document. The first
// stage receives nil chunks and creates them; later stages refine what
// they are handed.
type Pipeline struct {
	stages []driven.PostProcessor
}

// NewPipeline creates a pipeline running the given stages in order.
func NewPipeline(stages ...driven.PostProcessor) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process runs the document through every stage. An error from any stage
// aborts the run; partial chunk sets are never returned.
func (p *Pipeline) Process(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}

	var chunks []domain.Chunk
	for _, stage := range p.stages {
		var err error
		chunks, err = stage.Process(ctx, doc, chunks)
		if err != nil {
			return nil, fmt.Errorf("processor %s: %w", stage.Name(), err)
		}
	}
	return chunks, nil
}

// Add appends a stage to the pipeline.
func (p *Pipeline) Add(stage driven.PostProcessor) {
	p.stages = append(p.stages, stage)
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.stages)
}
