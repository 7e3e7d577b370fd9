package driven

import (
	"context"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// PostProcessor transforms document content during ingestion.
// Processors are chained: the first receives nil chunks and creates
// them, later ones receive and may modify the chunks.
type PostProcessor interface {
	// Name returns a unique processor name.
	Name() string

	// Process transforms the document's chunks.
	Process(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.Chunk, error)
}

// PostProcessorPipeline runs a document through an ordered processor chain.
type PostProcessorPipeline interface {
	Process(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error)
}
