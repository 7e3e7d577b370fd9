package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// ScoredChunk is a raw index hit before hydration and fusion.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}

// KnowledgeIndex is one project's persistent document index. It stores
// documents with their chunks and embeddings and answers the two raw
// retrieval primitives (lexical and vector) that the knowledge service
// fuses into hybrid results.
type KnowledgeIndex interface {
	// AddDocument stores a document and its chunks in one transaction.
	AddDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error

	// HasDocument reports whether a document with the same label and
	// content hash is already indexed.
	HasDocument(ctx context.Context, label, contentHash string) (bool, error)

	// Simhashes returns the simhash fingerprints of documents indexed
	// under a label, for near-duplicate detection. Labels partition the
	// index, so the same text may legitimately recur across labels.
	Simhashes(ctx context.Context, label string) ([]uint64, error)

	// SearchLexical runs BM25 full-text search over chunk content.
	SearchLexical(ctx context.Context, query string, limit int) ([]ScoredChunk, error)

	// SearchVector runs cosine-similarity search over chunk embeddings.
	SearchVector(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error)

	// GetChunk retrieves a chunk with its parent document context.
	GetChunk(ctx context.Context, chunkID string) (*domain.Chunk, error)

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// Timeline lists documents in ingestion order, newest first.
	// Zero time bounds are open-ended.
	Timeline(ctx context.Context, since, until time.Time, limit int) ([]domain.TimelineEntry, error)

	// Status summarises the index contents.
	Status(ctx context.Context) (domain.StoreStatus, error)

	// Path returns the index file path.
	Path() string

	// Close commits and closes the index.
	Close() error
}

// KnowledgeIndexFactory opens per-project knowledge indexes.
type KnowledgeIndexFactory interface {
	// Open opens (creating if needed) the index for a project ID.
	Open(projectID string) (KnowledgeIndex, error)

	// Remove closes and deletes the index for a project ID.
	Remove(projectID string) error
}
