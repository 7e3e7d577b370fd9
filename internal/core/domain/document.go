package domain

import "time"

// Document represents an ingested unit of text with metadata.
// It is the canonical representation before chunking.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Title is the logical name (URL or identifier).
	Title string

	// Label is a coarse bucket, e.g. a source type or library name.
	Label string

	// Text is the full markdown content.
	Text string

	// Thread is an optional namespacing label used as a post-retrieval
	// filter.
	Thread string

	// Metadata contains arbitrary key-value pairs. Recognized keys
	// include "source", "library", "url" and "markdown_source".
	Metadata map[string]any

	// ContentHash is a sha256 over the normalized text, prefixed
	// "sha256:".
	ContentHash string

	// Simhash is a 64-bit near-duplicate fingerprint of the text.
	Simhash uint64

	// IngestedAt is when the document entered the index.
	IngestedAt time.Time
}

// Chunk represents a searchable slice of a document, the unit of
// retrieval. Documents over the chunking target size are split along
// markdown section boundaries; each chunk inherits the parent metadata.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// ParentTitle is the parent document's title, carried for citation.
	ParentTitle string

	// Content is the text content of this chunk.
	Content string

	// ChunkIndex is the ordinal position within the document.
	ChunkIndex int

	// Embedding is the vector representation for semantic search.
	// Nil when the store runs in lexical-only mode.
	Embedding []float32

	// Metadata contains chunk-specific key-value pairs.
	Metadata map[string]any
}

// StoreStatus summarizes a project's knowledge index.
type StoreStatus struct {
	DocCount   int            `json:"doc_count"`
	ChunkCount int            `json:"chunk_count"`
	SizeBytes  int64          `json:"size_bytes"`
	Labels     map[string]int `json:"labels"`
	Threads    []string       `json:"threads"`
}

// TimelineEntry is one row of the chronological index.
type TimelineEntry struct {
	Title      string    `json:"title"`
	Label      string    `json:"label"`
	IngestedAt time.Time `json:"ingested_at"`
	Preview    string    `json:"preview,omitempty"`
}
