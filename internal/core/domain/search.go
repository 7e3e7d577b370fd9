package domain

// SearchMode selects the retrieval strategy.
type SearchMode string

// Search modes. Hybrid combines BM25 and cosine ranks via reciprocal-rank
// fusion. Vector degrades to Lexical when no embedder is configured.
const (
	SearchModeLexical SearchMode = "lexical"
	SearchModeVector  SearchMode = "vector"
	SearchModeHybrid  SearchMode = "hybrid"
)

// Valid reports whether the mode is one of the recognized values.
func (m SearchMode) Valid() bool {
	switch m {
	case SearchModeLexical, SearchModeVector, SearchModeHybrid:
		return true
	}
	return false
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// TopK is the maximum number of results (default 10).
	TopK int

	// Mode selects lexical, vector or hybrid retrieval.
	Mode SearchMode

	// Thread, when set, keeps only hits whose document carries this
	// thread. Applied post-retrieval: the underlying index has no
	// pre-filters.
	Thread string

	// Label, when set, keeps only hits from documents with this label.
	// Applied post-retrieval, like Thread.
	Label string
}

// Hit is a single search result.
type Hit struct {
	Title      string         `json:"title"`
	Label      string         `json:"label"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
}

// Answer is the result of a retrieval-augmented question.
// When ContextOnly was requested, Text is empty and only Hits carry data.
type Answer struct {
	Text string `json:"text,omitempty"`
	Hits []Hit  `json:"hits"`
}
