package domain

// FetchSummary aggregates the outcome of a multi-page fetch (sitemap
// expansion or research run).
type FetchSummary struct {
	Fetched    int      `json:"fetched"`
	Failed     int      `json:"failed"`
	FromCache  int      `json:"from_cache"`
	TotalBytes int64    `json:"total_bytes"`
	Errors     []string `json:"errors,omitempty"`
}

// LoadSummary aggregates the outcome of a directory load.
type LoadSummary struct {
	Loaded     int      `json:"loaded"`
	TotalBytes int64    `json:"total_bytes"`
	Errors     []string `json:"errors,omitempty"`
}

// StatusReport pairs the index summary with the raw markdown cache
// breakdown per library.
type StatusReport struct {
	Index      StoreStatus    `json:"index"`
	RawDocs    map[string]int `json:"raw_docs"`
	RawDocsSum int            `json:"raw_docs_total"`
}

// ResearchReport is the result of the compound research operation.
// It reports counts only; fetched content stays in the index and never
// returns to the client transport.
type ResearchReport struct {
	Topic         string   `json:"topic"`
	Sources       []string `json:"sources"`
	Fetched       int      `json:"fetched"`
	Failed        int      `json:"failed"`
	IndexedChunks int      `json:"indexed_chunks"`
}
