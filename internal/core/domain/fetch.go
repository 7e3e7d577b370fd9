package domain

import "time"

// MarkdownSource records which cascade tier produced a fetched document.
type MarkdownSource string

// Cascade tiers, in attempt order.
const (
	// SourceNegotiated: the origin honored Accept: text/markdown.
	SourceNegotiated MarkdownSource = "negotiated"

	// SourceMarkdownNew: the markdown.new proxy converted the page.
	SourceMarkdownNew MarkdownSource = "markdown_new"

	// SourceHTML2Text: the raw HTML was converted locally.
	SourceHTML2Text MarkdownSource = "html2text"
)

// DocMeta is the sidecar metadata written next to every cached raw
// markdown file. It supports freshness checks independent of the index.
type DocMeta struct {
	URL            string         `json:"url"`
	FetchedAt      time.Time      `json:"fetched_at"`
	ContentHash    string         `json:"content_hash"`
	SizeBytes      int            `json:"size_bytes"`
	MarkdownSource MarkdownSource `json:"markdown_source"`

	// MarkdownTokens is the server's x-markdown-tokens hint, when sent.
	MarkdownTokens int `json:"markdown_tokens,omitempty"`
}

// FetchResult is the structured outcome of a single URL fetch. Fetch
// failures never surface as Go errors; they are encoded in ErrorKind and
// Message so downstream composition never aborts on a single bad URL.
type FetchResult struct {
	URL       string    `json:"url"`
	Content   string    `json:"-"`
	Path      string    `json:"path,omitempty"`
	Meta      *DocMeta  `json:"meta,omitempty"`
	FromCache bool      `json:"from_cache"`
	Ingested  bool      `json:"ingested"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Failed reports whether the fetch produced no usable content.
func (r FetchResult) Failed() bool {
	return r.ErrorKind != ""
}
