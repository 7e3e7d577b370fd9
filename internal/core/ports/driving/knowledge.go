package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// KnowledgeService provides per-project ingest and retrieval. The empty
// project string addresses the working-directory-derived project.
type KnowledgeService interface {
	// Ingest adds one document, chunked and deduplicated by
	// (label, content_hash). Returns the number of chunks committed;
	// zero means the document was a duplicate and was collapsed.
	Ingest(ctx context.Context, project string, doc domain.Document) (int, error)

	// IngestMany ingests documents in sequence, returning the total
	// chunks committed. Duplicates are skipped, not errors.
	IngestMany(ctx context.Context, project string, docs []domain.Document) (int, error)

	// Search returns ranked hits for the query.
	Search(ctx context.Context, project, query string, opts domain.SearchOptions) ([]domain.Hit, error)

	// Ask retrieves top chunks for the question and, unless contextOnly,
	// composes a retrieval-augmented answer with the sub-model.
	Ask(ctx context.Context, project, question string, contextOnly bool, thread string) (domain.Answer, error)

	// Timeline lists indexed titles in ingestion order. Zero bounds are
	// open-ended.
	Timeline(ctx context.Context, project string, since, until time.Time, limit int) ([]domain.TimelineEntry, error)

	// Status summarizes the project's index.
	Status(ctx context.Context, project string) (domain.StoreStatus, error)

	// Clear closes the index, deletes the file and resets caches.
	Clear(ctx context.Context, project string) error
}

// FetchService acquires external documentation as markdown, caches it
// and indexes it.
type FetchService interface {
	// Fetch runs the markdown acquisition cascade for one URL.
	// Failures are encoded in the result, never raised.
	Fetch(ctx context.Context, project, url string, force bool) domain.FetchResult

	// FetchSitemap expands a sitemap and fetches every listed page with
	// bounded concurrency.
	FetchSitemap(ctx context.Context, project, url string, force bool) (domain.FetchSummary, error)

	// LoadDir ingests local files matching a doublestar glob.
	LoadDir(ctx context.Context, project, pattern string) (domain.LoadSummary, error)
}

// ResearchService composes URL discovery, fetching and indexing.
type ResearchService interface {
	// Research resolves a topic to documentation URLs, fetches each and
	// reports counts without returning content.
	Research(ctx context.Context, project, topic string, seeds []string) (domain.ResearchReport, error)

	// Status merges the index summary with raw-document counts.
	Status(ctx context.Context, project string) (domain.StatusReport, error)

	// Clear wipes the project's index, keeping raw markdown files.
	Clear(ctx context.Context, project string) error
}
