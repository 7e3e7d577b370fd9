// Package fetcher acquires external documentation as markdown.
//
// Every URL goes through a three-tier cascade: content negotiation with
// Accept: text/markdown, the markdown.new conversion proxy, and finally
// a local HTML-to-markdown conversion. Fetched pages get dual storage:
// a raw .md file with a .meta.json sidecar under the project's raw-doc
// directory, plus ingestion into the project's knowledge index.
//
// Fetch failures are encoded in the FetchResult, never raised as Go
// errors, so multi-page operations (sitemaps, research runs) always
// complete with per-page outcomes.
package fetcher
