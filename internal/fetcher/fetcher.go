package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driving"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// Ensure Fetcher implements the interface.
var _ driving.FetchService = (*Fetcher)(nil)

const (
	// pageTimeout bounds one page fetch within the cascade.
	pageTimeout = 15 * time.Second

	// sitemapTimeout bounds fetching the sitemap document itself.
	sitemapTimeout = 30 * time.Second

	// maxBodyBytes caps a fetched response body.
	maxBodyBytes = 4 << 20

	// multiPageRate is the request rate for sitemap and research fans.
	multiPageRate = 5

	// multiPageConcurrency bounds parallel page fetches.
	multiPageConcurrency = 4

	// maxSitemapDepth bounds sitemapindex recursion.
	maxSitemapDepth = 2

	// defaultProxyBase is the markdown conversion proxy.
	defaultProxyBase = "https://markdown.new/"
)

// Fetcher acquires documentation URLs as markdown and indexes them.
type Fetcher struct {
	http      *http.Client
	raw       *RawStore
	knowledge driving.KnowledgeService
	blocklist *Blocklist
	limiter   *rate.Limiter
	proxyBase string
	ttl       time.Duration

	// guards the per-page cascade against concurrent writes to the
	// same doc path during sitemap fans.
	mu sync.Mutex
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithProxyBase overrides the markdown conversion proxy URL.
func WithProxyBase(base string) Option {
	return func(f *Fetcher) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		f.proxyBase = base
	}
}

// WithTTL overrides the cache freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(f *Fetcher) { f.ttl = ttl }
}

// New creates a fetcher. The httpClient is shared with the rest of the
// host; knowledge receives every successfully fetched page.
func New(httpClient *http.Client, raw *RawStore, knowledge driving.KnowledgeService, opts ...Option) *Fetcher {
	f := &Fetcher{
		http:      httpClient,
		raw:       raw,
		knowledge: knowledge,
		blocklist: NewBlocklist(),
		limiter:   rate.NewLimiter(rate.Limit(multiPageRate), 1),
		proxyBase: defaultProxyBase,
		ttl:       FreshnessTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the markdown acquisition cascade for one URL. Failures are
// encoded in the result, never raised.
func (f *Fetcher) Fetch(ctx context.Context, project, url string, force bool) domain.FetchResult {
	result := domain.FetchResult{URL: url}

	if host, blocked := f.blocklist.Blocked(url); blocked {
		result.ErrorKind = domain.KindBlocked
		result.Message = fmt.Sprintf("blocked domain: %s. These sites refuse automated fetching", host)
		return result
	}

	projectID := domain.ProjectID(project)
	docPath := f.raw.DocPath(projectID, url)
	result.Path = docPath

	if !force && f.raw.IsFresh(docPath, f.ttl) {
		content, meta, err := f.raw.Read(docPath)
		if err == nil {
			logger.Debug("Fetch %s: cache hit", url)
			result.Content = content
			result.Meta = meta
			result.FromCache = true
			result.Ingested = f.ingest(ctx, project, url, content, meta)
			return result
		}
		logger.Warn("Fetch %s: fresh cache unreadable, refetching: %v", url, err)
	}

	content, source, tokens, fetchErr := f.cascade(ctx, url)
	if fetchErr != nil {
		result.ErrorKind = domain.KindOf(fetchErr)
		result.Message = fetchErr.Error()
		return result
	}

	f.mu.Lock()
	meta, err := f.raw.Write(docPath, url, content, source, tokens)
	f.mu.Unlock()
	if err != nil {
		result.ErrorKind = domain.KindInternal
		result.Message = fmt.Sprintf("storing raw doc: %v", err)
		return result
	}

	logger.Info("Fetched %s via %s (%d bytes)", url, source, len(content))
	result.Content = content
	result.Meta = meta
	result.Ingested = f.ingest(ctx, project, url, content, meta)
	return result
}

// cascade tries the three markdown acquisition tiers in order.
func (f *Fetcher) cascade(ctx context.Context, url string) (string, domain.MarkdownSource, int, error) {
	// Tier 1: content negotiation with the origin.
	body, headers, err := f.get(ctx, url, "text/markdown")
	if err == nil {
		ct := headers.Get("Content-Type")
		if strings.Contains(ct, "text/markdown") || looksLikeMarkdown(body) {
			return body, domain.SourceNegotiated, markdownTokens(headers), nil
		}
	}

	// Tier 2: the conversion proxy.
	proxyBody, proxyHeaders, proxyErr := f.get(ctx, f.proxyBase+url, "")
	if proxyErr == nil && looksLikeMarkdown(proxyBody) {
		return proxyBody, domain.SourceMarkdownNew, markdownTokens(proxyHeaders), nil
	}

	// Tier 3: plain fetch plus local conversion. Only this tier's
	// failure is terminal.
	rawBody, _, rawErr := f.get(ctx, url, "")
	if rawErr != nil {
		return "", "", 0, rawErr
	}
	if looksLikeMarkdown(rawBody) {
		return rawBody, domain.SourceHTML2Text, 0, nil
	}
	converted, convErr := htmlToMarkdown(rawBody)
	if convErr != nil {
		return "", "", 0, fmt.Errorf("%w: converting %s: %v", domain.ErrTransport, url, convErr)
	}
	return converted, domain.SourceHTML2Text, 0, nil
}

// get fetches one URL with the page timeout, classifying failures into
// domain errors.
func (f *Fetcher) get(ctx context.Context, url, accept string) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: building request for %s: %v", domain.ErrInvalidInput, url, err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("%w: fetching %s", domain.ErrTimeout, url)
		}
		return "", nil, fmt.Errorf("%w: fetching %s: %v", domain.ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("%w: HTTP %d fetching %s", domain.ErrTransport, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", nil, fmt.Errorf("%w: reading %s: %v", domain.ErrTransport, url, err)
	}
	return string(body), resp.Header, nil
}

func markdownTokens(headers http.Header) int {
	n, _ := strconv.Atoi(headers.Get("x-markdown-tokens"))
	return n
}

// ingest indexes fetched content, labelled by library name. Ingest
// failures degrade to raw-file-only storage.
func (f *Fetcher) ingest(ctx context.Context, project, url, content string, meta *domain.DocMeta) bool {
	if f.knowledge == nil {
		return false
	}

	doc := domain.Document{
		Title: url,
		Label: ExtractLibraryName(url),
		Text:  content,
		Metadata: map[string]any{
			"url":    url,
			"source": "web",
		},
	}
	if meta != nil {
		doc.Metadata["markdown_source"] = string(meta.MarkdownSource)
		doc.ContentHash = meta.ContentHash
	}

	if _, err := f.knowledge.Ingest(ctx, project, doc); err != nil {
		logger.Warn("Indexing %s failed, raw file only: %v", url, err)
		return false
	}
	return true
}

// Reingest reindexes an externally edited raw doc under its original
// URL. The sidecar is refreshed to the edited content's hash so the
// edit survives the next freshness check instead of being fetched over.
func (f *Fetcher) Reingest(ctx context.Context, project, docPath string) error {
	content, meta, err := f.raw.Read(docPath)
	if err != nil {
		return fmt.Errorf("reading edited doc: %w", err)
	}

	url := ""
	source := domain.SourceHTML2Text
	tokens := 0
	if meta != nil {
		url = meta.URL
		source = meta.MarkdownSource
		tokens = meta.MarkdownTokens
	}

	f.mu.Lock()
	newMeta, err := f.raw.Write(docPath, url, content, source, tokens)
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("refreshing sidecar: %w", err)
	}

	f.ingest(ctx, project, url, content, newMeta)
	return nil
}

// FetchSitemap expands a sitemap and fetches every listed page with
// bounded concurrency and rate limiting.
func (f *Fetcher) FetchSitemap(ctx context.Context, project, url string, force bool) (domain.FetchSummary, error) {
	urls, err := f.expandSitemap(ctx, url, 0)
	if err != nil {
		return domain.FetchSummary{}, err
	}
	if len(urls) == 0 {
		return domain.FetchSummary{}, fmt.Errorf("%w: no URLs in sitemap %s", domain.ErrNotFound, url)
	}

	logger.Info("Sitemap %s: %d pages", url, len(urls))

	var mu sync.Mutex
	var summary domain.FetchSummary

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(multiPageConcurrency)

	for _, pageURL := range urls {
		g.Go(func() error {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}

			result := f.Fetch(ctx, project, pageURL, force)

			mu.Lock()
			defer mu.Unlock()
			if result.Failed() {
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", pageURL, result.Message))
				return nil
			}
			summary.Fetched++
			if result.FromCache {
				summary.FromCache++
			}
			if result.Meta != nil {
				summary.TotalBytes += int64(result.Meta.SizeBytes)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// expandSitemap fetches a sitemap and resolves nested sitemapindex
// entries up to maxSitemapDepth.
func (f *Fetcher) expandSitemap(ctx context.Context, url string, depth int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, sitemapTimeout)
	defer cancel()

	body, _, err := f.get(ctx, url, "")
	if err != nil {
		return nil, fmt.Errorf("fetching sitemap: %w", err)
	}

	var pages []string
	for _, u := range parseSitemap(body) {
		if isSitemapURL(u) && depth < maxSitemapDepth {
			nested, err := f.expandSitemap(ctx, u, depth+1)
			if err != nil {
				logger.Warn("Nested sitemap %s failed: %v", u, err)
				continue
			}
			pages = append(pages, nested...)
			continue
		}
		pages = append(pages, u)
	}
	return pages, nil
}

// LoadDir ingests local files matching a doublestar glob, labelled
// "local". The pattern is resolved against the working directory.
func (f *Fetcher) LoadDir(ctx context.Context, project, pattern string) (domain.LoadSummary, error) {
	base, err := os.Getwd()
	if err != nil {
		return domain.LoadSummary{}, fmt.Errorf("getting working directory: %w", err)
	}

	matches, err := doublestar.Glob(os.DirFS(base), filepath.ToSlash(pattern))
	if err != nil {
		return domain.LoadSummary{}, fmt.Errorf("%w: bad glob pattern %q: %v", domain.ErrInvalidInput, pattern, err)
	}
	if len(matches) == 0 {
		return domain.LoadSummary{}, fmt.Errorf("%w: no files matched %q", domain.ErrNotFound, pattern)
	}

	var summary domain.LoadSummary
	for _, rel := range matches {
		abs := filepath.Join(base, filepath.FromSlash(rel))

		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}

		content, err := os.ReadFile(abs)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		// Titles keep the relative path so files with the same base
		// name in different directories stay distinguishable.
		doc := domain.Document{
			Title: filepath.ToSlash(rel),
			Label: "local",
			Text:  string(content),
			Metadata: map[string]any{
				"url":    "file://" + abs,
				"source": "local",
			},
		}
		if _, err := f.knowledge.Ingest(ctx, project, doc); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		summary.Loaded++
		summary.TotalBytes += int64(len(content))
	}

	return summary, nil
}

// RawDocCounts exposes the per-library raw file counts for status
// reporting.
func (f *Fetcher) RawDocCounts(project string) (map[string]int, error) {
	return f.raw.CountDocs(domain.ProjectID(project))
}
