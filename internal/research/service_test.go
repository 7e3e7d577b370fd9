package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/fetcher"
)

type fakeFetch struct {
	fetchCalls   []string
	sitemapCalls []string

	pageOK     map[string]bool
	sitemapSum map[string]domain.FetchSummary
}

func (f *fakeFetch) Fetch(ctx context.Context, project, url string, force bool) domain.FetchResult {
	f.fetchCalls = append(f.fetchCalls, url)
	if f.pageOK[url] {
		return domain.FetchResult{URL: url, Content: "# Docs", Ingested: true}
	}
	return domain.FetchResult{URL: url, ErrorKind: domain.KindTransport, Message: "connection refused"}
}

func (f *fakeFetch) FetchSitemap(ctx context.Context, project, url string, force bool) (domain.FetchSummary, error) {
	f.sitemapCalls = append(f.sitemapCalls, url)
	if sum, ok := f.sitemapSum[url]; ok {
		return sum, nil
	}
	return domain.FetchSummary{}, domain.ErrNotFound
}

func (f *fakeFetch) LoadDir(ctx context.Context, project, pattern string) (domain.LoadSummary, error) {
	return domain.LoadSummary{}, nil
}

type fakeKnowledge struct {
	statuses []domain.StoreStatus
	statusAt int
	cleared  []string
}

func (f *fakeKnowledge) Status(ctx context.Context, project string) (domain.StoreStatus, error) {
	if f.statusAt >= len(f.statuses) {
		if len(f.statuses) == 0 {
			return domain.StoreStatus{}, nil
		}
		return f.statuses[len(f.statuses)-1], nil
	}
	s := f.statuses[f.statusAt]
	f.statusAt++
	return s, nil
}

func (f *fakeKnowledge) Clear(ctx context.Context, project string) error {
	f.cleared = append(f.cleared, project)
	return nil
}

func (f *fakeKnowledge) Ingest(ctx context.Context, project string, doc domain.Document) (int, error) {
	return 0, nil
}

func (f *fakeKnowledge) IngestMany(ctx context.Context, project string, docs []domain.Document) (int, error) {
	return 0, nil
}

func (f *fakeKnowledge) Search(ctx context.Context, project, query string, opts domain.SearchOptions) ([]domain.Hit, error) {
	return nil, nil
}

func (f *fakeKnowledge) Ask(ctx context.Context, project, question string, contextOnly bool, thread string) (domain.Answer, error) {
	return domain.Answer{}, nil
}

func (f *fakeKnowledge) Timeline(ctx context.Context, project string, since, until time.Time, limit int) ([]domain.TimelineEntry, error) {
	return nil, nil
}

func newTestService(t *testing.T, fetch *fakeFetch, knowledge *fakeKnowledge) *Service {
	t.Helper()
	raw, err := fetcher.NewRawStore(t.TempDir())
	require.NoError(t, err)
	return NewService(StaticResolver{}, fetch, knowledge, raw)
}

func TestStaticResolver_KnownTopic(t *testing.T) {
	urls := StaticResolver{}.Resolve(t.Context(), "FastAPI")
	assert.Equal(t, []string{
		"https://fastapi.tiangolo.com/sitemap.xml",
		"https://fastapi.tiangolo.com",
	}, urls)
}

func TestStaticResolver_PatternFallback(t *testing.T) {
	urls := StaticResolver{}.Resolve(t.Context(), "obscurelib")
	require.Len(t, urls, 4)
	assert.Equal(t, "https://docs.obscurelib.com/sitemap.xml", urls[0])
	assert.Equal(t, "https://obscurelib.readthedocs.io/sitemap.xml", urls[2])
}

func TestStaticResolver_Empty(t *testing.T) {
	assert.Nil(t, StaticResolver{}.Resolve(t.Context(), "  "))
}

func TestResearch_SitemapWins(t *testing.T) {
	fetch := &fakeFetch{
		sitemapSum: map[string]domain.FetchSummary{
			"https://fastapi.tiangolo.com/sitemap.xml": {Fetched: 12, Failed: 1},
		},
	}
	knowledge := &fakeKnowledge{statuses: []domain.StoreStatus{
		{ChunkCount: 10},
		{ChunkCount: 70},
	}}
	svc := newTestService(t, fetch, knowledge)

	report, err := svc.Research(t.Context(), "", "fastapi", nil)
	require.NoError(t, err)

	assert.Equal(t, "fastapi", report.Topic)
	assert.Equal(t, 12, report.Fetched)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 60, report.IndexedChunks)
	assert.Equal(t, []string{"https://fastapi.tiangolo.com/sitemap.xml"}, report.Sources)

	// The sitemap succeeded, so the root page fallback is never tried.
	assert.Empty(t, fetch.fetchCalls)
}

func TestResearch_FallsBackToRootPage(t *testing.T) {
	fetch := &fakeFetch{
		pageOK: map[string]bool{"https://fastapi.tiangolo.com": true},
	}
	svc := newTestService(t, fetch, &fakeKnowledge{})

	report, err := svc.Research(t.Context(), "", "fastapi", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, []string{"https://fastapi.tiangolo.com"}, report.Sources)
	assert.Equal(t, []string{"https://fastapi.tiangolo.com/sitemap.xml"}, fetch.sitemapCalls)
}

func TestResearch_SeedsTriedFirst(t *testing.T) {
	fetch := &fakeFetch{
		pageOK: map[string]bool{"https://internal.example.com/docs": true},
	}
	svc := newTestService(t, fetch, &fakeKnowledge{})

	report, err := svc.Research(t.Context(), "", "fastapi",
		[]string{"https://internal.example.com/docs"})
	require.NoError(t, err)

	assert.Equal(t, "https://internal.example.com/docs", fetch.fetchCalls[0])
	assert.Contains(t, report.Sources, "https://internal.example.com/docs")
}

func TestResearch_AllCandidatesFail(t *testing.T) {
	fetch := &fakeFetch{}
	svc := newTestService(t, fetch, &fakeKnowledge{})

	report, err := svc.Research(t.Context(), "", "obscurelib", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 4, report.Failed)
	assert.Zero(t, report.Fetched)
}

func TestResearch_NoTopicNoSeeds(t *testing.T) {
	svc := newTestService(t, &fakeFetch{}, &fakeKnowledge{})

	_, err := svc.Research(t.Context(), "", "  ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatus_MergesRawCounts(t *testing.T) {
	raw, err := fetcher.NewRawStore(t.TempDir())
	require.NoError(t, err)

	project := domain.ProjectID("myproject")
	for _, url := range []string{
		"https://docs.memvid.com/a",
		"https://docs.memvid.com/b",
		"https://react.dev/learn",
	} {
		_, err := raw.Write(raw.DocPath(project, url), url, "content", domain.SourceHTML2Text, 0)
		require.NoError(t, err)
	}

	knowledge := &fakeKnowledge{statuses: []domain.StoreStatus{
		{DocCount: 3, ChunkCount: 9, Labels: map[string]int{"memvid": 2, "react": 1}},
	}}
	svc := NewService(StaticResolver{}, &fakeFetch{}, knowledge, raw)

	report, err := svc.Status(t.Context(), "myproject")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Index.DocCount)
	assert.Equal(t, map[string]int{"memvid": 2, "react": 1}, report.RawDocs)
	assert.Equal(t, 3, report.RawDocsSum)
}

func TestClear_DelegatesToKnowledge(t *testing.T) {
	knowledge := &fakeKnowledge{}
	svc := newTestService(t, &fakeFetch{}, knowledge)

	require.NoError(t, svc.Clear(t.Context(), "proj"))
	assert.Equal(t, []string{"proj"}, knowledge.cleared)
}
