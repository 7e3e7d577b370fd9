// Package research composes URL discovery, fetching and indexing into
// the compound research operation, and merges index status with the
// raw-document cache for reporting.
package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driving"
	"github.com/custodia-labs/sandbridge/internal/fetcher"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

var _ driving.ResearchService = (*Service)(nil)

// Service orchestrates research runs over the fetch and knowledge
// services.
type Service struct {
	resolver  driven.DocResolver
	fetch     driving.FetchService
	knowledge driving.KnowledgeService
	raw       *fetcher.RawStore
}

// NewService wires the research orchestrator.
func NewService(resolver driven.DocResolver, fetch driving.FetchService, knowledge driving.KnowledgeService, raw *fetcher.RawStore) *Service {
	return &Service{resolver: resolver, fetch: fetch, knowledge: knowledge, raw: raw}
}

// Research resolves a topic to candidate documentation URLs, fetches
// them and reports counts. Explicit seeds are tried before resolved
// candidates. A successful sitemap expansion ends the candidate walk;
// later patterns exist only as fallbacks for the same site.
func (s *Service) Research(ctx context.Context, project, topic string, seeds []string) (domain.ResearchReport, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" && len(seeds) == 0 {
		return domain.ResearchReport{}, fmt.Errorf("%w: research needs a topic or seed URLs", domain.ErrInvalidInput)
	}

	candidates := append([]string{}, seeds...)
	if topic != "" {
		candidates = append(candidates, s.resolver.Resolve(ctx, topic)...)
	}

	chunksBefore := s.chunkCount(ctx, project)

	report := domain.ResearchReport{Topic: topic}
	for _, url := range candidates {
		if strings.HasSuffix(url, "sitemap.xml") {
			summary, err := s.fetch.FetchSitemap(ctx, project, url, false)
			if err != nil {
				logger.Debug("Sitemap candidate %s: %v", url, err)
				report.Failed++
				continue
			}
			report.Sources = append(report.Sources, url)
			report.Fetched += summary.Fetched
			report.Failed += summary.Failed
			if summary.Fetched > 0 {
				break
			}
			continue
		}

		result := s.fetch.Fetch(ctx, project, url, false)
		if result.Failed() {
			logger.Debug("Page candidate %s: %s", url, result.Message)
			report.Failed++
			continue
		}
		report.Sources = append(report.Sources, url)
		report.Fetched++
	}

	report.IndexedChunks = s.chunkCount(ctx, project) - chunksBefore
	if report.IndexedChunks < 0 {
		report.IndexedChunks = 0
	}

	if report.Fetched == 0 {
		return report, fmt.Errorf("%w: no documentation found for %q (%d candidates tried)",
			domain.ErrNotFound, topic, len(candidates))
	}
	return report, nil
}

func (s *Service) chunkCount(ctx context.Context, project string) int {
	status, err := s.knowledge.Status(ctx, project)
	if err != nil {
		return 0
	}
	return status.ChunkCount
}

// Status merges the knowledge index summary with the raw markdown
// cache breakdown.
func (s *Service) Status(ctx context.Context, project string) (domain.StatusReport, error) {
	status, err := s.knowledge.Status(ctx, project)
	if err != nil {
		return domain.StatusReport{}, err
	}

	counts, err := s.raw.CountDocs(domain.ProjectID(project))
	if err != nil {
		logger.Warn("Counting raw docs: %v", err)
		counts = map[string]int{}
	}

	report := domain.StatusReport{Index: status, RawDocs: counts}
	for _, n := range counts {
		report.RawDocsSum += n
	}
	return report, nil
}

// Clear wipes the project's index. Raw markdown files stay; they are
// the refetch-free path to rebuilding the index.
func (s *Service) Clear(ctx context.Context, project string) error {
	return s.knowledge.Clear(ctx, project)
}
