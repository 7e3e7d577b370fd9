package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driving"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// Ensure KnowledgeService implements the interface.
var _ driving.KnowledgeService = (*KnowledgeService)(nil)

const (
	// defaultTopK is the result count when the caller does not specify one.
	defaultTopK = 10

	// askTopK is how many chunks feed a retrieval-augmented answer.
	askTopK = 8

	// snippetMaxLen caps the text returned per hit.
	snippetMaxLen = 500

	// rrfK is the reciprocal-rank-fusion constant. It prevents the top
	// ranks of either list from dominating the merged order.
	rrfK = 60

	// minRelevancy is the adaptive-cutoff floor: hits scoring below this
	// fraction of the best hit are dropped.
	minRelevancy = 0.35

	// adaptiveMaxK bounds how many fused candidates survive the cutoff.
	adaptiveMaxK = 30

	// shortChunkLen is the content length below which the length
	// normalization starts discounting a hit. Fragments carry less
	// answerable context than full sections.
	shortChunkLen = 400
)

// labelPriors nudges curated content above bulk web captures during the
// post-fusion reweight. Unlisted labels keep a neutral prior.
var labelPriors = map[string]float64{
	"note":  1.10,
	"local": 1.05,
}

// scoredChunk holds intermediate search results before hydration.
type scoredChunk struct {
	chunkID string
	score   float64
	source  string // "lexical", "vector", or "merged"
}

// KnowledgeService provides per-project ingest and hybrid retrieval.
type KnowledgeService struct {
	factory  driven.KnowledgeIndexFactory
	pipeline driven.PostProcessorPipeline
	embedder driven.EmbeddingService
	subLLM   driven.LLMService
	prompts  driven.PromptStore
}

// NewKnowledgeService creates a knowledge service. The embedder and
// subLLM parameters are optional (can be nil): without an embedder the
// service runs lexical-only, without a sub-model Ask degrades to
// context-only retrieval.
func NewKnowledgeService(
	factory driven.KnowledgeIndexFactory,
	pipeline driven.PostProcessorPipeline,
	embedder driven.EmbeddingService,
	subLLM driven.LLMService,
	prompts driven.PromptStore,
) *KnowledgeService {
	return &KnowledgeService{
		factory:  factory,
		pipeline: pipeline,
		embedder: embedder,
		subLLM:   subLLM,
		prompts:  prompts,
	}
}

// index resolves the project identifier and opens its index.
func (s *KnowledgeService) index(project string) (driven.KnowledgeIndex, error) {
	id := domain.ProjectID(project)
	idx, err := s.factory.Open(id)
	if err != nil {
		return nil, fmt.Errorf("opening index for project %s: %w", id, err)
	}
	return idx, nil
}

// Ingest adds one document to the project index. Returns the number of
// chunks committed; zero means the document was a duplicate.
func (s *KnowledgeService) Ingest(ctx context.Context, project string, doc domain.Document) (int, error) {
	idx, err := s.index(project)
	if err != nil {
		return 0, err
	}
	return s.ingestOne(ctx, idx, doc)
}

// IngestMany ingests documents in sequence, returning the total chunks
// committed across all non-duplicate documents.
func (s *KnowledgeService) IngestMany(ctx context.Context, project string, docs []domain.Document) (int, error) {
	idx, err := s.index(project)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range docs {
		n, err := s.ingestOne(ctx, idx, docs[i])
		if err != nil {
			return total, fmt.Errorf("document %q: %w", docs[i].Title, err)
		}
		total += n
	}
	return total, nil
}

func (s *KnowledgeService) ingestOne(ctx context.Context, idx driven.KnowledgeIndex, doc domain.Document) (int, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return 0, fmt.Errorf("%w: document text is empty", domain.ErrInvalidInput)
	}

	s.normalizeDoc(&doc)

	logger.Debug("Ingest: title=%q label=%q thread=%q", doc.Title, doc.Label, doc.Thread)

	// Exact-duplicate check by content hash within the label.
	exists, err := idx.HasDocument(ctx, doc.Label, doc.ContentHash)
	if err != nil {
		return 0, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		logger.Debug("Ingest: exact duplicate, skipping")
		return 0, nil
	}

	// Near-duplicate check by simhash distance, within the label only:
	// the same text under a new label is a deliberate re-filing, not a
	// duplicate.
	hashes, err := idx.Simhashes(ctx, doc.Label)
	if err != nil {
		return 0, fmt.Errorf("simhash check: %w", err)
	}
	for _, h := range hashes {
		if domain.NearDuplicate(doc.Simhash, h) {
			logger.Debug("Ingest: near duplicate (simhash distance <= %d), skipping", domain.SimhashNearDupBits)
			return 0, nil
		}
	}

	chunks, err := s.pipeline.Process(ctx, &doc)
	if err != nil {
		return 0, fmt.Errorf("processing document: %w", err)
	}
	logger.Debug("Ingest: %d chunks", len(chunks))

	if s.embedder != nil && len(chunks) > 0 {
		if err := s.embedChunks(ctx, chunks); err != nil {
			// Lexical search still works without embeddings.
			logger.Warn("Ingest: embedding failed, storing without vectors: %v", err)
		}
	}

	if err := idx.AddDocument(ctx, doc, chunks); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return 0, nil
		}
		return 0, fmt.Errorf("saving document: %w", err)
	}

	logger.Info("Ingested %q: %d chunks", doc.Title, len(chunks))
	return len(chunks), nil
}

// normalizeDoc fills derived and defaulted fields before storage.
func (s *KnowledgeService) normalizeDoc(doc *domain.Document) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Label == "" {
		doc.Label = "kb"
	}
	if doc.Title == "" {
		doc.Title = doc.ID
	}
	if doc.ContentHash == "" {
		doc.ContentHash = domain.ContentHash(doc.Text)
	}
	if doc.Simhash == 0 {
		doc.Simhash = domain.Simhash(doc.Text)
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}
}

func (s *KnowledgeService) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(embeddings), len(chunks))
	}

	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	return nil
}

// Search returns ranked hits for the query.
func (s *KnowledgeService) Search(ctx context.Context, project, query string, opts domain.SearchOptions) ([]domain.Hit, error) {
	logger.Section("Knowledge Search")
	logger.Debug("Query: %q", query)

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Hit{}, nil
	}

	idx, err := s.index(project)
	if err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	mode := s.effectiveMode(opts.Mode)
	logger.Debug("Mode: %s (requested %s), topK: %d", mode, opts.Mode, topK)

	// Retrieve more than topK so post-retrieval filters and the
	// adaptive cutoff have material to work with.
	internalLimit := adaptiveMaxK
	if topK*2 > internalLimit {
		internalLimit = topK * 2
	}

	var chunks []scoredChunk
	switch mode {
	case domain.SearchModeLexical:
		chunks, err = s.lexicalSearch(ctx, idx, query, internalLimit)
	case domain.SearchModeVector:
		chunks, err = s.vectorSearch(ctx, idx, query, internalLimit)
	case domain.SearchModeHybrid:
		chunks, err = s.hybridSearch(ctx, idx, query, internalLimit)
	default:
		chunks, err = s.lexicalSearch(ctx, idx, query, internalLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	chunks = adaptiveCutoff(chunks)
	logger.Debug("After adaptive cutoff: %d candidates", len(chunks))

	hits, err := s.hydrate(ctx, idx, chunks, opts)
	if err != nil {
		return nil, fmt.Errorf("hydrating results: %w", err)
	}

	if len(hits) > topK {
		hits = hits[:topK]
	}
	logger.Info("Search %q: %d hits", query, len(hits))
	return hits, nil
}

// effectiveMode degrades vector and hybrid modes to lexical when no
// embedder is configured.
func (s *KnowledgeService) effectiveMode(requested domain.SearchMode) domain.SearchMode {
	if !requested.Valid() {
		requested = domain.SearchModeHybrid
	}
	if s.embedder == nil && requested != domain.SearchModeLexical {
		return domain.SearchModeLexical
	}
	return requested
}

func (s *KnowledgeService) lexicalSearch(ctx context.Context, idx driven.KnowledgeIndex, query string, limit int) ([]scoredChunk, error) {
	hits, err := idx.SearchLexical(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	results := make([]scoredChunk, len(hits))
	for i, hit := range hits {
		results[i] = scoredChunk{chunkID: hit.ChunkID, score: hit.Score, source: "lexical"}
	}
	return results, nil
}

func (s *KnowledgeService) vectorSearch(ctx context.Context, idx driven.KnowledgeIndex, query string, limit int) ([]scoredChunk, error) {
	if s.embedder == nil {
		return nil, errors.New("embedding service unavailable")
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := idx.SearchVector(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]scoredChunk, len(hits))
	for i, hit := range hits {
		results[i] = scoredChunk{chunkID: hit.ChunkID, score: hit.Score, source: "vector"}
	}
	return results, nil
}

// hybridSearch runs lexical and vector retrieval in parallel and merges
// the ranked lists with reciprocal rank fusion. A single-sided failure
// degrades to the surviving list.
func (s *KnowledgeService) hybridSearch(ctx context.Context, idx driven.KnowledgeIndex, query string, limit int) ([]scoredChunk, error) {
	var lexResults, vecResults []scoredChunk
	var lexErr, vecErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		lexResults, lexErr = s.lexicalSearch(ctx, idx, query, limit)
	}()

	go func() {
		defer wg.Done()
		vecResults, vecErr = s.vectorSearch(ctx, idx, query, limit)
	}()

	wg.Wait()

	if lexErr != nil && vecErr != nil {
		return nil, fmt.Errorf("hybrid search: lexical=%w, vector=%w", lexErr, vecErr)
	}
	if lexErr != nil {
		logger.Warn("Hybrid search: lexical side failed, using vector results only: %v", lexErr)
		return vecResults, nil
	}
	if vecErr != nil {
		logger.Warn("Hybrid search: vector side failed, using lexical results only: %v", vecErr)
		return lexResults, nil
	}

	return reciprocalRankFusion(lexResults, vecResults, rrfK), nil
}

// reciprocalRankFusion merges two ranked lists. k prevents high ranks
// from dominating.
func reciprocalRankFusion(list1, list2 []scoredChunk, k int) []scoredChunk {
	scores := make(map[string]float64)

	for rank, chunk := range list1 {
		scores[chunk.chunkID] += 1.0 / float64(k+rank+1)
	}
	for rank, chunk := range list2 {
		scores[chunk.chunkID] += 1.0 / float64(k+rank+1)
	}

	results := make([]scoredChunk, 0, len(scores))
	for id, score := range scores {
		results = append(results, scoredChunk{chunkID: id, score: score, source: "merged"})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].chunkID < results[j].chunkID
	})

	return results
}

// adaptiveCutoff trims the ranked candidates where relevance falls off:
// hits scoring below minRelevancy of the best hit are dropped, and at
// most adaptiveMaxK survive.
func adaptiveCutoff(chunks []scoredChunk) []scoredChunk {
	if len(chunks) == 0 {
		return chunks
	}

	best := chunks[0].score
	if best <= 0 {
		if len(chunks) > adaptiveMaxK {
			return chunks[:adaptiveMaxK]
		}
		return chunks
	}

	cut := len(chunks)
	for i, c := range chunks {
		if c.score/best < minRelevancy {
			cut = i
			break
		}
	}
	if cut > adaptiveMaxK {
		cut = adaptiveMaxK
	}
	return chunks[:cut]
}

// hydrate converts chunk IDs to hits, applying thread and label filters
// and the post-fusion reweight (length normalization and label prior).
// Chunks deleted between retrieval and hydration are skipped. Hits are
// re-sorted because reweighting can change the fused order.
func (s *KnowledgeService) hydrate(ctx context.Context, idx driven.KnowledgeIndex, chunks []scoredChunk, opts domain.SearchOptions) ([]domain.Hit, error) {
	hits := make([]domain.Hit, 0, len(chunks))

	for _, sc := range chunks {
		chunk, err := idx.GetChunk(ctx, sc.chunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get chunk %s: %w", sc.chunkID, err)
		}

		doc, err := idx.GetDocument(ctx, chunk.DocumentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get document %s: %w", chunk.DocumentID, err)
		}

		if opts.Thread != "" && doc.Thread != opts.Thread {
			continue
		}
		if opts.Label != "" && doc.Label != opts.Label {
			continue
		}

		text := chunk.Content
		if len(text) > snippetMaxLen {
			text = domain.Truncate(text, snippetMaxLen) + "..."
		}

		hits = append(hits, domain.Hit{
			Title:      doc.Title,
			Label:      doc.Label,
			Text:       text,
			Score:      sc.score * lengthFactor(len(chunk.Content)) * labelPrior(doc.Label),
			Metadata:   chunk.Metadata,
			ChunkIndex: chunk.ChunkIndex,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits, nil
}

// lengthFactor discounts fragments shorter than shortChunkLen, down to
// half weight for near-empty chunks.
func lengthFactor(n int) float64 {
	if n >= shortChunkLen {
		return 1.0
	}
	return 0.5 + 0.5*float64(n)/shortChunkLen
}

func labelPrior(label string) float64 {
	if p, ok := labelPriors[label]; ok {
		return p
	}
	return 1.0
}

// Ask retrieves top chunks for the question and, unless contextOnly,
// composes a retrieval-augmented answer with the sub-model.
func (s *KnowledgeService) Ask(ctx context.Context, project, question string, contextOnly bool, thread string) (domain.Answer, error) {
	hits, err := s.Search(ctx, project, question, domain.SearchOptions{
		TopK:   askTopK,
		Mode:   domain.SearchModeHybrid,
		Thread: thread,
	})
	if err != nil {
		return domain.Answer{}, err
	}

	if contextOnly || s.subLLM == nil {
		if !contextOnly {
			logger.Debug("Ask: no sub-model configured, returning context only")
		}
		return domain.Answer{Hits: hits}, nil
	}
	if len(hits) == 0 {
		return domain.Answer{Hits: hits}, nil
	}

	template, err := s.prompts.Load(driven.PromptRAGAnswer)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("loading answer prompt: %w", err)
	}

	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, hit.Title, hit.Text)
	}

	prompt := fmt.Sprintf(template, b.String(), question)
	completion, err := s.subLLM.Generate(ctx, prompt, driven.GenerateOptions{})
	if err != nil {
		return domain.Answer{}, fmt.Errorf("%w: composing answer: %v", domain.ErrLLMUnavailable, err)
	}

	return domain.Answer{Text: completion.Text, Hits: hits}, nil
}

// Timeline lists indexed titles in ingestion order, newest first.
func (s *KnowledgeService) Timeline(ctx context.Context, project string, since, until time.Time, limit int) ([]domain.TimelineEntry, error) {
	idx, err := s.index(project)
	if err != nil {
		return nil, err
	}
	return idx.Timeline(ctx, since, until, limit)
}

// Status summarizes the project's index.
func (s *KnowledgeService) Status(ctx context.Context, project string) (domain.StoreStatus, error) {
	idx, err := s.index(project)
	if err != nil {
		return domain.StoreStatus{}, err
	}
	return idx.Status(ctx)
}

// Clear closes the index, deletes the file and resets caches.
func (s *KnowledgeService) Clear(_ context.Context, project string) error {
	id := domain.ProjectID(project)
	logger.Info("Clearing knowledge index for project %s", id)
	return s.factory.Remove(id)
}
