package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// mockKernelService is a mock implementation of driving.KernelService.
type mockKernelService struct {
	execResult domain.ExecResult
	execCode   string
	loadSize   int
	loadPath   string
	value      string
	vars       []domain.VarInfo
	resetCount int
	err        error
}

func (m *mockKernelService) Exec(_ context.Context, code string, _ time.Duration) (domain.ExecResult, error) {
	m.execCode = code
	return m.execResult, m.err
}

func (m *mockKernelService) LoadFile(_ context.Context, path, _ string) (int, error) {
	m.loadPath = path
	return m.loadSize, m.err
}

func (m *mockKernelService) GetVar(_ context.Context, _, _ string) (string, error) {
	return m.value, m.err
}

func (m *mockKernelService) Vars(_ context.Context) ([]domain.VarInfo, error) {
	return m.vars, m.err
}

func (m *mockKernelService) Reset(_ context.Context) error {
	m.resetCount++
	return m.err
}

// mockSubAgentService is a mock implementation of driving.SubAgentService.
type mockSubAgentService struct {
	result    domain.RunResult
	signature string
	inputs    map[string]any
	limits    domain.RunLimits
	err       error
}

func (m *mockSubAgentService) Run(_ context.Context, signature string, inputs map[string]any, limits domain.RunLimits) (domain.RunResult, error) {
	m.signature = signature
	m.inputs = inputs
	m.limits = limits
	return m.result, m.err
}

// mockUsageService is a mock implementation of driving.UsageService.
type mockUsageService struct {
	usage     domain.Usage
	lastReset bool
	err       error
}

func (m *mockUsageService) Usage(_ context.Context, reset bool) (domain.Usage, error) {
	m.lastReset = reset
	return m.usage, m.err
}

// mockKnowledgeService is a mock implementation of driving.KnowledgeService.
type mockKnowledgeService struct {
	chunks     int
	hits       []domain.Hit
	answer     domain.Answer
	timeline   []domain.TimelineEntry
	status     domain.StoreStatus
	lastDoc    domain.Document
	lastOpts   domain.SearchOptions
	clearCount int
	err        error
}

func (m *mockKnowledgeService) Ingest(_ context.Context, _ string, doc domain.Document) (int, error) {
	m.lastDoc = doc
	return m.chunks, m.err
}

func (m *mockKnowledgeService) IngestMany(_ context.Context, _ string, docs []domain.Document) (int, error) {
	return m.chunks * len(docs), m.err
}

func (m *mockKnowledgeService) Search(_ context.Context, _, _ string, opts domain.SearchOptions) ([]domain.Hit, error) {
	m.lastOpts = opts
	return m.hits, m.err
}

func (m *mockKnowledgeService) Ask(_ context.Context, _, _ string, _ bool, _ string) (domain.Answer, error) {
	return m.answer, m.err
}

func (m *mockKnowledgeService) Timeline(_ context.Context, _ string, _, _ time.Time, _ int) ([]domain.TimelineEntry, error) {
	return m.timeline, m.err
}

func (m *mockKnowledgeService) Status(_ context.Context, _ string) (domain.StoreStatus, error) {
	return m.status, m.err
}

func (m *mockKnowledgeService) Clear(_ context.Context, _ string) error {
	m.clearCount++
	return m.err
}

// mockFetchService is a mock implementation of driving.FetchService.
type mockFetchService struct {
	result      domain.FetchResult
	summary     domain.FetchSummary
	loadSummary domain.LoadSummary
	lastURL     string
	err         error
}

func (m *mockFetchService) Fetch(_ context.Context, _, url string, _ bool) domain.FetchResult {
	m.lastURL = url
	return m.result
}

func (m *mockFetchService) FetchSitemap(_ context.Context, _, url string, _ bool) (domain.FetchSummary, error) {
	m.lastURL = url
	return m.summary, m.err
}

func (m *mockFetchService) LoadDir(_ context.Context, _, _ string) (domain.LoadSummary, error) {
	return m.loadSummary, m.err
}

// mockResearchService is a mock implementation of driving.ResearchService.
type mockResearchService struct {
	report     domain.ResearchReport
	status     domain.StatusReport
	lastTopic  string
	lastSeeds  []string
	clearCount int
	err        error
}

func (m *mockResearchService) Research(_ context.Context, _, topic string, seeds []string) (domain.ResearchReport, error) {
	m.lastTopic = topic
	m.lastSeeds = seeds
	return m.report, m.err
}

func (m *mockResearchService) Status(_ context.Context, _ string) (domain.StatusReport, error) {
	return m.status, m.err
}

func (m *mockResearchService) Clear(_ context.Context, _ string) error {
	m.clearCount++
	return m.err
}

// testPorts returns a full set of ports backed by fresh mocks.
func testPorts() *Ports {
	return &Ports{
		Kernel:    &mockKernelService{},
		SubAgent:  &mockSubAgentService{},
		Usage:     &mockUsageService{},
		Knowledge: &mockKnowledgeService{},
		Fetch:     &mockFetchService{},
		Research:  &mockResearchService{},
	}
}
