// Package host composes the sandbridge runtime: config, model
// adapters, knowledge stores, the kernel lifecycle, the callback
// server and the sub-agent runner, wired into the MCP port set.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/custodia-labs/sandbridge/internal/adapters/driven/ai"
	"github.com/custodia-labs/sandbridge/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sandbridge/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sandbridge/internal/adapters/driving/mcp"
	"github.com/custodia-labs/sandbridge/internal/callback"
	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driving"
	"github.com/custodia-labs/sandbridge/internal/core/services"
	"github.com/custodia-labs/sandbridge/internal/fetcher"
	"github.com/custodia-labs/sandbridge/internal/kernel"
	"github.com/custodia-labs/sandbridge/internal/logger"
	"github.com/custodia-labs/sandbridge/internal/postprocessors"
	"github.com/custodia-labs/sandbridge/internal/research"
	"github.com/custodia-labs/sandbridge/internal/subagent"
)

const (
	defaultKernelPort   = 8080
	defaultKernelImage  = "sandbridge-kernel"
	defaultCallbackPort = callback.DefaultPort

	kernelContainerName = "sandbridge-kernel"

	// shutdownTimeout bounds the ordered stop path when the caller's
	// context carries no deadline of its own.
	shutdownTimeout = 30 * time.Second
)

// Options configures host construction. Zero values mean defaults.
type Options struct {
	// StateDir overrides the ~/.sandbridge state root.
	StateDir string

	// KernelURL points at an already-running kernel, disabling
	// lifecycle management.
	KernelURL string

	// NoKernelContainer skips the container tier and runs the kernel
	// as a bare subprocess.
	NoKernelContainer bool
}

// Host owns every long-lived component of a sandbridge process.
type Host struct {
	cfg      *file.ConfigStore
	settings Settings
	stateDir string

	httpClient *http.Client

	promptStore driven.PromptStore

	factory   *sqlite.Factory
	raw       *fetcher.RawStore
	knowledge driving.KnowledgeService
	fetch     driving.FetchService
	research  *research.Service
	watcher   *fetcher.Watcher

	mainLLM driven.LLMService
	subLLM  driven.LLMService

	ledger      *callback.Ledger
	callbackSrv *callback.Server

	kernelMgr *kernel.Manager
	kernelSvc *kernel.Service
	kernelOps driving.KernelService
	runner    *subagent.Runner
}

// New builds and starts the host. The kernel itself stays cold until
// the first tool call; everything else is live on return.
func New(opts Options) (*Host, error) {
	stateDir := opts.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".sandbridge")
	}

	cfg, err := file.NewConfigStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}

	h := &Host{
		cfg:      cfg,
		settings: LoadSettings(cfg),
		stateDir: stateDir,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	prompts, err := file.NewPromptStore(filepath.Join(stateDir, "prompts"))
	if err != nil {
		return nil, fmt.Errorf("opening prompt store: %w", err)
	}
	h.promptStore = prompts

	if err := h.buildModels(); err != nil {
		return nil, err
	}
	if err := h.buildKnowledge(); err != nil {
		return nil, err
	}
	if err := h.buildCallback(); err != nil {
		return nil, err
	}
	if err := h.buildKernel(opts); err != nil {
		h.callbackSrv.Stop(context.Background()) //nolint:errcheck
		return nil, err
	}

	h.runner = subagent.NewRunner(h.kernelSvc, h.mainLLM, h.ledger, h.promptStore)

	return h, nil
}

// buildModels creates the main model, sub-model and embedder from
// settings. All three are optional; missing ones disable the features
// that need them.
func (h *Host) buildModels() error {
	if h.settings.MainModel.IsConfigured() {
		llm, err := ai.CreateLLMService(h.settings.MainModel)
		if err != nil {
			logger.Warn("Main model unavailable: %v", err)
		} else {
			h.mainLLM = llm
		}
	}

	if h.settings.SubModel.IsConfigured() {
		llm, err := ai.CreateLLMService(h.settings.SubModel)
		if err != nil {
			logger.Warn("Sub-model unavailable: %v", err)
		} else {
			h.subLLM = llm
		}
	}
	if h.subLLM == nil {
		// The sub-model answers kernel llm_query calls and composes
		// RAG answers; fall back to the main model when only that is
		// configured.
		h.subLLM = h.mainLLM
	}
	return nil
}

func (h *Host) buildKnowledge() error {
	knowledgeDir := filepath.Join(h.stateDir, "knowledge")

	factory, err := sqlite.NewFactory(knowledgeDir)
	if err != nil {
		return fmt.Errorf("opening knowledge store: %w", err)
	}
	h.factory = factory

	raw, err := fetcher.NewRawStore(knowledgeDir)
	if err != nil {
		return fmt.Errorf("opening raw store: %w", err)
	}
	h.raw = raw

	var embedder driven.EmbeddingService
	if h.settings.Embedding.IsConfigured() {
		embedder, err = ai.CreateEmbeddingService(h.settings.Embedding)
		if err != nil {
			logger.Warn("Embedder unavailable, search degrades to lexical: %v", err)
			embedder = nil
		}
	}

	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	pipeline, err := postprocessors.DefaultPipeline(registry, nil)
	if err != nil {
		return fmt.Errorf("building ingest pipeline: %w", err)
	}

	if watcher, werr := fetcher.NewWatcher(raw); werr != nil {
		logger.Debug("Raw-doc watcher disabled: %v", werr)
	} else {
		h.watcher = watcher
		if werr := watcher.WatchProject(domain.ProjectID("")); werr != nil {
			logger.Debug("Watching default project: %v", werr)
		}
	}

	// Every project whose index opens gets its raw dir watched too.
	var indexes driven.KnowledgeIndexFactory = factory
	if h.watcher != nil {
		indexes = watchingFactory{KnowledgeIndexFactory: factory, watcher: h.watcher}
	}

	h.knowledge = services.NewKnowledgeService(indexes, pipeline, embedder, h.subLLM, h.promptStore)
	fetch := fetcher.New(h.httpClient, raw, h.knowledge)
	h.fetch = fetch
	h.research = research.NewService(research.StaticResolver{}, h.fetch, h.knowledge, raw)

	if h.watcher != nil {
		h.watcher.SetReingester(fetch)
	}
	return nil
}

// watchingFactory registers each opened project's raw-doc tree with
// the watcher, so external edits are picked up for every project in
// use, not just the default one.
type watchingFactory struct {
	driven.KnowledgeIndexFactory
	watcher *fetcher.Watcher
}

func (f watchingFactory) Open(projectID string) (driven.KnowledgeIndex, error) {
	idx, err := f.KnowledgeIndexFactory.Open(projectID)
	if err == nil {
		if werr := f.watcher.WatchProject(projectID); werr != nil {
			logger.Debug("Watching project %s: %v", projectID, werr)
		}
	}
	return idx, err
}

func (h *Host) buildCallback() error {
	ledger, err := callback.OpenLedger(filepath.Join(h.stateDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("opening usage ledger: %w", err)
	}
	h.ledger = ledger

	h.callbackSrv = callback.NewServer(h.settings.CallbackPort, h.subLLM, ledger)
	h.registerSandboxTools()

	if err := h.callbackSrv.Start(); err != nil {
		ledger.Close() //nolint:errcheck
		return fmt.Errorf("starting callback server: %w", err)
	}
	return nil
}

func (h *Host) buildKernel(opts Options) error {
	port := h.settings.KernelPort
	baseURL := opts.KernelURL
	if baseURL == "" {
		baseURL = "http://127.0.0.1:" + strconv.Itoa(port)
	}
	client := kernel.NewClient(baseURL, h.httpClient)

	mgr := kernel.NewManager(kernel.ManagerConfig{
		Port:          port,
		Image:         h.settings.KernelImage,
		ContainerName: kernelContainerName,
		Command: []string{
			"uvicorn", "sandbox.server:app",
			"--host", "127.0.0.1",
			"--port", strconv.Itoa(port),
		},
		DisableContainer: opts.NoKernelContainer,
		ExternalURL:      opts.KernelURL,
	}, client)
	h.kernelMgr = mgr

	// Stub injection must run before the service's rehydrate hook so
	// helpers are in place when the snapshot restores.
	mgr.OnRestart(func(context.Context) error {
		h.registerKernelStubs()
		return nil
	})

	snapshots, err := kernel.NewSnapshotStore(filepath.Join(h.stateDir, "sessions"))
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	if removed, cerr := snapshots.CleanupExpired(); cerr != nil {
		logger.Debug("Snapshot cleanup: %v", cerr)
	} else if removed > 0 {
		logger.Debug("Removed %d expired snapshots", removed)
	}

	h.kernelSvc = kernel.NewService(mgr, client, snapshots, domain.SessionID(""))
	h.kernelOps = h.kernelSvc
	h.kernelSvc.StartAutoSave()
	return nil
}

// registerKernelStubs injects the Python helper surface once the
// kernel tier is known: the callback URL differs between a bare
// subprocess and a container.
func (h *Host) registerKernelStubs() {
	base := h.callbackSrv.BaseURL()
	if h.kernelMgr.Tier() == kernel.TierContainer {
		base = h.callbackSrv.BaseURLContainer()
	}
	h.kernelSvc.SetHelpers(
		subagent.LLMStub(base),
		subagent.ToolStubs(base),
		subagent.SubmitStub(),
	)
}

// MCPPorts assembles the driving port set for the MCP server.
func (h *Host) MCPPorts() *mcp.Ports {
	return &mcp.Ports{
		Kernel:    h.kernelOps,
		SubAgent:  h.runner,
		Usage:     usageAdapter{h.callbackSrv},
		Knowledge: h.knowledge,
		Fetch:     h.fetch,
		Research:  h.research,
	}
}

// Knowledge exposes the knowledge service for CLI commands.
func (h *Host) Knowledge() driving.KnowledgeService { return h.knowledge }

// Fetch exposes the fetch service for CLI commands.
func (h *Host) Fetch() driving.FetchService { return h.fetch }

// Research exposes the research service for CLI commands.
func (h *Host) Research() driving.ResearchService { return h.research }

// Serve runs the MCP server until the context is cancelled, then walks
// the shutdown path. Port 0 selects stdio transport.
func (h *Host) Serve(ctx context.Context, httpPort int) error {
	server, err := mcp.NewServer(h.MCPPorts())
	if err != nil {
		return err
	}

	if httpPort > 0 {
		err = server.RunHTTP(ctx, ":"+strconv.Itoa(httpPort))
	} else {
		err = server.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := h.Shutdown(stopCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Shutdown stops everything in dependency order: drain the callback
// server, snapshot and stop the kernel, then close stores and the
// ledger. Runs each step even when an earlier one fails.
func (h *Host) Shutdown(ctx context.Context) error {
	var errs []error

	if err := h.callbackSrv.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping callback server: %w", err))
	}
	if err := h.kernelSvc.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping kernel: %w", err))
	}
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stopping watcher: %w", err))
		}
	}
	if err := h.factory.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("closing knowledge stores: %w", err))
	}
	if h.mainLLM != nil {
		h.mainLLM.Close() //nolint:errcheck
	}
	if h.subLLM != nil && h.subLLM != h.mainLLM {
		h.subLLM.Close() //nolint:errcheck
	}
	if err := h.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing usage ledger: %w", err))
	}

	return errors.Join(errs...)
}

// usageAdapter exposes the callback server's ledger as a driving port.
type usageAdapter struct {
	srv *callback.Server
}

func (a usageAdapter) Usage(_ context.Context, reset bool) (domain.Usage, error) {
	return a.srv.Usage(reset)
}
