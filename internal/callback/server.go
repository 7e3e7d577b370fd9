// Package callback runs the loopback HTTP server that kernel code calls
// back into: /llm_query routes prompts to the host-side sub-model and
// /tool_call dispatches whitelisted read-only tools. API keys stay on
// the host; the kernel only ever sees this server's address.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// DefaultPort is the callback server's default listen port.
const DefaultPort = 8081

// llmQueryTimeout bounds one sub-model completion.
const llmQueryTimeout = 2 * time.Minute

// ToolHandler serves one sandbox-callable tool. The input map carries
// the stub's keyword arguments; the returned value is serialized into
// the response as-is.
type ToolHandler func(ctx context.Context, input map[string]any) (any, error)

type serverState int

const (
	stateIdle serverState = iota
	stateReady
	stateDraining
	stateStopped
)

// Server is the host-side callback endpoint for kernel code.
type Server struct {
	port   int
	subLLM driven.LLMService
	ledger *Ledger

	mu       sync.Mutex
	state    serverState
	handlers map[string]ToolHandler
	httpSrv  *http.Server
	inflight sync.WaitGroup
}

// NewServer creates a callback server. Port 0 picks an ephemeral port
// on Start. subLLM may be nil; /llm_query then reports the sub-model as
// unavailable.
func NewServer(port int, subLLM driven.LLMService, ledger *Ledger) *Server {
	return &Server{
		port:     port,
		subLLM:   subLLM,
		ledger:   ledger,
		handlers: map[string]ToolHandler{},
	}
}

// RegisterTool exposes a handler under a sandbox function name. Only
// registered names are callable; everything else gets a 404.
func (s *Server) RegisterTool(name string, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// BaseURL is the callback address for a bare-subprocess kernel.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// BaseURLContainer is the callback address as seen from inside the
// kernel container, through the mapped host gateway.
func (s *Server) BaseURLContainer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://host.docker.internal:%d", s.port)
}

// Start begins listening. The server binds all interfaces so the
// container's host-gateway route works; tool exposure is limited by the
// whitelist, not the bind address.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateIdle {
		return fmt.Errorf("callback server already started")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /llm_query", s.handleLLMQuery)
	mux.HandleFunc("POST /tool_call", s.handleToolCall)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("callback listen: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Warn("Callback server: %v", err)
		}
	}()

	s.state = stateReady
	logger.Info("Callback server listening on port %d", s.port)
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateReady {
		s.mu.Unlock()
		return nil
	}
	s.state = stateDraining
	srv := s.httpSrv
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Callback drain interrupted: %v", ctx.Err())
	}

	err := srv.Shutdown(ctx)

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
	logger.Info("Callback server stopped")
	return err
}

// Usage returns the ledger totals, optionally resetting them.
func (s *Server) Usage(reset bool) (domain.Usage, error) {
	snapshot := s.ledger.Snapshot()
	if reset {
		if err := s.ledger.Reset(); err != nil {
			return snapshot, err
		}
	}
	return snapshot, nil
}

// Ledger exposes the ledger for per-run usage diffs.
func (s *Server) Ledger() *Ledger {
	return s.ledger
}

type llmQueryRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleLLMQuery(w http.ResponseWriter, r *http.Request) {
	if !s.beginRequest() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "draining"})
		return
	}
	defer s.inflight.Done()

	var req llmQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing prompt"})
		return
	}
	if s.subLLM == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sub-model not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), llmQueryTimeout)
	defer cancel()

	completion, err := s.subLLM.Generate(ctx, req.Prompt, driven.GenerateOptions{})
	if err != nil {
		logger.Warn("llm_query failed: %v", err)
		status := http.StatusInternalServerError
		if domain.KindOf(err) == domain.KindRateLimited {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if err := s.ledger.Add(s.subLLM.ModelName(), completion.InputTokens, completion.OutputTokens); err != nil {
		logger.Warn("Recording usage: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": completion.Text})
}

type toolCallRequest struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if !s.beginRequest() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "draining"})
		return
	}
	defer s.inflight.Done()

	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tool_name"})
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.ToolName]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tool: " + req.ToolName})
		return
	}

	result, err := handler(r.Context(), req.Input)
	if err != nil {
		logger.Warn("Tool %s failed: %v", req.ToolName, err)
		writeJSON(w, http.StatusOK, map[string]any{
			"result": map[string]any{
				"error":      err.Error(),
				"error_kind": string(domain.KindOf(err)),
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// beginRequest admits a request unless the server is draining.
func (s *Server) beginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return false
	}
	s.inflight.Add(1)
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
