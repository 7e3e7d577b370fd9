package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// maxLoadFileBytes caps how much of a host file can be bound into the
// kernel in one call.
const maxLoadFileBytes = 10 << 20

// credentialDirs are home-relative paths the load operation refuses to
// read from, regardless of what the caller asks for.
var credentialDirs = []string{
	".ssh",
	".aws",
	filepath.Join(".config", "gcloud"),
	".gnupg",
}

// Service implements the kernel operations over a lazily started
// kernel: exec, variable access, file loading and namespace reset.
type Service struct {
	manager   *Manager
	client    *Client
	snapshots *SnapshotStore
	sessionID string

	mu      sync.Mutex
	helpers []string

	autoSaveOnce sync.Once
	stopAutoSave chan struct{}
}

// NewService wires the kernel service. The manager gains a restart hook
// that re-injects helpers and restores the session snapshot, so a
// crashed kernel comes back with its state.
func NewService(manager *Manager, client *Client, snapshots *SnapshotStore, sessionID string) *Service {
	s := &Service{
		manager:      manager,
		client:       client,
		snapshots:    snapshots,
		sessionID:    sessionID,
		stopAutoSave: make(chan struct{}),
	}
	manager.OnRestart(s.rehydrate)
	return s
}

// RegisterHelper adds Python source injected into the kernel namespace
// on every start and reset. Helpers run in registration order.
func (s *Service) RegisterHelper(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helpers = append(s.helpers, code)
}

// SetHelpers replaces the helper list. Safe to call repeatedly from a
// restart hook; the injected surface stays identical across restarts.
func (s *Service) SetHelpers(code ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helpers = append([]string(nil), code...)
}

// rehydrate runs after every kernel start: helpers first, then the
// saved namespace if one exists.
func (s *Service) rehydrate(ctx context.Context) error {
	if err := s.injectHelpers(ctx); err != nil {
		return err
	}

	snapshot, err := s.snapshots.Load(s.sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	result, err := s.client.SnapshotRestore(ctx, snapshot)
	if err != nil {
		// A corrupt snapshot must not keep the kernel from starting.
		logger.Warn("Snapshot restore failed, starting fresh: %v", err)
		s.snapshots.Delete(s.sessionID)
		return nil
	}
	logger.Info("Restored session %s: %d variables (%d skipped)",
		s.sessionID, len(result.Restored), len(result.Skipped))
	return nil
}

func (s *Service) injectHelpers(ctx context.Context) error {
	s.mu.Lock()
	helpers := make([]string, len(s.helpers))
	copy(helpers, s.helpers)
	s.mu.Unlock()

	for _, code := range helpers {
		result, err := s.client.Exec(ctx, code, 30*time.Second)
		if err != nil {
			return fmt.Errorf("injecting helper: %w", err)
		}
		if result.Stderr != "" {
			return fmt.Errorf("%w: helper injection: %s", domain.ErrKernelRuntime, truncate(result.Stderr, 500))
		}
	}
	return nil
}

// Exec runs code in the kernel.
func (s *Service) Exec(ctx context.Context, code string, timeout time.Duration) (domain.ExecResult, error) {
	if strings.TrimSpace(code) == "" {
		return domain.ExecResult{}, fmt.Errorf("%w: code is empty", domain.ErrInvalidInput)
	}
	if err := s.manager.EnsureRunning(ctx); err != nil {
		return domain.ExecResult{}, err
	}
	return s.client.Exec(ctx, code, timeout)
}

// LoadFile reads a host file and binds its content to a kernel variable.
// Returns the number of bytes loaded.
func (s *Service) LoadFile(ctx context.Context, path, varName string) (int, error) {
	if !validVarName(varName) {
		return 0, fmt.Errorf("%w: invalid variable name %q", domain.ErrInvalidInput, varName)
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return 0, err
	}
	if denied(resolved) {
		return 0, fmt.Errorf("%w: refusing to read credential path %s", domain.ErrBlocked, path)
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: file %s", domain.ErrNotFound, path)
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.Size() > maxLoadFileBytes {
		return 0, fmt.Errorf("%w: file %s is %d bytes, limit is %d", domain.ErrInvalidInput, path, info.Size(), maxLoadFileBytes)
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := s.manager.EnsureRunning(ctx); err != nil {
		return 0, err
	}

	// A JSON string literal is a valid Python string literal, so the
	// content travels inside the assignment itself.
	literal, err := json.Marshal(string(content))
	if err != nil {
		return 0, fmt.Errorf("encoding file content: %w", err)
	}

	code := fmt.Sprintf("%s = %s", varName, literal)
	result, err := s.client.Exec(ctx, code, 60*time.Second)
	if err != nil {
		return 0, err
	}
	if result.Stderr != "" {
		return 0, fmt.Errorf("%w: binding %s: %s", domain.ErrKernelRuntime, varName, truncate(result.Stderr, 500))
	}
	return len(content), nil
}

// GetVar returns a variable's value. A non-empty query is evaluated as
// a Python expression instead, which lets callers drill into large
// structures without pulling them whole.
func (s *Service) GetVar(ctx context.Context, name, query string) (string, error) {
	if err := s.manager.EnsureRunning(ctx); err != nil {
		return "", err
	}

	if query == "" {
		return s.client.GetVar(ctx, name)
	}

	code := fmt.Sprintf("import json as _json\nprint(_json.dumps(%s, indent=2, default=str))", query)
	result, err := s.client.Exec(ctx, code, 30*time.Second)
	if err != nil {
		return "", err
	}
	if result.Stderr != "" {
		return "", fmt.Errorf("%w: evaluating %q: %s", domain.ErrKernelRuntime, query, truncate(result.Stderr, 500))
	}
	return strings.TrimRight(result.Output, "\n"), nil
}

// Vars lists user-defined kernel variables.
func (s *Service) Vars(ctx context.Context) ([]domain.VarInfo, error) {
	if err := s.manager.EnsureRunning(ctx); err != nil {
		return nil, err
	}
	return s.client.Vars(ctx)
}

// resetCode clears every user-defined name from the kernel namespace.
const resetCode = `for _name in [n for n in list(globals()) if not n.startswith("_")]:
    del globals()[_name]
`

// Reset clears the kernel namespace, drops the saved snapshot and
// re-injects helpers.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.manager.EnsureRunning(ctx); err != nil {
		return err
	}

	result, err := s.client.Exec(ctx, resetCode, 30*time.Second)
	if err != nil {
		return err
	}
	if result.Stderr != "" {
		return fmt.Errorf("%w: clearing namespace: %s", domain.ErrKernelRuntime, truncate(result.Stderr, 500))
	}

	s.snapshots.Delete(s.sessionID)
	return s.injectHelpers(ctx)
}

// SaveSnapshot serializes the kernel namespace to disk. A kernel that
// never started is not an error; there is nothing to save.
func (s *Service) SaveSnapshot(ctx context.Context) error {
	if s.manager.Tier() == "" {
		return nil
	}

	snapshot, result, err := s.client.SnapshotSave(ctx)
	if err != nil {
		return err
	}
	if err := s.snapshots.Save(s.sessionID, snapshot); err != nil {
		return err
	}
	logger.Debug("Saved session %s: %d variables (%d skipped)",
		s.sessionID, len(result.Restored), len(result.Skipped))
	return nil
}

// StartAutoSave begins periodic snapshotting. Safe to call once.
func (s *Service) StartAutoSave() {
	s.autoSaveOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(AutoSaveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-s.stopAutoSave:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
					if err := s.SaveSnapshot(ctx); err != nil {
						logger.Warn("Auto-save failed: %v", err)
					}
					cancel()
				}
			}
		}()
	})
}

// Shutdown stops auto-save, writes a final snapshot and stops the
// kernel.
func (s *Service) Shutdown(ctx context.Context) error {
	select {
	case <-s.stopAutoSave:
	default:
		close(s.stopAutoSave)
	}

	if err := s.SaveSnapshot(ctx); err != nil {
		logger.Warn("Final snapshot failed: %v", err)
	}
	return s.manager.Stop(ctx)
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is empty", domain.ErrInvalidInput)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: path %q: %v", domain.ErrInvalidInput, path, err)
	}
	return filepath.Clean(abs), nil
}

// denied reports whether a resolved path falls under a credential
// directory.
func denied(resolved string) bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	for _, dir := range credentialDirs {
		root := filepath.Join(home, dir)
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
