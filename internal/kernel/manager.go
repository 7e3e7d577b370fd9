package kernel

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// Tier identifies how the kernel process is isolated.
type Tier string

// Isolation tiers. The manager prefers the container tier and degrades
// to a bare subprocess when Docker is unavailable.
const (
	TierSubprocess Tier = "subprocess"
	TierContainer  Tier = "container"
	TierExternal   Tier = "external"
)

const (
	// healthInterval is the background health-check cadence.
	healthInterval = 30 * time.Second

	// healthFailureLimit is how many consecutive failures trigger a
	// restart.
	healthFailureLimit = 3

	// startupTimeout bounds waiting for a fresh kernel to answer
	// /health.
	startupTimeout = 15 * time.Second
)

// ManagerConfig configures the kernel lifecycle.
type ManagerConfig struct {
	// Port the kernel listens on.
	Port int

	// Image is the container image for the container tier.
	Image string

	// ContainerName names the managed container.
	ContainerName string

	// Command starts the bare-subprocess kernel, e.g.
	// ["uvicorn", "sandbox.server:app", ...]. Empty disables the
	// subprocess tier.
	Command []string

	// WorkDir is the subprocess working directory.
	WorkDir string

	// DisableContainer skips the container tier entirely.
	DisableContainer bool

	// ExternalURL points at an already-running kernel; the manager
	// then performs no lifecycle actions.
	ExternalURL string
}

// Manager starts, watches and restarts the kernel process.
//
// Two locks: startMu serializes the slow lifecycle operations (start,
// restart, stop) end to end; mu guards the state fields and is never
// held across process launches, health waits or hook runs. Restart
// hooks may therefore call back into Tier() without deadlocking.
type Manager struct {
	cfg    ManagerConfig
	client *Client

	startMu sync.Mutex

	mu           sync.Mutex
	started      bool
	tier         Tier
	bareCmd      *exec.Cmd
	restartHooks []func(ctx context.Context) error

	healthOnce sync.Once
	stopHealth chan struct{}
}

// NewManager creates a kernel manager. The client must point at the
// address the managed kernel will listen on.
func NewManager(cfg ManagerConfig, client *Client) *Manager {
	return &Manager{
		cfg:        cfg,
		client:     client,
		stopHealth: make(chan struct{}),
	}
}

// Tier reports which isolation tier the running kernel uses.
func (m *Manager) Tier() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}

func (m *Manager) setTier(t Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tier = t
}

// OnRestart registers a hook replayed after every kernel (re)start,
// in registration order. Hooks re-inject helpers and restore state.
func (m *Manager) OnRestart(hook func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restartHooks = append(m.restartHooks, hook)
}

// EnsureRunning lazily starts the kernel. Concurrent first callers
// share one start attempt; a failed start, including a failed restart
// hook, is retried on the next call. The kernel counts as started only
// after every hook has run.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		return nil
	}

	if err := m.launch(ctx); err != nil {
		return err
	}
	if err := m.waitHealthy(ctx); err != nil {
		return err
	}
	logger.Info("Kernel running (tier: %s)", m.Tier())
	if err := m.runRestartHooks(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	m.healthOnce.Do(func() { go m.healthLoop() })
	return nil
}

// launch picks a tier and brings the kernel process up. Every tier,
// external included, goes through the shared health-wait and hook path
// in EnsureRunning.
func (m *Manager) launch(ctx context.Context) error {
	if m.cfg.ExternalURL != "" {
		m.setTier(TierExternal)
		logger.Info("Using external kernel at %s", m.cfg.ExternalURL)
		return nil
	}

	if !m.cfg.DisableContainer && dockerAvailable(ctx) {
		if err := m.startContainer(ctx); err == nil {
			m.setTier(TierContainer)
			return nil
		} else {
			logger.Warn("Container start failed, degrading to subprocess: %v", err)
		}
	}

	if len(m.cfg.Command) == 0 {
		return fmt.Errorf("%w: no container and no kernel command configured", domain.ErrKernelUnavailable)
	}
	if err := m.startSubprocess(); err != nil {
		return err
	}
	m.setTier(TierSubprocess)
	return nil
}

// runRestartHooks replays registered hooks without holding mu.
func (m *Manager) runRestartHooks(ctx context.Context) error {
	m.mu.Lock()
	hooks := append([]func(ctx context.Context) error(nil), m.restartHooks...)
	m.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("restart hook: %w", err)
		}
	}
	return nil
}

func dockerAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// startContainer launches the kernel container: null DNS so the kernel
// cannot reach the network, host gateway mapped so the callback server
// stays reachable, memory and CPU capped.
func (m *Manager) startContainer(ctx context.Context) error {
	// A running container from a previous session is reused; a
	// stopped one is removed first.
	if m.containerRunning(ctx) {
		logger.Info("Reusing running container %s", m.cfg.ContainerName)
		return nil
	}
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", m.cfg.ContainerName).Run()

	args := []string{
		"run", "--detach",
		"--name", m.cfg.ContainerName,
		"--publish", fmt.Sprintf("127.0.0.1:%d:%d", m.cfg.Port, m.cfg.Port),
		"--dns", "0.0.0.0",
		"--memory", "2g",
		"--cpus", "2",
		"--add-host", "host.docker.internal:host-gateway",
		m.cfg.Image,
	}

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run: %v: %s", err, strings.TrimSpace(string(out)))
	}
	logger.Info("Started container %s", m.cfg.ContainerName)
	return nil
}

func (m *Manager) containerRunning(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "docker", "inspect", "--format", "{{.State.Running}}", m.cfg.ContainerName).Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

func (m *Manager) startSubprocess() error {
	cmd := exec.Command(m.cfg.Command[0], m.cfg.Command[1:]...)
	cmd.Dir = m.cfg.WorkDir

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting kernel subprocess: %v", domain.ErrKernelUnavailable, err)
	}

	m.mu.Lock()
	m.bareCmd = cmd
	m.mu.Unlock()

	// Reap the process when it exits so it never zombies.
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("Kernel subprocess exited: %v", err)
		}
	}()

	logger.Info("Started kernel subprocess (pid %d)", cmd.Process.Pid)
	return nil
}

// waitHealthy polls /health until the kernel answers.
func (m *Manager) waitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		if err := m.client.Health(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for kernel: %v", domain.ErrKernelUnavailable, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: kernel did not become healthy within %s", domain.ErrKernelUnavailable, startupTimeout)
}

// healthLoop restarts the kernel after healthFailureLimit consecutive
// failed checks.
func (m *Manager) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-m.stopHealth:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := m.client.Health(ctx)
			cancel()

			if err == nil {
				failures = 0
				continue
			}

			failures++
			logger.Warn("Kernel health check failed (%d/%d): %v", failures, healthFailureLimit, err)
			if failures < healthFailureLimit {
				continue
			}

			failures = 0
			restartCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			if err := m.Restart(restartCtx); err != nil {
				logger.Warn("Kernel auto-restart failed: %v", err)
			}
			cancel()
		}
	}
}

// Restart stops and relaunches the kernel, then replays restart hooks.
func (m *Manager) Restart(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	tier := m.Tier()
	logger.Info("Restarting kernel (tier: %s)", tier)

	switch tier {
	case TierContainer:
		out, err := exec.CommandContext(ctx, "docker", "restart", m.cfg.ContainerName).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w: docker restart: %v: %s", domain.ErrKernelUnavailable, err, strings.TrimSpace(string(out)))
		}
	case TierSubprocess:
		m.stopSubprocess()
		if err := m.startSubprocess(); err != nil {
			return err
		}
	case TierExternal:
		// Nothing to manage; just wait for it to come back.
	default:
		return fmt.Errorf("%w: kernel was never started", domain.ErrKernelUnavailable)
	}

	if err := m.waitHealthy(ctx); err != nil {
		return err
	}
	return m.runRestartHooks(ctx)
}

func (m *Manager) stopSubprocess() {
	m.mu.Lock()
	cmd := m.bareCmd
	m.bareCmd = nil
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logger.Warn("Killing kernel subprocess: %v", err)
	}
}

// Stop shuts the kernel down and ends the health loop.
func (m *Manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	select {
	case <-m.stopHealth:
	default:
		close(m.stopHealth)
	}

	switch m.Tier() {
	case TierContainer:
		out, err := exec.CommandContext(ctx, "docker", "rm", "-f", m.cfg.ContainerName).CombinedOutput()
		if err != nil {
			return fmt.Errorf("docker rm: %v: %s", err, strings.TrimSpace(string(out)))
		}
		logger.Info("Stopped container %s", m.cfg.ContainerName)
	case TierSubprocess:
		m.stopSubprocess()
	}

	m.mu.Lock()
	m.started = false
	m.tier = ""
	m.mu.Unlock()
	return nil
}
