package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newExternalManager wires a manager at an already-running fake kernel,
// the same shape `serve --kernel-url` produces.
func newExternalManager(t *testing.T, fake *fakeKernel) *Manager {
	t.Helper()
	client := newTestClient(t, fake)
	return NewManager(ManagerConfig{ExternalURL: client.BaseURL()}, client)
}

// ensureRunning bounds EnsureRunning so a locking regression fails the
// test instead of hanging it.
func ensureRunning(t *testing.T, m *Manager) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done <- m.EnsureRunning(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("EnsureRunning did not return")
		return nil
	}
}

func TestManager_EnsureRunning_HookMayQueryTier(t *testing.T) {
	m := newExternalManager(t, newFakeKernel())

	var seen Tier
	m.OnRestart(func(context.Context) error {
		seen = m.Tier()
		return nil
	})

	require.NoError(t, ensureRunning(t, m))
	assert.Equal(t, TierExternal, seen, "hook observes the tier of the kernel it configures")
}

func TestManager_EnsureRunning_ExternalRunsHooks(t *testing.T) {
	m := newExternalManager(t, newFakeKernel())

	calls := 0
	m.OnRestart(func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, ensureRunning(t, m))
	assert.Equal(t, 1, calls, "helper injection runs for external kernels too")

	// Already started: hooks are not replayed.
	require.NoError(t, ensureRunning(t, m))
	assert.Equal(t, 1, calls)
}

func TestManager_EnsureRunning_HookFailureRetries(t *testing.T) {
	m := newExternalManager(t, newFakeKernel())

	boom := errors.New("injection failed")
	calls := 0
	m.OnRestart(func(context.Context) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	})

	err := ensureRunning(t, m)
	require.ErrorIs(t, err, boom)

	// The kernel does not count as started until hooks succeed.
	require.NoError(t, ensureRunning(t, m))
	assert.Equal(t, 2, calls)
}

func TestManager_Restart_ReplaysHooks(t *testing.T) {
	m := newExternalManager(t, newFakeKernel())

	var tiers []Tier
	m.OnRestart(func(context.Context) error {
		tiers = append(tiers, m.Tier())
		return nil
	})

	require.NoError(t, ensureRunning(t, m))
	require.NoError(t, m.Restart(context.Background()))
	assert.Equal(t, []Tier{TierExternal, TierExternal}, tiers)
}

func TestManager_Restart_NeverStarted(t *testing.T) {
	m := newExternalManager(t, newFakeKernel())

	// No EnsureRunning: the blank tier refuses to restart.
	err := m.Restart(context.Background())
	assert.Error(t, err)
}

func TestManager_Stop_ResetsState(t *testing.T) {
	m := newExternalManager(t, newFakeKernel())
	require.NoError(t, ensureRunning(t, m))
	require.Equal(t, TierExternal, m.Tier())

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, Tier(""), m.Tier())

	// Stopping twice is fine.
	require.NoError(t, m.Stop(context.Background()))
}
