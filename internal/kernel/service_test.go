package kernel

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// newTestService wires a Service against a fake kernel through the
// external-URL tier, so no process management happens in tests.
func newTestService(t *testing.T, fake *fakeKernel) (*Service, *SnapshotStore) {
	t.Helper()

	url := fake.server(t).URL
	client := NewClient(url, &http.Client{})
	manager := NewManager(ManagerConfig{ExternalURL: url}, client)
	snapshots := newTestSnapshotStore(t)

	svc := NewService(manager, client, snapshots, "test-session")
	t.Cleanup(func() {
		manager.Stop(context.Background())
	})
	return svc, snapshots
}

func TestService_Exec(t *testing.T) {
	fake := newFakeKernel()
	svc, _ := newTestService(t, fake)

	result, err := svc.Exec(t.Context(), "print('hi')", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", result.Output)
}

func TestService_Exec_EmptyCode(t *testing.T) {
	svc, _ := newTestService(t, newFakeKernel())

	_, err := svc.Exec(t.Context(), "   \n", time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestService_LoadFile(t *testing.T) {
	fake := newFakeKernel()
	svc, _ := newTestService(t, fake)

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0600))

	n, err := svc.LoadFile(t.Context(), path, "raw_csv")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	// The content travels as a JSON string literal inside the
	// assignment.
	var found bool
	for _, call := range fake.execCalls {
		if call.Code == `raw_csv = "a,b\n1,2\n"` {
			found = true
		}
	}
	assert.True(t, found, "expected assignment exec, got %v", fake.execCalls)
}

func TestService_LoadFile_CredentialPathDenied(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	sshDir := filepath.Join(home, ".ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0700))
	keyPath := filepath.Join(sshDir, "id_rsa")
	require.NoError(t, os.WriteFile(keyPath, []byte("secret"), 0600))

	fake := newFakeKernel()
	svc, _ := newTestService(t, fake)

	for _, path := range []string{
		keyPath,
		filepath.Join(home, ".aws", "credentials"),
		filepath.Join(home, ".config", "gcloud", "application_default_credentials.json"),
		filepath.Join(home, ".gnupg", "secring.gpg"),
		"~/.ssh/id_rsa",
	} {
		_, err := svc.LoadFile(t.Context(), path, "v")
		assert.ErrorIs(t, err, domain.ErrBlocked, "path %s", path)
	}
	assert.Empty(t, fake.execCalls, "denied paths never reach the kernel")
}

func TestService_LoadFile_SimilarPrefixAllowed(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	// .ssh-backup shares a prefix with .ssh but is not under it.
	dir := filepath.Join(home, ".ssh-backup")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("fine"), 0600))

	svc, _ := newTestService(t, newFakeKernel())

	n, err := svc.LoadFile(t.Context(), path, "notes")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestService_LoadFile_Missing(t *testing.T) {
	svc, _ := newTestService(t, newFakeKernel())

	_, err := svc.LoadFile(t.Context(), filepath.Join(t.TempDir(), "nope.txt"), "v")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_LoadFile_BadVarName(t *testing.T) {
	svc, _ := newTestService(t, newFakeKernel())

	for _, name := range []string{"", "1x", "a-b", "x y", "os.system"} {
		_, err := svc.LoadFile(t.Context(), "/tmp/whatever", name)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "name %q", name)
	}
}

func TestService_GetVar_Direct(t *testing.T) {
	fake := newFakeKernel()
	fake.vars["x"] = []byte(`[1,2,3]`)
	svc, _ := newTestService(t, fake)

	value, err := svc.GetVar(t.Context(), "x", "")
	require.NoError(t, err)
	assert.Contains(t, value, "1")
}

func TestService_GetVar_Query(t *testing.T) {
	fake := newFakeKernel()
	fake.execFn = func(req execRequest) (domain.ExecResult, int) {
		return domain.ExecResult{Output: "{\n  \"n\": 3\n}\n"}, http.StatusOK
	}
	svc, _ := newTestService(t, fake)

	value, err := svc.GetVar(t.Context(), "df", "len(df)")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"n\": 3\n}", value)

	last := fake.execCalls[len(fake.execCalls)-1]
	assert.Contains(t, last.Code, "len(df)")
}

func TestService_GetVar_QueryError(t *testing.T) {
	fake := newFakeKernel()
	fake.execFn = func(req execRequest) (domain.ExecResult, int) {
		return domain.ExecResult{Stderr: "NameError: name 'df' is not defined"}, http.StatusOK
	}
	svc, _ := newTestService(t, fake)

	_, err := svc.GetVar(t.Context(), "df", "len(df)")
	assert.ErrorIs(t, err, domain.ErrKernelRuntime)
}

func TestService_Vars(t *testing.T) {
	fake := newFakeKernel()
	fake.vars["a"] = []byte(`1`)
	svc, _ := newTestService(t, fake)

	vars, err := svc.Vars(t.Context())
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "a", vars[0].Name)
}

func TestService_Reset(t *testing.T) {
	fake := newFakeKernel()
	svc, snapshots := newTestService(t, fake)
	svc.RegisterHelper("HELPER = True")
	require.NoError(t, snapshots.Save("test-session", "old-state"))

	require.NoError(t, svc.Reset(t.Context()))

	_, err := snapshots.Load("test-session")
	assert.ErrorIs(t, err, domain.ErrNotFound, "reset drops the saved snapshot")

	// The last exec after the namespace clear re-injects the helper.
	last := fake.execCalls[len(fake.execCalls)-1]
	assert.Equal(t, "HELPER = True", last.Code)
}

func TestService_RehydrateOnStart(t *testing.T) {
	fake := newFakeKernel()
	svc, snapshots := newTestService(t, fake)
	svc.RegisterHelper("HELPER = True")
	require.NoError(t, snapshots.Save("test-session", "saved-namespace"))

	_, err := svc.Exec(t.Context(), "pass", time.Second)
	require.NoError(t, err)

	assert.Equal(t, "saved-namespace", fake.snapshot, "start restores the session snapshot")
	assert.Equal(t, "HELPER = True", fake.execCalls[0].Code, "helpers run before user code")
}

func TestService_RehydrateCorruptSnapshot(t *testing.T) {
	fake := newFakeKernel()
	svc, snapshots := newTestService(t, fake)
	require.NoError(t, snapshots.Save("test-session", "corrupt"))

	// A snapshot the kernel rejects must not block startup.
	_, err := svc.Exec(t.Context(), "pass", time.Second)
	require.NoError(t, err)

	_, err = snapshots.Load("test-session")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected snapshot is deleted")
}

func TestService_SaveSnapshot(t *testing.T) {
	fake := newFakeKernel()
	svc, snapshots := newTestService(t, fake)

	// Nothing started yet: nothing to save, no error.
	require.NoError(t, svc.SaveSnapshot(t.Context()))
	_, err := snapshots.Load("test-session")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Exec(t.Context(), "x = 1", time.Second)
	require.NoError(t, err)

	require.NoError(t, svc.SaveSnapshot(t.Context()))
	payload, err := snapshots.Load("test-session")
	require.NoError(t, err)
	assert.Equal(t, "cGF5bG9hZA==", payload)
}

func TestManager_EnsureRunning_StartsOnce(t *testing.T) {
	fake := newFakeKernel()
	url := fake.server(t).URL
	client := NewClient(url, &http.Client{})
	manager := NewManager(ManagerConfig{ExternalURL: url}, client)

	hookRuns := 0
	manager.OnRestart(func(ctx context.Context) error {
		hookRuns++
		return nil
	})

	require.NoError(t, manager.EnsureRunning(t.Context()))
	require.NoError(t, manager.EnsureRunning(t.Context()))

	assert.Equal(t, TierExternal, manager.Tier())
	assert.Equal(t, 1, hookRuns)
	require.NoError(t, manager.Stop(t.Context()))
}

func TestManager_EnsureRunning_RetriesAfterFailure(t *testing.T) {
	fake := newFakeKernel()
	fake.healthy = false
	url := fake.server(t).URL
	client := NewClient(url, &http.Client{})
	manager := NewManager(ManagerConfig{ExternalURL: url}, client)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.Error(t, manager.EnsureRunning(ctx))

	fake.mu.Lock()
	fake.healthy = true
	fake.mu.Unlock()

	assert.NoError(t, manager.EnsureRunning(t.Context()))
	require.NoError(t, manager.Stop(t.Context()))
}

func TestManager_Restart_ReplaysHooksInOrder(t *testing.T) {
	fake := newFakeKernel()
	url := fake.server(t).URL
	client := NewClient(url, &http.Client{})
	manager := NewManager(ManagerConfig{ExternalURL: url}, client)

	var order []string
	manager.OnRestart(func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	manager.OnRestart(func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, manager.EnsureRunning(t.Context()))
	require.NoError(t, manager.Restart(t.Context()))

	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
	require.NoError(t, manager.Stop(t.Context()))
}

func TestManager_StopTwice(t *testing.T) {
	fake := newFakeKernel()
	url := fake.server(t).URL
	client := NewClient(url, &http.Client{})
	manager := NewManager(ManagerConfig{ExternalURL: url}, client)

	require.NoError(t, manager.EnsureRunning(t.Context()))
	require.NoError(t, manager.Stop(t.Context()))
	assert.NoError(t, manager.Stop(t.Context()))
}
