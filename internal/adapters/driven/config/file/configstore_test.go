package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*ConfigStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestNewConfigStore_Path(t *testing.T) {
	store, dir := newTestStore(t)
	assert.Equal(t, filepath.Join(dir, "config.toml"), store.Path())
}

func TestConfigStore_SetAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Set("kernel.image", "sandbridge-kernel"))

	val, ok := store.Get("kernel.image")
	assert.True(t, ok)
	assert.Equal(t, "sandbridge-kernel", val)

	_, ok = store.Get("kernel.missing")
	assert.False(t, ok)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Set("main_model.provider", "anthropic"))
	require.NoError(t, store.Set("kernel.port", 9000))
	require.NoError(t, store.Set("kernel.container", true))

	assert.Equal(t, "anthropic", store.GetString("main_model.provider"))
	assert.Equal(t, 9000, store.GetInt("kernel.port"))
	assert.True(t, store.GetBool("kernel.container"))

	// Absent and mistyped keys return zero values.
	assert.Equal(t, "", store.GetString("missing"))
	assert.Equal(t, 0, store.GetInt("main_model.provider"))
	assert.False(t, store.GetBool("kernel.port"))
}

func TestConfigStore_GetStringSlice(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Set("fetch.blocklist", []string{"internal.example.com"}))
	assert.Equal(t, []string{"internal.example.com"}, store.GetStringSlice("fetch.blocklist"))

	// TOML round-trips arrays as []any with mixed elements filtered.
	store.mu.Lock()
	store.data["mixed"] = []any{"a", 1, "b"}
	store.mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, store.GetStringSlice("mixed"))

	assert.Nil(t, store.GetStringSlice("missing"))
}

func TestConfigStore_DottedKeysPersistAsTables(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Set("main_model.provider", "anthropic"))
	require.NoError(t, store.Set("main_model.model", "claude-sonnet-4-5"))
	require.NoError(t, store.Set("kernel.port", 9000))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[main_model]")
	assert.Contains(t, string(data), "[kernel]")
	assert.NotContains(t, string(data), `"main_model.provider"`)

	// A fresh store flattens the tables back into dotted keys.
	reopened, err := NewConfigStore(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", reopened.GetString("main_model.provider"))
	assert.Equal(t, "claude-sonnet-4-5", reopened.GetString("main_model.model"))
	assert.Equal(t, 9000, reopened.GetInt("kernel.port"))
}

func TestConfigStore_IntWidths(t *testing.T) {
	store, _ := newTestStore(t)

	// TOML unmarshals integers as int64.
	store.mu.Lock()
	store.data["wide"] = int64(8081)
	store.mu.Unlock()

	assert.Equal(t, 8081, store.GetInt("wide"))
}

func TestConfigStore_MissingFileStartsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	val, ok := store.Get("anything")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestConfigStore_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("# comment only\n"), 0600))

	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	_, ok := store.Get("anything")
	assert.False(t, ok)
}

func TestNewConfigStore_CorruptTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not toml {{{["), 0600))

	store, err := NewConfigStore(dir)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Set("key", "value"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_Overwrite(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Set("embedding.provider", "ollama"))
	require.NoError(t, store.Set("embedding.provider", "openai"))
	assert.Equal(t, "openai", store.GetString("embedding.provider"))
}

func TestConfigStore_SaveIsAtomic(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Set("key", "value"))

	// No temp file should survive a successful save.
	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestConfigStore_ConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(t)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			key := "worker." + string(rune('a'+id))
			_ = store.Set(key, id)
			_ = store.GetInt(key)
			_, _ = store.Get(key)
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
