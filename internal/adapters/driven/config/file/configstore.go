package file

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore persists configuration as TOML under the state directory.
// On disk the file uses nested tables ([main_model], [kernel]) so it stays
// hand-editable; in memory every value is addressed by a dotted key
// ("main_model.provider").
type ConfigStore struct {
	mu       sync.RWMutex
	filePath string
	data     map[string]any
}

// NewConfigStore opens (or initialises) the config file in configDir.
// An empty configDir defaults to ~/.sandbridge.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".sandbridge")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	s := &ConfigStore{
		filePath: filepath.Join(configDir, "config.toml"),
		data:     make(map[string]any),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves a raw value by dotted key.
func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	return val, ok
}

// GetString returns the string at key, or "" when absent or mistyped.
func (s *ConfigStore) GetString(key string) string {
	v, _ := get[string](s, key)
	return v
}

// GetInt returns the integer at key, or 0 when absent or mistyped.
// TOML unmarshals integers as int64, so both widths are accepted.
func (s *ConfigStore) GetInt(key string) int {
	if v, ok := get[int64](s, key); ok {
		return int(v)
	}
	v, _ := get[int](s, key)
	return v
}

// GetBool returns the boolean at key, or false when absent or mistyped.
func (s *ConfigStore) GetBool(key string) bool {
	v, _ := get[bool](s, key)
	return v
}

// GetStringSlice returns the string slice at key, or nil when absent.
// TOML arrays unmarshal as []any, so elements are filtered per item.
func (s *ConfigStore) GetStringSlice(key string) []string {
	if v, ok := get[[]string](s, key); ok {
		return v
	}
	items, ok := get[[]any](s, key)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			result = append(result, str)
		}
	}
	return result
}

func get[T any](s *ConfigStore, key string) (T, bool) {
	var zero T
	raw, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores a value under a dotted key and persists immediately.
func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.save()
}

// Save persists the current configuration to disk.
func (s *ConfigStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save writes the config atomically (caller must hold lock). Dotted keys
// are expanded back into nested tables before marshalling.
func (s *ConfigStore) save() error {
	data, err := toml.Marshal(nestMap(s.data))
	if err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

// Load reads the TOML file, flattening nested tables into dotted keys.
// A missing file is not an error; the store starts empty.
func (s *ConfigStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = make(map[string]any)
			return nil
		}
		return err
	}

	var loaded map[string]any
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return err
	}

	s.data = make(map[string]any)
	flattenInto(s.data, loaded, "")
	return nil
}

// flattenInto converts {"a": {"b": 1}} entries into {"a.b": 1}.
func flattenInto(dst map[string]any, src map[string]any, prefix string) {
	for key, value := range src {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenInto(dst, nested, fullKey)
			continue
		}
		dst[fullKey] = value
	}
}

// nestMap is the inverse of flattenInto: dotted keys become nested maps.
func nestMap(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return root
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}
