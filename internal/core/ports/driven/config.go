package driven

// ConfigStore provides persistent key-value configuration storage.
// Keys use dot notation for nested values (e.g. "llm.model").
type ConfigStore interface {
	// Get retrieves a raw value by key.
	Get(key string) (any, bool)

	// GetString retrieves a string value, or "" if absent.
	GetString(key string) string

	// GetInt retrieves an integer value, or 0 if absent.
	GetInt(key string) int

	// GetBool retrieves a boolean value, or false if absent.
	GetBool(key string) bool

	// GetStringSlice retrieves a string slice value, or nil if absent.
	GetStringSlice(key string) []string

	// Set stores a value and persists immediately.
	Set(key string, value any) error

	// Save persists the current configuration to disk.
	Save() error

	// Load reads configuration from persistent storage.
	Load() error
}
