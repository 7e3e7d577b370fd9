package domain

// AIProvider identifies an AI service provider.
type AIProvider string

// Supported AI providers.
const (
	AIProviderOllama    AIProvider = "ollama"
	AIProviderOpenAI    AIProvider = "openai"
	AIProviderAnthropic AIProvider = "anthropic"
)

// Valid reports whether the provider is supported.
func (p AIProvider) Valid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic:
		return true
	}
	return false
}

// LLMSettings configures one language model endpoint. Two instances
// exist in a running host: the main model driving sub-agent reasoning
// and the smaller sub-model served to kernel code via the callback
// server.
type LLMSettings struct {
	Provider AIProvider
	Model    string
	BaseURL  string

	// APIKey is read from the environment at startup and held in
	// memory only. It is never written to config or any other file.
	APIKey string
}

// IsConfigured reports whether the settings name a usable provider.
func (s *LLMSettings) IsConfigured() bool {
	return s != nil && s.Provider != "" && s.Provider.Valid()
}

// EmbeddingSettings configures the embedding endpoint used by the
// knowledge index. Unconfigured settings leave the index in
// lexical-only mode.
type EmbeddingSettings struct {
	Provider AIProvider
	Model    string
	BaseURL  string
	APIKey   string
}

// IsConfigured reports whether the settings name a usable provider.
func (s *EmbeddingSettings) IsConfigured() bool {
	return s != nil && s.Provider != "" && s.Provider.Valid()
}

// EmbeddingDimensions maps known embedding models to their vector sizes.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		"nomic-embed-text":       768,
		"mxbai-embed-large":      1024,
		"all-minilm":             384,
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}
