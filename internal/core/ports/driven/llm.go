package driven

import "context"

// Completion is one language-model response together with the token
// usage the provider reported for the call. Usage feeds the callback
// server's ledger; zero values mean the provider sent no metadata.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// LLMService provides language model completions.
//
// Two instances exist in a running host: the main model that drives
// sub-agent reasoning turns, and the smaller sub-model served to the
// kernel through the callback server's /llm_query endpoint.
type LLMService interface {
	// Generate produces a completion from a single prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Completion, error)

	// Chat conducts a multi-turn conversation.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (Completion, error)

	// ModelName returns the name of the model being used.
	ModelName() string

	// Ping validates the service is reachable without running inference.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// GenerateOptions configures text generation behaviour.
type GenerateOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64

	// StopWords are sequences that stop generation when encountered.
	StopWords []string
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures chat behaviour.
type ChatOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64
}
