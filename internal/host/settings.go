package host

import (
	"os"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
)

// Configuration keys.
const (
	keyMainProvider = "main_model.provider"
	keyMainModel    = "main_model.model"
	keyMainBaseURL  = "main_model.base_url"

	keySubProvider = "sub_model.provider"
	keySubModel    = "sub_model.model"
	keySubBaseURL  = "sub_model.base_url"

	keyEmbedProvider = "embedding.provider"
	keyEmbedModel    = "embedding.model"
	keyEmbedBaseURL  = "embedding.base_url"

	keyKernelPort  = "kernel.port"
	keyKernelImage = "kernel.image"

	keyCallbackPort = "callback.port"
)

// Environment variables holding provider API keys. Keys are read at
// startup and held in memory only; they are never written to config or
// any other file.
const (
	envAnthropicKey = "ANTHROPIC_API_KEY"
	envOpenAIKey    = "OPENAI_API_KEY"
)

// Settings is the resolved host configuration: model endpoints plus
// kernel and callback ports.
type Settings struct {
	MainModel *domain.LLMSettings
	SubModel  *domain.LLMSettings
	Embedding *domain.EmbeddingSettings

	KernelPort   int
	KernelImage  string
	CallbackPort int
}

// LoadSettings builds the resolved settings from the config store and
// the environment. Absent model sections stay nil and the features
// depending on them degrade rather than fail.
func LoadSettings(cfg driven.ConfigStore) Settings {
	s := Settings{
		MainModel: llmSettings(cfg, keyMainProvider, keyMainModel, keyMainBaseURL),
		SubModel:  llmSettings(cfg, keySubProvider, keySubModel, keySubBaseURL),

		KernelPort:   cfg.GetInt(keyKernelPort),
		KernelImage:  cfg.GetString(keyKernelImage),
		CallbackPort: cfg.GetInt(keyCallbackPort),
	}

	if provider := cfg.GetString(keyEmbedProvider); provider != "" {
		s.Embedding = &domain.EmbeddingSettings{
			Provider: domain.AIProvider(provider),
			Model:    cfg.GetString(keyEmbedModel),
			BaseURL:  cfg.GetString(keyEmbedBaseURL),
			APIKey:   apiKeyFor(domain.AIProvider(provider)),
		}
	}

	if s.KernelPort <= 0 {
		s.KernelPort = defaultKernelPort
	}
	if s.KernelImage == "" {
		s.KernelImage = defaultKernelImage
	}
	if s.CallbackPort <= 0 {
		s.CallbackPort = defaultCallbackPort
	}
	return s
}

func llmSettings(cfg driven.ConfigStore, providerKey, modelKey, baseURLKey string) *domain.LLMSettings {
	provider := cfg.GetString(providerKey)
	if provider == "" {
		// Anthropic is the default when a key is present in the
		// environment; otherwise the model stays unconfigured.
		if os.Getenv(envAnthropicKey) == "" {
			return nil
		}
		provider = string(domain.AIProviderAnthropic)
	}
	return &domain.LLMSettings{
		Provider: domain.AIProvider(provider),
		Model:    cfg.GetString(modelKey),
		BaseURL:  cfg.GetString(baseURLKey),
		APIKey:   apiKeyFor(domain.AIProvider(provider)),
	}
}

// apiKeyFor maps a provider to its environment key. Ollama needs none.
func apiKeyFor(provider domain.AIProvider) string {
	switch provider {
	case domain.AIProviderAnthropic:
		return os.Getenv(envAnthropicKey)
	case domain.AIProviderOpenAI:
		return os.Getenv(envOpenAIKey)
	default:
		return ""
	}
}
