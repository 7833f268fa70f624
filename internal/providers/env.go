package providers

import (
	"context"
	"os"
	"strings"

	"github.com/vrikshahq/vriksha/internal/observability"
)

// compatTarget describes an OpenAI-compatible provider bootstrapped from an
// environment variable. A missing key simply leaves the adapter unregistered.
type compatTarget struct {
	id           string
	name         string
	envKey       string
	baseURL      string
	defaultModel string
}

var compatTargets = []compatTarget{
	{id: "openai", name: "OpenAI", envKey: "OPENAI_API_KEY", defaultModel: "gpt-4o"},
	{id: "xai", name: "xAI", envKey: "XAI_API_KEY", baseURL: "https://api.x.ai/v1", defaultModel: "grok-3"},
	{id: "groq", name: "Groq", envKey: "GROQ_API_KEY", baseURL: "https://api.groq.com/openai/v1", defaultModel: "llama-3.3-70b-versatile"},
	{id: "cerebras", name: "Cerebras", envKey: "CEREBRAS_API_KEY", baseURL: "https://api.cerebras.ai/v1", defaultModel: "llama-3.3-70b"},
	{id: "mistral", name: "Mistral", envKey: "MISTRAL_API_KEY", baseURL: "https://api.mistral.ai/v1", defaultModel: "mistral-large-latest"},
	{id: "deepseek", name: "DeepSeek", envKey: "DEEPSEEK_API_KEY", baseURL: "https://api.deepseek.com/v1", defaultModel: "deepseek-chat"},
	{id: "openrouter", name: "OpenRouter", envKey: "OPENROUTER_API_KEY", baseURL: "https://openrouter.ai/api/v1", defaultModel: "openrouter/auto"},
	{id: "together", name: "Together", envKey: "TOGETHER_API_KEY", baseURL: "https://api.together.xyz/v1", defaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo"},
}

// FromEnv builds a registry from environment variables. Providers whose API
// key is absent are skipped rather than registered in a broken state. Ollama
// is always registered since a local server needs no credentials.
func FromEnv(logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx := context.Background()
	registry := NewRegistry()

	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		adapter, err := NewAnthropicAdapter(AnthropicConfig{APIKey: key})
		if err != nil {
			logger.Warn(ctx, "skipping anthropic adapter", "error", err)
		} else {
			registry.Register(adapter)
		}
	}

	for _, target := range compatTargets {
		key := strings.TrimSpace(os.Getenv(target.envKey))
		if key == "" {
			continue
		}
		adapter, err := NewOpenAIAdapter(OpenAICompatConfig{
			ID:           target.id,
			Name:         target.name,
			APIKey:       key,
			BaseURL:      target.baseURL,
			DefaultModel: target.defaultModel,
		})
		if err != nil {
			logger.Warn(ctx, "skipping adapter", "provider", target.id, "error", err)
			continue
		}
		registry.Register(adapter)
	}

	registry.Register(NewOllamaAdapter(OllamaConfig{
		BaseURL:      os.Getenv("OLLAMA_HOST"),
		DefaultModel: os.Getenv("OLLAMA_MODEL"),
	}))

	logger.Info(ctx, "providers registered", "ids", registry.IDs())
	return registry
}
