package providers

import (
	"fmt"
	"os"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

// knownCompatible maps OpenAI-compatible providers to their default base
// URL and model. They all route through OpenAIClient with a custom BaseURL.
var knownCompatible = map[string]struct {
	baseURL      string
	defaultModel string
	keyEnv       string
	optionalKey  string // used when no key is required (local servers)
}{
	"deepseek": {baseURL: "https://api.deepseek.com/v1", defaultModel: "deepseek-chat", keyEnv: "DEEPSEEK_API_KEY"},
	"groq":     {baseURL: "https://api.groq.com/openai/v1", defaultModel: "llama-3.1-70b-versatile", keyEnv: "GROQ_API_KEY"},
	"ollama":   {baseURL: "http://localhost:11434/v1", defaultModel: "llama3.1", keyEnv: "OLLAMA_API_KEY", optionalKey: "ollama"},
	"lmstudio": {baseURL: "http://localhost:1234/v1", defaultModel: "local-model", keyEnv: "LMSTUDIO_API_KEY", optionalKey: "lm-studio"},
}

// NewLLMClient creates an engine.LLMClient for the named provider.
// Empty apiKey, model or baseURL fall back to environment variables and
// provider defaults.
func NewLLMClient(provider, apiKey, model, baseURL string) (engine.LLMClient, string, error) {
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("OPENAI_MODEL")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, model, nil

	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("ANTHROPIC_MODEL")
		}
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		client, err := NewAnthropicClient(apiKey, model)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, model, nil

	default:
		compat, ok := knownCompatible[provider]
		if !ok {
			return nil, "", fmt.Errorf("unknown provider: %s (supported: openai, anthropic, deepseek, groq, ollama, lmstudio)", provider)
		}
		if apiKey == "" {
			apiKey = os.Getenv(compat.keyEnv)
		}
		if apiKey == "" {
			if compat.optionalKey == "" {
				return nil, "", fmt.Errorf("%s not set", compat.keyEnv)
			}
			apiKey = compat.optionalKey
		}
		if model == "" {
			model = compat.defaultModel
		}
		if baseURL == "" {
			baseURL = compat.baseURL
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
		}
		return client, model, nil
	}
}
