package config

import (
	"os"
	"strings"
	"time"
)

// Provider identifies which chat-completion backend answers persona prompts
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
	ProviderSimulation Provider = "simulation"
)

// AIConfig holds all language-model configuration
type AIConfig struct {
	Provider      Provider      `json:"provider"`
	APIKey        string        `json:"-"` // Never serialize
	BaseURL       string        `json:"baseUrl"`
	Model         string        `json:"model"`
	InsightModel  string        `json:"insightModel"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"maxTokens"`
	ContextWindow int           `json:"contextWindow"`
	Timeout       time.Duration `json:"timeout"`
	RPM           int           `json:"rpm"`
}

// DefaultAIConfig returns the AI configuration resolved from the environment.
// Without an explicit LLM_PROVIDER the first configured key wins: Gemini, then
// OpenAI, then the offline simulation provider.
func DefaultAIConfig() *AIConfig {
	provider := Provider(strings.ToLower(os.Getenv("LLM_PROVIDER")))
	if provider == "" {
		switch {
		case os.Getenv("GEMINI_API_KEY") != "":
			provider = ProviderGemini
		case os.Getenv("OPENAI_API_KEY") != "":
			provider = ProviderOpenAI
		default:
			provider = ProviderSimulation
		}
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		switch provider {
		case ProviderGemini:
			apiKey = os.Getenv("GEMINI_API_KEY")
		case ProviderOpenAI:
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	model := getEnvOrDefault("LLM_MODEL", defaultModel(provider))

	return &AIConfig{
		Provider:      provider,
		APIKey:        apiKey,
		BaseURL:       getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		Model:         model,
		InsightModel:  getEnvOrDefault("LLM_INSIGHT_MODEL", model),
		Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.9),
		MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 100),
		ContextWindow: getEnvInt("LLM_CONTEXT_WINDOW", 8192),
		Timeout:       getEnvDuration("MODEL_TIMEOUT", 45*time.Second),
		RPM:           getEnvInt("MODEL_RPM", 0),
	}
}

// IsEnabled returns true if a live provider is selected and has a credential
func (c *AIConfig) IsEnabled() bool {
	return c.Provider != ProviderSimulation && c.APIKey != ""
}

// ChatEndpoint returns the chat-completions URL for OpenAI-compatible providers
func (c *AIConfig) ChatEndpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
}

func defaultModel(p Provider) string {
	switch p {
	case ProviderGemini:
		return "gemini-2.0-flash"
	case ProviderSimulation:
		return "simulation"
	default:
		return "gpt-4o-mini"
	}
}
