package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAIEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LLM_PROVIDER", "LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "LLM_MODEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultAIConfig_ProviderResolution(t *testing.T) {
	clearAIEnv(t)
	cfg := DefaultAIConfig()
	assert.Equal(t, ProviderSimulation, cfg.Provider)
	assert.False(t, cfg.IsEnabled())
	assert.Equal(t, "simulation", cfg.Model)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg = DefaultAIConfig()
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.True(t, cfg.IsEnabled())

	t.Setenv("GEMINI_API_KEY", "g-test")
	cfg = DefaultAIConfig()
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, "g-test", cfg.APIKey)

	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "override")
	cfg = DefaultAIConfig()
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "override", cfg.APIKey)
}

func TestAIConfig_ChatEndpoint(t *testing.T) {
	cfg := &AIConfig{BaseURL: "http://localhost:9000/v1/"}
	assert.Equal(t, "http://localhost:9000/v1/chat/completions", cfg.ChatEndpoint())
}

func TestDefaultSurveyConfig_FromEnv(t *testing.T) {
	clearAIEnv(t)
	t.Setenv("PERSONA_COUNT", "25")
	t.Setenv("CONCURRENCY_LIMIT", "4")
	t.Setenv("SEARCH_ENABLED", "false")
	t.Setenv("SEARCH_SUMMARIZE", "true")
	t.Setenv("RETRY_BACKOFF_BASE", "250ms")
	t.Setenv("PERSONA_SEED", "42")

	cfg := DefaultSurveyConfig(DefaultAIConfig())
	assert.Equal(t, 25, cfg.PersonaCount)
	assert.Equal(t, 4, cfg.ConcurrencyLimit)
	assert.False(t, cfg.SearchEnabled)
	assert.True(t, cfg.SearchSummarize)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoffBase)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(42), *cfg.Seed)
	assert.NoError(t, cfg.Validate())
}

func TestSurveyConfig_Validate(t *testing.T) {
	clearAIEnv(t)
	base := DefaultSurveyConfig(DefaultAIConfig())
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *SurveyConfig)
		field  string
	}{
		{"zero personas", func(c *SurveyConfig) { c.PersonaCount = 0 }, "PersonaCount"},
		{"zero concurrency", func(c *SurveyConfig) { c.ConcurrencyLimit = 0 }, "ConcurrencyLimit"},
		{"no model", func(c *SurveyConfig) { c.ModelName = "" }, "ModelName"},
		{"zero retries", func(c *SurveyConfig) { c.RetryLimit = 0 }, "RetryLimit"},
		{"zero search timeout", func(c *SurveyConfig) { c.SearchTimeout = 0 }, "SearchTimeout"},
		{"negative backoff", func(c *SurveyConfig) { c.RetryBackoffBase = -time.Second }, "RetryBackoffBase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
