package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/config"
)

func simulationConfig() *config.Config {
	ai := &config.AIConfig{
		Provider:     config.ProviderSimulation,
		Model:        "simulation",
		InsightModel: "simulation",
		MaxTokens:    100,
	}
	return &config.Config{AI: ai, Survey: config.DefaultSurveyConfig(ai)}
}

func TestNewEngine_Simulation(t *testing.T) {
	e, err := NewEngine(context.Background(), simulationConfig(), nil, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, string(config.ProviderSimulation), e.Client.Provider())
	assert.Nil(t, e.RunCache)

	seed := int64(3)
	personas, err := e.Generator.Generate(2, &seed)
	require.NoError(t, err)
	assert.Len(t, personas, 2)
}

func TestNewEngine_UnknownProvider(t *testing.T) {
	cfg := simulationConfig()
	cfg.AI.Provider = "anthropic-ish"

	_, err := NewEngine(context.Background(), cfg, nil, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewEngine_GeminiWithoutKey(t *testing.T) {
	cfg := simulationConfig()
	cfg.AI.Provider = config.ProviderGemini

	_, err := NewEngine(context.Background(), cfg, nil, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewEngine_DistributionsFile(t *testing.T) {
	cfg := simulationConfig()
	cfg.Survey.DistributionsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewEngine(context.Background(), cfg, nil, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("genders: [[["), 0o600))
	cfg.Survey.DistributionsFile = path
	_, err = NewEngine(context.Background(), cfg, nil, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}
