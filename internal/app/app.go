package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/cache"
	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/service"
)

const searchCacheTTL = time.Hour

// Engine is the survey pipeline wired from configuration. It is shared by
// cmd/server and cmd/survey.
type Engine struct {
	Config       *config.Config
	Client       *service.ModelClient
	Search       *service.SearchService
	Orchestrator *service.Orchestrator
	Generator    *service.PersonaGenerator
	Analytics    *service.AnalyticsService
	Insights     *service.InsightService
	// RunCache is nil without Redis
	RunCache cache.RunCache

	closers []func() error
}

// NewEngine builds the pipeline. rdb is optional; when set it backs the
// search result cache and the run snapshot cache.
func NewEngine(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (*Engine, error) {
	e := &Engine{Config: cfg}

	completer, closer, err := newCompleter(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}

	retry := service.RetryPolicy{
		MaxAttempts: cfg.Survey.RetryLimit,
		BaseBackoff: cfg.Survey.RetryBackoffBase,
		MaxBackoff:  cfg.Survey.RetryBackoffMax,
	}
	e.Client = service.NewModelClient(completer, service.ModelClientOptions{
		Model:         cfg.AI.Model,
		Temperature:   cfg.AI.Temperature,
		MaxTokens:     cfg.AI.MaxTokens,
		ContextWindow: cfg.AI.ContextWindow,
		Timeout:       cfg.AI.Timeout,
		RPM:           cfg.AI.RPM,
		Retry:         retry,
	}, logger)

	var searchCache cache.SearchCache
	if rdb != nil {
		searchCache = cache.NewSearchCache(rdb, searchCacheTTL)
		e.RunCache = cache.NewRunCache(rdb)
	}
	e.Search = service.NewSearchService(service.NewDuckDuckGoBackend("", "jp-jp"), searchCache, cfg.Survey.SearchTimeout, logger)

	e.Generator, err = NewGenerator(cfg.Survey)
	if err != nil {
		e.Close()
		return nil, err
	}
	if path := cfg.Survey.DistributionsFile; path != "" {
		logger.Info("loaded persona distributions", zap.String("path", path))
	}

	e.Orchestrator = service.NewOrchestrator(e.Search, e.Client, logger)
	e.Analytics = service.NewAnalyticsService(e.RunCache, logger)
	e.Insights = service.NewInsightService(e.Client.Derive(cfg.AI.InsightModel, 0, retry), logger)

	logger.Info("survey engine ready",
		zap.String("provider", e.Client.Provider()),
		zap.String("model", e.Client.ModelName()),
		zap.Bool("live_model", cfg.AI.IsEnabled()),
		zap.Bool("redis", rdb != nil))
	return e, nil
}

// NewGenerator creates the persona generator, reading the distributions
// file when one is configured
func NewGenerator(cfg config.SurveyConfig) (*service.PersonaGenerator, error) {
	if cfg.DistributionsFile == "" {
		return service.NewPersonaGenerator(nil), nil
	}
	demo, err := service.LoadDemographics(cfg.DistributionsFile)
	if err != nil {
		return nil, err
	}
	return service.NewPersonaGenerator(demo), nil
}

// Close releases provider connections
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newCompleter(ctx context.Context, ai *config.AIConfig) (service.ChatCompleter, func() error, error) {
	switch ai.Provider {
	case config.ProviderGemini:
		g, err := service.NewGeminiCompleter(ctx, ai.APIKey, ai.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case config.ProviderOpenAI:
		return service.NewOpenAICompleter(ai), nil, nil
	case config.ProviderSimulation:
		return service.NewSimulationCompleter(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown LLM_PROVIDER %q", config.ErrInvalid, ai.Provider)
	}
}
