package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/niikun/social-listening/internal/metrics"
	"github.com/niikun/social-listening/internal/model"
)

// Request purposes carried in ChatRequest.Task
const (
	TaskPersonaAnswer = "persona_answer"
	TaskInsight       = "insight"
	TaskSearchSummary = "search_summary"
)

// ChatRequest is a provider-neutral chat-completion call
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	// Task and Meta describe the request for providers that answer offline
	Task string
	Meta map[string]string
}

// ChatResponse is the generated text plus provider-reported usage
type ChatResponse struct {
	Text  string
	Usage model.Usage
}

// ChatCompleter is a language-model backend
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Ping validates credentials without generating text
	Ping(ctx context.Context) error
	Name() string
}

// RetryPolicy bounds attempts for transient provider errors.
// MaxAttempts counts the first call, so 1 disables retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Backoff is the wait after the given number of failed attempts
func (p RetryPolicy) Backoff(failed int) time.Duration {
	if failed < 1 || p.BaseBackoff <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(failed-1))) * p.BaseBackoff
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ModelClientOptions configures a ModelClient
type ModelClientOptions struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	ContextWindow int
	Timeout       time.Duration
	RPM           int
	Retry         RetryPolicy
}

// ModelResult is the outcome of a successful model call
type ModelResult struct {
	Text     string
	Usage    model.Usage
	CostUSD  float64
	Attempts int
	Latency  time.Duration
	Prompt   Prompt
}

// ModelClient wraps a ChatCompleter with prompt assembly, rate limiting,
// retries and cost accounting
type ModelClient struct {
	completer ChatCompleter
	builder   *PromptBuilder
	limiter   *rate.Limiter
	opts      ModelClientOptions
	logger    *zap.Logger
}

// NewModelClient creates a model client
func NewModelClient(completer ChatCompleter, opts ModelClientOptions, logger *zap.Logger) *ModelClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 100
	}
	if opts.ContextWindow <= opts.MaxTokens {
		opts.ContextWindow = opts.MaxTokens + 8192
	}
	c := &ModelClient{
		completer: completer,
		builder:   NewPromptBuilder(opts.ContextWindow, opts.MaxTokens),
		opts:      opts,
		logger:    logger.Named("model"),
	}
	if opts.RPM > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RPM)/60.0), 1)
	}
	if _, known := LookupRate(opts.Model); !known {
		c.logger.Warn("no pricing for model, using fallback rate",
			zap.String("model", opts.Model), zap.String("fallback", FallbackRateModel))
	}
	return c
}

// Derive returns a client sharing the completer and rate limiter but with
// per-run model, token and retry settings
func (c *ModelClient) Derive(modelName string, maxTokens int, retry RetryPolicy) *ModelClient {
	opts := c.opts
	if modelName != "" {
		opts.Model = modelName
	}
	if maxTokens > 0 {
		opts.MaxTokens = maxTokens
	}
	opts.Retry = retry
	return &ModelClient{
		completer: c.completer,
		builder:   NewPromptBuilder(opts.ContextWindow, opts.MaxTokens),
		limiter:   c.limiter,
		opts:      opts,
		logger:    c.logger,
	}
}

// Provider names the backing completer
func (c *ModelClient) Provider() string {
	return c.completer.Name()
}

// ModelName is the configured model
func (c *ModelClient) ModelName() string {
	return c.opts.Model
}

// Ping validates credentials once. Auth failures match ErrConfig.
func (c *ModelClient) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if err := c.completer.Ping(pingCtx); err != nil {
		return fmt.Errorf("%s preflight: %w", c.completer.Name(), err)
	}
	return nil
}

// Ask has persona answer question, grounded on sc when non-nil
func (c *ModelClient) Ask(ctx context.Context, persona model.Persona, question model.SurveyQuestion, sc *model.SearchContext) (ModelResult, error) {
	prompt := c.builder.Build(persona, question, sc)
	if prompt.DroppedSnippets > 0 || prompt.DroppedAttributes > 0 {
		c.logger.Debug("prompt truncated to fit budget",
			zap.String("persona_id", persona.ID),
			zap.Int("dropped_snippets", prompt.DroppedSnippets),
			zap.Int("dropped_attributes", prompt.DroppedAttributes))
	}

	meta := persona.AttributeMap()
	meta["persona_id"] = persona.ID
	meta["question"] = question.Text
	req := ChatRequest{
		Model:       c.opts.Model,
		Messages:    prompt.Messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Task:        TaskPersonaAnswer,
		Meta:        meta,
	}

	result, err := c.Complete(ctx, req)
	result.Prompt = prompt
	if err == nil && result.Usage.PromptTokens == 0 {
		result.Usage.PromptTokens = prompt.EstimatedTokens
		result.Usage.Estimated = true
		result.CostUSD = CostFor(c.opts.Model, result.Usage)
	}
	return result, err
}

// Complete sends req with rate limiting and retries. Transient errors are
// retried up to the policy bound; auth errors return immediately and match
// ErrConfig; exhausted retries match ErrModelCallFailed.
func (c *ModelClient) Complete(ctx context.Context, req ChatRequest) (ModelResult, error) {
	if req.Model == "" {
		req.Model = c.opts.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.opts.MaxTokens
	}

	provider := c.completer.Name()
	maxAttempts := c.opts.Retry.attempts()
	start := time.Now()
	result := ModelResult{}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.opts.Retry.Backoff(attempt - 1)
			c.logger.Debug("retrying model call",
				zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts),
				zap.Duration("backoff", backoff), zap.Error(lastErr))
			if err := sleepContext(ctx, backoff); err != nil {
				result.Latency = time.Since(start)
				return result, err
			}
		}
		if err := c.wait(ctx); err != nil {
			result.Latency = time.Since(start)
			return result, err
		}

		result.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		callStart := time.Now()
		resp, err := c.completer.Complete(attemptCtx, req)
		cancel()
		metrics.ModelRequestDuration.WithLabelValues(provider).Observe(time.Since(callStart).Seconds())

		if err == nil {
			metrics.ModelRequestsTotal.WithLabelValues(provider, "ok").Inc()
			usage := resp.Usage
			if usage.CompletionTokens == 0 && resp.Text != "" {
				usage.CompletionTokens = EstimateTokens(resp.Text)
				usage.Estimated = true
			}
			if usage.PromptTokens == 0 && req.Task != TaskPersonaAnswer {
				usage.PromptTokens = estimateMessages(req.Messages)
				usage.Estimated = true
			}
			result.Text = resp.Text
			result.Usage = usage
			result.CostUSD = CostFor(req.Model, usage)
			result.Latency = time.Since(start)
			metrics.ModelTokensTotal.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
			metrics.ModelTokensTotal.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
			metrics.ModelCostUSD.WithLabelValues(req.Model).Add(result.CostUSD)
			return result, nil
		}

		lastErr = err
		kind := kindOf(err)
		metrics.ModelRequestsTotal.WithLabelValues(provider, string(kind)).Inc()

		if ctx.Err() != nil {
			result.Latency = time.Since(start)
			return result, ctx.Err()
		}
		switch kind {
		case KindAuth:
			result.Latency = time.Since(start)
			return result, fmt.Errorf("model authentication failed: %w", err)
		case KindPermanent:
			result.Latency = time.Since(start)
			return result, fmt.Errorf("%w: %v", ErrModelCallFailed, err)
		}
	}

	result.Latency = time.Since(start)
	return result, fmt.Errorf("%w after %d attempts: %v", ErrModelCallFailed, maxAttempts, lastErr)
}

func (c *ModelClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	err := c.limiter.Wait(ctx)
	metrics.RateLimitWaitTime.Observe(time.Since(start).Seconds())
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
