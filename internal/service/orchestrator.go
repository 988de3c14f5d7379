package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/metrics"
	"github.com/niikun/social-listening/internal/model"
)

const tracerName = "github.com/niikun/social-listening/internal/service"

// TurnEvent reports a persona turn entering a new state
type TurnEvent struct {
	RunID     string             `json:"runId"`
	PersonaID string             `json:"personaId"`
	Index     int                `json:"index"`
	State     model.TurnState    `json:"state"`
	Status    model.AnswerStatus `json:"status,omitempty"`
	At        time.Time          `json:"at"`
}

// ProgressSink receives turn events. Implementations must be safe for
// concurrent use and must not block.
type ProgressSink interface {
	TurnChanged(ev TurnEvent)
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(ev TurnEvent)

func (f ProgressFunc) TurnChanged(ev TurnEvent) { f(ev) }

type nopSink struct{}

func (nopSink) TurnChanged(TurnEvent) {}

// RunOptions are the per-run settings of the orchestrator
type RunOptions struct {
	RunID             string
	ConcurrencyLimit  int
	ModelName         string
	MaxTokens         int
	SearchEnabled     bool
	SearchMaxResults  int
	SearchConcurrency int
	Retry             RetryPolicy
	GracePeriod       time.Duration
	Seed              int64
	Progress          ProgressSink
	// SummarizeSearch fetches once and grounds every persona on one
	// model-written digest of the results
	SummarizeSearch bool
	// Capabilities skips the preflight when the caller already ran one
	Capabilities *model.Capabilities
}

// RunOptionsFrom maps the configuration surface onto RunOptions
func RunOptionsFrom(cfg config.SurveyConfig) RunOptions {
	return RunOptions{
		ConcurrencyLimit:  cfg.ConcurrencyLimit,
		ModelName:         cfg.ModelName,
		MaxTokens:         cfg.MaxTokens,
		SearchEnabled:     cfg.SearchEnabled,
		SearchMaxResults:  cfg.SearchMaxResults,
		SearchConcurrency: cfg.SearchConcurrency,
		SummarizeSearch:   cfg.SearchSummarize,
		Retry: RetryPolicy{
			MaxAttempts: cfg.RetryLimit,
			BaseBackoff: cfg.RetryBackoffBase,
			MaxBackoff:  cfg.RetryBackoffMax,
		},
		GracePeriod: cfg.GracePeriod,
	}
}

func (o RunOptions) withDefaults() RunOptions {
	if o.RunID == "" {
		o.RunID = uuid.New().String()
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = 10
	}
	if o.SearchConcurrency <= 0 {
		o.SearchConcurrency = 32
	}
	if o.SearchMaxResults <= 0 {
		o.SearchMaxResults = 5
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	}
	if o.Progress == nil {
		o.Progress = nopSink{}
	}
	return o
}

// Orchestrator runs one survey question across a persona population
type Orchestrator struct {
	search *SearchService
	client *ModelClient
	parser *ResponseParser
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator. search may be nil, in which case
// enabled search always uses simulated context.
func NewOrchestrator(search *SearchService, client *ModelClient, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		search: search,
		client: client,
		parser: NewResponseParser(),
		tracer: otel.Tracer(tracerName),
		logger: logger.Named("orchestrator"),
	}
}

// Preflight validates model credentials and probes search once. The returned
// error is the model ping failure, if any; it matches ErrConfig when the
// credential is missing or rejected.
func (o *Orchestrator) Preflight(ctx context.Context, searchEnabled bool) (model.Capabilities, error) {
	caps := model.Capabilities{
		Provider:  o.client.Provider(),
		ModelName: o.client.ModelName(),
		CheckedAt: time.Now(),
	}

	err := o.client.Ping(ctx)
	if err != nil {
		caps.ModelError = err.Error()
	} else {
		caps.ModelOK = true
	}

	switch {
	case !searchEnabled:
		caps.SearchMode = model.SearchDisabled
	case o.search == nil:
		caps.SearchMode = model.SearchSimulated
		caps.SearchReason = "no search backend configured"
	default:
		caps.SearchMode, caps.SearchReason = o.search.Probe(ctx)
	}
	return caps, err
}

// runState is shared by every turn of one run
type runState struct {
	runID       string
	question    model.SurveyQuestion
	schema      model.AnswerSchema
	searchQuery string
	searchMode  model.SearchMode
	maxResults  int
	client      *ModelClient
	modelSem    *semaphore.Weighted
	searchSem   *semaphore.Weighted
	sink        ProgressSink
	// shared replaces per-turn fetches when the run is grounded on a summary
	shared *model.SearchContext

	mu      sync.Mutex
	totals  model.RunTotals
	authErr error
	abort   context.CancelCauseFunc
}

// Run asks question of every persona and returns the assembled run. The run
// always has one record per persona in generation order. The error is
// non-nil only for configuration failures and cancellation; the partial run
// is returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, personas []model.Persona, question model.SurveyQuestion, opts RunOptions) (*model.SurveyRun, error) {
	question = question.Normalized()
	if question.Text == "" {
		return nil, fmt.Errorf("%w: question text is required", ErrConfig)
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("%w: at least one persona is required", ErrConfig)
	}
	opts = opts.withDefaults()
	client := o.client.Derive(opts.ModelName, opts.MaxTokens, opts.Retry)

	ctx, span := o.tracer.Start(ctx, "survey.run", trace.WithAttributes(
		attribute.String("run.id", opts.RunID),
		attribute.Int("run.personas", len(personas)),
		attribute.String("model.name", client.ModelName()),
	))
	defer span.End()

	run := &model.SurveyRun{
		ID:        opts.RunID,
		Question:  question,
		Personas:  personas,
		Records:   make([]model.AnswerRecord, len(personas)),
		Status:    model.RunRunning,
		Provider:  client.Provider(),
		ModelName: client.ModelName(),
		Seed:      opts.Seed,
		StartedAt: time.Now(),
	}
	logger := o.logger.With(zap.String("run_id", run.ID))

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	var caps model.Capabilities
	if opts.Capabilities != nil {
		caps = *opts.Capabilities
		if !opts.SearchEnabled {
			caps.SearchMode = model.SearchDisabled
		}
	} else {
		var err error
		caps, err = o.Preflight(ctx, opts.SearchEnabled)
		if err != nil && errors.Is(err, ErrConfig) {
			run.SearchMode = caps.SearchMode
			return o.finish(run, span, logger, fmt.Errorf("preflight failed: %w", err))
		}
		if err != nil {
			logger.Warn("model preflight failed, dispatching anyway", zap.Error(err))
		}
	}
	run.SearchMode = caps.SearchMode
	logger.Info("survey run started",
		zap.Int("personas", len(personas)),
		zap.String("provider", run.Provider),
		zap.String("model", run.ModelName),
		zap.String("search_mode", string(run.SearchMode)),
		zap.Int("concurrency", opts.ConcurrencyLimit))

	dispatchCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	// In-flight turns outlive cancellation by the grace period.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(dispatchCtx, func() {
		if opts.GracePeriod == 0 {
			cancelWork()
			return
		}
		time.AfterFunc(opts.GracePeriod, cancelWork)
	})
	defer stopGrace()

	rs := &runState{
		runID:       run.ID,
		question:    question,
		schema:      question.Schema(),
		searchQuery: SearchQueryFor(question),
		searchMode:  run.SearchMode,
		maxResults:  opts.SearchMaxResults,
		client:      client,
		modelSem:    semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
		searchSem:   semaphore.NewWeighted(int64(opts.SearchConcurrency)),
		sink:        opts.Progress,
		abort:       abort,
	}

	if opts.SummarizeSearch && rs.searchMode != model.SearchDisabled {
		o.groundOnSummary(dispatchCtx, rs, run, logger)
	}

	started := make([]bool, len(personas))
	g := new(errgroup.Group)
	g.SetLimit(opts.ConcurrencyLimit)
	for i := range personas {
		if dispatchCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if dispatchCtx.Err() != nil {
				return nil
			}
			started[i] = true
			rec := o.turn(workCtx, rs, i, personas[i])
			run.Records[i] = rec

			var local model.RunTotals
			local.Add(rec)
			rs.mu.Lock()
			rs.totals.Merge(local)
			rs.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	var skipped model.RunTotals
	for i, p := range personas {
		if started[i] {
			continue
		}
		rec := model.AnswerRecord{
			PersonaID:   p.ID,
			Index:       i,
			Status:      model.StatusSkipped,
			Error:       "run stopped before this persona was dispatched",
			States:      []model.StateChange{{State: model.TurnPending, At: now}},
			CompletedAt: now,
		}
		run.Records[i] = rec
		skipped.Add(rec)
	}
	run.Totals = rs.totals
	run.Totals.Merge(skipped)

	var err error
	switch {
	case rs.authErr != nil:
		err = fmt.Errorf("run aborted: %w", rs.authErr)
	case ctx.Err() != nil:
		err = fmt.Errorf("survey run cancelled: %w", ctx.Err())
	}
	return o.finish(run, span, logger, err)
}

// groundOnSummary digests one search context for the whole run. On failure
// the turns fetch their own snippets as usual.
func (o *Orchestrator) groundOnSummary(ctx context.Context, rs *runState, run *model.SurveyRun, logger *zap.Logger) {
	sc, err := o.fetch(ctx, rs)
	if err != nil {
		return
	}
	summary, err := summarizeSearch(ctx, rs.client, rs.question.Text, &sc)
	if err != nil {
		logger.Warn("search summary failed, personas get raw snippets", zap.Error(err))
		return
	}
	sc.Summary = summary.Text
	rs.shared = &sc
	run.SearchSummary = summary.Text
	rs.totals.AddCall(summary.Usage, summary.CostUSD, summary.Attempts)
	logger.Info("personas grounded on search summary",
		zap.Int("snippets", len(sc.Snippets)),
		zap.Float64("cost_usd", summary.CostUSD))
}

func (o *Orchestrator) finish(run *model.SurveyRun, span trace.Span, logger *zap.Logger, err error) (*model.SurveyRun, error) {
	now := time.Now()
	run.FinishedAt = &now

	switch {
	case err == nil:
		run.Status = model.RunCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = model.RunCancelled
		run.Error = err.Error()
	default:
		run.Status = model.RunFailed
		run.Error = err.Error()
	}

	// A run that fails before dispatch still carries one record per persona.
	for i, rec := range run.Records {
		if rec.PersonaID != "" {
			continue
		}
		rec = model.AnswerRecord{
			PersonaID:   run.Personas[i].ID,
			Index:       i,
			Status:      model.StatusSkipped,
			Error:       run.Error,
			States:      []model.StateChange{{State: model.TurnPending, At: now}},
			CompletedAt: now,
		}
		run.Records[i] = rec
		run.Totals.Add(rec)
	}

	metrics.SurveyRunsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.SurveyRunDuration.Observe(now.Sub(run.StartedAt).Seconds())
	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("run.ok", run.Totals.OK),
		attribute.Int("run.failed", run.Totals.Failed()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}

	logger.Info("survey run finished",
		zap.String("status", string(run.Status)),
		zap.Int("ok", run.Totals.OK),
		zap.Int("parse_failed", run.Totals.ParseFailed),
		zap.Int("api_failed", run.Totals.APIFailed),
		zap.Int("skipped", run.Totals.Skipped),
		zap.Int("tokens", run.Totals.TotalTokens()),
		zap.Float64("cost_usd", run.Totals.CostUSD),
		zap.Duration("duration", now.Sub(run.StartedAt)))
	return run, err
}

// turnTracker enforces the turn state machine and reports every step
type turnTracker struct {
	rs     *runState
	rec    *model.AnswerRecord
	logger *zap.Logger
}

func (t *turnTracker) step(to model.TurnState) {
	from := t.rec.FinalState()
	if len(t.rec.States) > 0 && !model.CanTransition(from, to) {
		t.logger.Error("illegal turn transition",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	change := model.StateChange{State: to, At: time.Now()}
	t.rec.States = append(t.rec.States, change)

	ev := TurnEvent{
		RunID:     t.rs.runID,
		PersonaID: t.rec.PersonaID,
		Index:     t.rec.Index,
		State:     to,
		At:        change.At,
	}
	if to.Terminal() {
		ev.Status = t.rec.Status
	}
	t.rs.sink.TurnChanged(ev)
}

// fail moves the turn to failed from whichever state it is in
func (t *turnTracker) fail(status model.AnswerStatus, err error) {
	t.rec.Status = status
	if err != nil {
		t.rec.Error = err.Error()
	}
	if t.rec.FinalState() == model.TurnPending {
		t.step(model.TurnSearching)
	}
	t.step(model.TurnFailed)
}

// turn runs search, model call and parse for one persona. Every outcome,
// including a panic, becomes a record.
func (o *Orchestrator) turn(ctx context.Context, rs *runState, index int, p model.Persona) (rec model.AnswerRecord) {
	start := time.Now()
	rec = model.AnswerRecord{PersonaID: p.ID, Index: index}
	logger := o.logger.With(zap.String("run_id", rs.runID), zap.String("persona_id", p.ID))
	t := &turnTracker{rs: rs, rec: &rec, logger: logger}

	ctx, span := o.tracer.Start(ctx, "survey.turn", trace.WithAttributes(
		attribute.String("persona.id", p.ID),
		attribute.Int("persona.index", index),
	))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("persona turn panicked", zap.Any("panic", r), zap.Stack("stack"))
			if !rec.FinalState().Terminal() {
				t.fail(model.StatusAPIFailed, fmt.Errorf("internal error: %v", r))
			}
		}
		rec.Latency = time.Since(start)
		rec.CompletedAt = time.Now()
		metrics.PersonaTurnsTotal.WithLabelValues(string(rec.Status)).Inc()
		metrics.PersonaTurnDuration.Observe(rec.Latency.Seconds())
		span.SetAttributes(attribute.String("turn.status", string(rec.Status)), attribute.Int("turn.attempts", rec.Attempts))
		if rec.Status != model.StatusOK {
			span.SetStatus(otelcodes.Error, rec.Error)
		}
		span.End()
	}()

	t.step(model.TurnPending)
	t.step(model.TurnSearching)

	var sc *model.SearchContext
	switch {
	case rs.shared != nil:
		shared := *rs.shared
		sc = &shared
	case rs.searchMode != model.SearchDisabled:
		fetched, err := o.fetch(ctx, rs)
		if err != nil {
			t.fail(model.StatusAPIFailed, err)
			return rec
		}
		sc = &fetched
	}
	if sc != nil {
		rec.Grounded = !sc.Empty()
		rec.SearchSimulated = sc.Simulated
		rec.SnippetCount = len(sc.Snippets)
	}

	t.step(model.TurnAsking)
	res, err := o.ask(ctx, rs, p, sc)
	rec.Attempts = res.Attempts
	if err != nil {
		logger.Warn("model call failed", zap.Int("attempts", res.Attempts), zap.Error(err))
		t.fail(model.StatusAPIFailed, err)
		if errors.Is(err, ErrConfig) {
			rs.mu.Lock()
			if rs.authErr == nil {
				rs.authErr = err
			}
			rs.mu.Unlock()
			rs.abort(err)
		}
		return rec
	}
	rec.RawText = res.Text
	rec.Usage = res.Usage
	rec.CostUSD = res.CostUSD

	t.step(model.TurnParsing)
	parsed, err := o.parser.Parse(res.Text, rs.schema)
	if err != nil {
		metrics.ParseOutcomesTotal.WithLabelValues("failed").Inc()
		logger.Debug("response did not match schema", zap.String("raw", trimRunes(res.Text, 200)))
		t.fail(model.StatusParseFailed, err)
		return rec
	}
	metrics.ParseOutcomesTotal.WithLabelValues(parsed.Strategy).Inc()
	rec.Parsed = &parsed
	rec.Status = model.StatusOK
	t.step(model.TurnCompleted)
	return rec
}

func (o *Orchestrator) fetch(ctx context.Context, rs *runState) (model.SearchContext, error) {
	if err := rs.searchSem.Acquire(ctx, 1); err != nil {
		return model.SearchContext{}, err
	}
	defer rs.searchSem.Release(1)
	if o.search == nil {
		return SimulatedContext(rs.searchQuery, rs.maxResults, "no search backend configured"), nil
	}
	return o.search.Fetch(ctx, rs.searchQuery, rs.maxResults, rs.searchMode), nil
}

func (o *Orchestrator) ask(ctx context.Context, rs *runState, p model.Persona, sc *model.SearchContext) (ModelResult, error) {
	if err := rs.modelSem.Acquire(ctx, 1); err != nil {
		return ModelResult{}, err
	}
	defer rs.modelSem.Release(1)
	return rs.client.Ask(ctx, p, rs.question, sc)
}
