package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/cache"
	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
	"github.com/niikun/social-listening/internal/repository"
)

// Dataset export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

const (
	archiveTimeout  = 10 * time.Second
	snapshotEvery   = 10
	defaultHistory  = 50
	defaultRunLimit = 50
)

// RunPublisher emits finished runs to a message bus
type RunPublisher interface {
	PublishRun(ctx context.Context, run *model.SurveyRun) error
}

// RunStores are the optional collaborators of a RunService. Nil fields are skipped.
type RunStores struct {
	Repo        repository.RunRepo
	Cache       cache.RunCache
	Publisher   RunPublisher
	Broadcaster Broadcaster
	Insights    *InsightService
}

// StartRequest asks for a new run. Nil overrides keep the configured defaults.
type StartRequest struct {
	Question         model.SurveyQuestion `json:"question"`
	PersonaCount     *int                 `json:"personaCount,omitempty"`
	Seed             *int64               `json:"seed,omitempty"`
	ConcurrencyLimit *int                 `json:"concurrencyLimit,omitempty"`
	SearchEnabled    *bool                `json:"searchEnabled,omitempty"`
	SummarizeSearch  *bool                `json:"summarizeSearch,omitempty"`
	ModelName        string               `json:"modelName,omitempty"`
	MaxTokens        *int                 `json:"maxTokens,omitempty"`
	RetryLimit       *int                 `json:"retryLimit,omitempty"`
}

// Resolve applies the overrides to defaults and validates the result
func (r StartRequest) Resolve(defaults config.SurveyConfig) (config.SurveyConfig, error) {
	cfg := defaults
	if r.PersonaCount != nil {
		cfg.PersonaCount = *r.PersonaCount
	}
	if r.Seed != nil {
		seed := *r.Seed
		cfg.Seed = &seed
	}
	if r.ConcurrencyLimit != nil {
		cfg.ConcurrencyLimit = *r.ConcurrencyLimit
	}
	if r.SearchEnabled != nil {
		cfg.SearchEnabled = *r.SearchEnabled
	}
	if r.SummarizeSearch != nil {
		cfg.SearchSummarize = *r.SummarizeSearch
	}
	if r.ModelName != "" {
		cfg.ModelName = r.ModelName
	}
	if r.MaxTokens != nil {
		cfg.MaxTokens = *r.MaxTokens
	}
	if r.RetryLimit != nil {
		cfg.RetryLimit = *r.RetryLimit
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := config.ValidateStruct(r.Question.Normalized()); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type runEntry struct {
	run    *model.SurveyRun
	done   int
	cancel context.CancelFunc
	finish chan struct{}
}

func (e *runEntry) summary() model.RunSummary {
	r := e.run
	s := model.RunSummary{
		ID:         r.ID,
		Question:   r.Question.Text,
		Status:     r.Status,
		Personas:   len(r.Personas),
		Done:       e.done,
		Totals:     r.Totals,
		SearchMode: r.SearchMode,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Finished() {
		s.Done = s.Personas
	}
	return s
}

// RunService starts survey runs in the background and keeps a bounded
// registry of recent runs
type RunService struct {
	orchestrator *Orchestrator
	generator    *PersonaGenerator
	analytics    *AnalyticsService
	defaults     config.SurveyConfig
	history      int
	stores       RunStores
	logger       *zap.Logger

	mu    sync.RWMutex
	runs  map[string]*runEntry
	order []string
	wg    sync.WaitGroup
}

// NewRunService creates a new run service. history bounds the number of
// finished runs kept in memory.
func NewRunService(
	orchestrator *Orchestrator,
	generator *PersonaGenerator,
	analytics *AnalyticsService,
	defaults config.SurveyConfig,
	history int,
	stores RunStores,
	logger *zap.Logger,
) *RunService {
	if history <= 0 {
		history = defaultHistory
	}
	return &RunService{
		orchestrator: orchestrator,
		generator:    generator,
		analytics:    analytics,
		defaults:     defaults,
		history:      history,
		stores:       stores,
		logger:       logger.Named("runs"),
		runs:         make(map[string]*runEntry),
	}
}

// Defaults returns the configured survey options
func (s *RunService) Defaults() config.SurveyConfig {
	return s.defaults
}

// Start validates req, generates the personas and dispatches the run in the
// background. The returned ID is immediately visible to Get and List.
func (s *RunService) Start(ctx context.Context, req StartRequest) (string, error) {
	cfg, err := req.Resolve(s.defaults)
	if err != nil {
		return "", err
	}
	question := req.Question.Normalized()

	seed := ResolveSeed(cfg.Seed)
	personas, err := s.generator.Generate(cfg.PersonaCount, &seed)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	opts := RunOptionsFrom(cfg)
	opts.RunID = runID
	opts.Seed = seed

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &runEntry{
		run: &model.SurveyRun{
			ID:        runID,
			Question:  question,
			Personas:  personas,
			Status:    model.RunRunning,
			ModelName: cfg.ModelName,
			Seed:      opts.Seed,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		finish: make(chan struct{}),
	}
	opts.Progress = ProgressFunc(func(ev TurnEvent) { s.onTurn(entry, ev) })

	s.mu.Lock()
	s.runs[runID] = entry
	s.order = append(s.order, runID)
	s.evictLocked()
	s.mu.Unlock()

	s.logger.Info("run accepted",
		zap.String("run_id", runID),
		zap.Int("personas", len(personas)),
		zap.Bool("search", cfg.SearchEnabled))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		run, err := s.orchestrator.Run(runCtx, personas, question, opts)
		s.complete(entry, run, err)
	}()
	return runID, nil
}

func (s *RunService) onTurn(entry *runEntry, ev TurnEvent) {
	var snapshot *model.RunSummary
	if ev.State.Terminal() {
		s.mu.Lock()
		entry.done++
		if entry.done%snapshotEvery == 0 {
			sum := entry.summary()
			snapshot = &sum
		}
		s.mu.Unlock()
	}

	if b := s.stores.Broadcaster; b != nil {
		b.BroadcastRunEvent(ev.RunID, MsgTurnState, ev)
	}
	if snapshot != nil && s.stores.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.stores.Cache.SetSummary(ctx, snapshot); err != nil {
			s.logger.Debug("failed to cache progress", zap.String("run_id", ev.RunID), zap.Error(err))
		}
	}
}

func (s *RunService) complete(entry *runEntry, run *model.SurveyRun, err error) {
	s.mu.Lock()
	if run == nil {
		// rejected before dispatch
		now := time.Now()
		run = entry.run
		run.Status = model.RunFailed
		run.FinishedAt = &now
	}
	if err != nil && run.Error == "" {
		run.Error = err.Error()
	}
	entry.run = run
	summary := entry.summary()
	close(entry.finish)
	s.mu.Unlock()

	logger := s.logger.With(zap.String("run_id", run.ID))
	if err != nil {
		logger.Warn("run ended with error", zap.String("status", string(run.Status)), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if s.stores.Cache != nil {
		if err := s.stores.Cache.SetSummary(ctx, &summary); err != nil {
			logger.Warn("failed to cache run summary", zap.Error(err))
		}
	}
	if s.stores.Repo != nil {
		if err := s.stores.Repo.Save(ctx, run); err != nil {
			logger.Error("failed to archive run", zap.Error(err))
		}
	}
	if s.stores.Publisher != nil {
		if err := s.stores.Publisher.PublishRun(ctx, run); err != nil {
			logger.Error("failed to publish run", zap.Error(err))
		}
	}
	if b := s.stores.Broadcaster; b != nil {
		b.BroadcastRunEvent(run.ID, MsgRunCompleted, summary)
		b.CloseRun(run.ID)
	}
}

// evictLocked drops the oldest finished runs beyond the history bound.
// Running entries are never evicted.
func (s *RunService) evictLocked() {
	excess := len(s.order) - s.history
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		entry := s.runs[id]
		if excess > 0 && entry.run.Finished() {
			delete(s.runs, id)
			if s.stores.Insights != nil {
				s.stores.Insights.Forget(id)
			}
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Get returns a run from the registry, falling back to the archive
func (s *RunService) Get(ctx context.Context, runID string) (*model.SurveyRun, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	var run *model.SurveyRun
	if ok {
		copied := *entry.run
		run = &copied
	}
	s.mu.RUnlock()
	if ok {
		return run, nil
	}

	if s.stores.Repo != nil {
		archived, err := s.stores.Repo.GetByID(ctx, runID)
		if err != nil {
			return nil, err
		}
		if archived != nil {
			return archived, nil
		}
	}
	return nil, ErrRunNotFound
}

// GetFinished is Get restricted to runs in a terminal status
func (s *RunService) GetFinished(ctx context.Context, runID string) (*model.SurveyRun, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Finished() {
		return nil, ErrRunNotFinished
	}
	return run, nil
}

// Summary returns the progress view of one run
func (s *RunService) Summary(ctx context.Context, runID string) (model.RunSummary, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	var sum model.RunSummary
	if ok {
		sum = entry.summary()
	}
	s.mu.RUnlock()
	if ok {
		return sum, nil
	}

	if s.stores.Cache != nil {
		cached, err := s.stores.Cache.GetSummary(ctx, runID)
		if err == nil && cached != nil {
			return *cached, nil
		}
	}
	run, err := s.Get(ctx, runID)
	if err != nil {
		return model.RunSummary{}, err
	}
	return (&runEntry{run: run}).summary(), nil
}

// List returns run summaries, newest first. Archived runs fill in behind
// the in-memory registry.
func (s *RunService) List(ctx context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	out := make([]model.RunSummary, 0, len(s.runs))
	seen := make(map[string]bool, len(s.runs))
	for _, entry := range s.runs {
		out = append(out, entry.summary())
		seen[entry.run.ID] = true
	}
	s.mu.RUnlock()

	if s.stores.Repo != nil {
		archived, err := s.stores.Repo.ListRecent(ctx, defaultRunLimit)
		if err != nil {
			s.logger.Warn("failed to list archived runs", zap.Error(err))
		}
		for _, run := range archived {
			if seen[run.ID] {
				continue
			}
			sum := (&runEntry{run: run}).summary()
			if sum.Personas == 0 {
				sum.Personas = run.Totals.OK + run.Totals.Failed()
				sum.Done = sum.Personas
			}
			out = append(out, sum)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Cancel stops dispatching new turns. In-flight turns get the grace period.
func (s *RunService) Cancel(runID string) error {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	var finished bool
	if ok {
		finished = entry.run.Finished()
	}
	s.mu.RUnlock()

	if !ok {
		return ErrRunNotFound
	}
	if finished {
		return ErrRunFinished
	}
	s.logger.Info("cancelling run", zap.String("run_id", runID))
	entry.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx is done
func (s *RunService) Wait(ctx context.Context, runID string) (*model.SurveyRun, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return s.GetFinished(ctx, runID)
	}

	select {
	case <-entry.finish:
		return s.Get(ctx, runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Export writes the dataset of a finished run in the given format
func (s *RunService) Export(ctx context.Context, runID, format string, w io.Writer) error {
	if format != FormatCSV && format != FormatJSON {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	run, err := s.GetFinished(ctx, runID)
	if err != nil {
		return err
	}
	if format == FormatCSV {
		return WriteCSV(w, run)
	}
	return WriteJSON(w, run)
}

// Analytics computes, or loads from cache, the analytics of a finished run
func (s *RunService) Analytics(ctx context.Context, runID string) (*model.RunAnalytics, error) {
	run, err := s.GetFinished(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.analytics.Analyze(ctx, run)
}

// Shutdown cancels every running run and waits for them to finish
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, entry := range s.runs {
		if !entry.run.Finished() {
			entry.cancel()
		}
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("runs still finishing at shutdown"), ctx.Err())
	}
}
