package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
)

const (
	insightMaxAnswers   = 100
	insightAnswerRunes  = 200
	insightMaxTokens    = 3000
	insightTextRunes    = 3600
	insightTimeout      = 2 * time.Minute
	summaryMaxSnippets  = 10
	summaryTitleRunes   = 100
	summaryExcerptRunes = 200
	summaryMaxTokens    = 150
	summaryTextRunes    = 300
	insightTemperature  = 0.3
)

// SearchSummary is a short model-written digest of a search context
type SearchSummary struct {
	Text      string      `json:"text"`
	Usage     model.Usage `json:"usage"`
	CostUSD   float64     `json:"costUsd"`
	Attempts  int         `json:"attempts"`
	Simulated bool        `json:"simulated"`
}

// InsightService writes narrative analyses of finished runs
type InsightService struct {
	client *ModelClient
	logger *zap.Logger

	mu      sync.RWMutex
	reports map[string]*model.InsightReport
}

// NewInsightService creates a new insight service
func NewInsightService(client *ModelClient, logger *zap.Logger) *InsightService {
	return &InsightService{
		client:  client,
		logger:  logger.Named("insight"),
		reports: make(map[string]*model.InsightReport),
	}
}

// Trigger marks the report as generating and builds it in the background.
// A report already generating is returned as is.
func (s *InsightService) Trigger(ctx context.Context, run *model.SurveyRun) (*model.InsightReport, error) {
	if !run.Finished() {
		return nil, ErrRunNotFinished
	}

	s.mu.Lock()
	if existing, ok := s.reports[run.ID]; ok && existing.Status == model.InsightGenerating {
		copied := *existing
		s.mu.Unlock()
		return &copied, nil
	}
	pending := &model.InsightReport{RunID: run.ID, Status: model.InsightGenerating}
	s.reports[run.ID] = pending
	s.mu.Unlock()

	go func() {
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insightTimeout)
		defer cancel()
		if _, err := s.generate(bgCtx, run, pending); err != nil {
			s.logger.Warn("insight generation failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()

	copied := *pending
	return &copied, nil
}

// Generate builds the report synchronously and stores it
func (s *InsightService) Generate(ctx context.Context, run *model.SurveyRun) (*model.InsightReport, error) {
	return s.generate(ctx, run, nil)
}

// generate stores its result unconditionally when pending is nil. Otherwise
// the result only replaces pending, so a run forgotten mid-generation stays
// forgotten.
func (s *InsightService) generate(ctx context.Context, run *model.SurveyRun, pending *model.InsightReport) (*model.InsightReport, error) {
	if !run.Finished() {
		return nil, ErrRunNotFinished
	}

	report := &model.InsightReport{
		RunID:     run.ID,
		Simulated: s.client.Provider() == string(config.ProviderSimulation),
	}

	answers := okRationales(run)
	if len(answers) == 0 {
		report.Status = model.InsightFailed
		report.Error = "no successful answers to analyze"
		s.store(report, pending)
		return report, fmt.Errorf("%w: %s", ErrNoAnswers, run.ID)
	}

	res, err := s.client.Complete(ctx, ChatRequest{
		Messages:    []ChatMessage{{Role: RoleUser, Content: insightPrompt(run.Question.Text, answers)}},
		Temperature: insightTemperature,
		MaxTokens:   insightMaxTokens,
		Task:        TaskInsight,
		Meta:        map[string]string{"question": run.Question.Text},
	})
	report.Usage = res.Usage
	report.CostUSD = res.CostUSD
	if err != nil {
		report.Status = model.InsightFailed
		report.Error = err.Error()
		s.store(report, pending)
		return report, err
	}

	now := time.Now()
	report.Status = model.InsightReady
	report.Text = trimRunes(res.Text, insightTextRunes)
	report.GeneratedAt = &now
	s.store(report, pending)

	s.logger.Info("insight report ready",
		zap.String("run_id", run.ID),
		zap.Int("answers", len(answers)),
		zap.Float64("cost_usd", report.CostUSD))
	return report, nil
}

// Get returns the stored report for a run
func (s *InsightService) Get(runID string) (*model.InsightReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[runID]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// Forget drops a report when its run leaves the registry
func (s *InsightService) Forget(runID string) {
	s.mu.Lock()
	delete(s.reports, runID)
	s.mu.Unlock()
}

// SummarizeSearch asks the model for a short digest of the search context
func (s *InsightService) SummarizeSearch(ctx context.Context, question string, sc *model.SearchContext) (*SearchSummary, error) {
	return summarizeSearch(ctx, s.client, question, sc)
}

func summarizeSearch(ctx context.Context, client *ModelClient, question string, sc *model.SearchContext) (*SearchSummary, error) {
	if sc.Empty() {
		return nil, fmt.Errorf("%w: no search results to summarize", ErrSearchUnavailable)
	}

	res, err := client.Complete(ctx, ChatRequest{
		Messages:    []ChatMessage{{Role: RoleUser, Content: searchSummaryPrompt(question, sc.Snippets)}},
		Temperature: insightTemperature,
		MaxTokens:   summaryMaxTokens,
		Task:        TaskSearchSummary,
		Meta:        map[string]string{"question": question},
	})
	if err != nil {
		return nil, err
	}
	return &SearchSummary{
		Text:      trimRunes(res.Text, summaryTextRunes),
		Usage:     res.Usage,
		CostUSD:   res.CostUSD,
		Attempts:  res.Attempts,
		Simulated: client.Provider() == string(config.ProviderSimulation) || sc.Simulated,
	}, nil
}

func (s *InsightService) store(r, pending *model.InsightReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending != nil && s.reports[r.RunID] != pending {
		return
	}
	s.reports[r.RunID] = r
}

func okRationales(run *model.SurveyRun) []string {
	var out []string
	for _, rec := range run.Records {
		if rec.Status != model.StatusOK || rec.Parsed == nil {
			continue
		}
		text := rec.Parsed.Rationale
		if text == "" {
			text = rec.RawText
		}
		out = append(out, trimRunes(text, insightAnswerRunes))
		if len(out) == insightMaxAnswers {
			break
		}
	}
	return out
}

func insightPrompt(question string, answers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following are %d survey answers to the question: %q\n\n", len(answers), question)
	for i, a := range answers {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a)
	}
	b.WriteString("\nWrite an analysis report with these sections:\n")
	b.WriteString("[Key themes] the main arguments and points of conflict\n")
	b.WriteString("[Differences by group] how views vary across generations and backgrounds\n")
	b.WriteString("[Implications] what decision makers should take away\n")
	return b.String()
}

func searchSummaryPrompt(question string, snippets []model.Snippet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the recent news related to %q in under 300 characters.\n\n", question)
	for i, sn := range snippets {
		if i == summaryMaxSnippets {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", trimRunes(sn.Title, summaryTitleRunes), trimRunes(sn.Excerpt, summaryExcerptRunes))
	}
	return b.String()
}
