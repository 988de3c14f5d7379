package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/model"
)

func question(text string) model.SurveyQuestion {
	return model.SurveyQuestion{Text: text}
}

func TestRun_WellFormedAnswers(t *testing.T) {
	personas := testPersonas(3)
	require.Equal(t, []string{"P1", "P2", "P3"}, []string{personas[0].ID, personas[1].ID, personas[2].ID})

	o := NewOrchestrator(nil, newTestClient(newFakeCompleter(answering("4/5"))), zap.NewNop())
	run, err := o.Run(context.Background(), personas, question("Do you like product X?"), RunOptions{ConcurrencyLimit: 2})
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, run.Status)
	require.Len(t, run.Records, 3)
	for i, rec := range run.Records {
		assert.Equal(t, personas[i].ID, rec.PersonaID)
		assert.Equal(t, model.StatusOK, rec.Status)
		require.NotNil(t, rec.Parsed)
		require.NotNil(t, rec.Parsed.Rating)
		assert.Equal(t, 4, *rec.Parsed.Rating)
	}
	assert.Equal(t, 3, run.Totals.OK)
	assert.Greater(t, run.Totals.TotalTokens(), 0)
	assert.NotNil(t, run.FinishedAt)
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, call int) (ChatResponse, error) {
		if req.Meta["persona_id"] == "P1" && call <= 2 {
			return ChatResponse{}, transientErr()
		}
		return ChatResponse{Text: "RATING: 4\nANSWER: fine"}, nil
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(2), question("q"), RunOptions{
		ConcurrencyLimit: 2,
		Retry:            RetryPolicy{MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond},
	})
	require.NoError(t, err)

	rec := run.Records[0]
	assert.Equal(t, model.StatusOK, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.GreaterOrEqual(t, rec.Latency, 30*time.Millisecond)
	assert.Equal(t, 3, completer.callsFor("P1"))
	assert.Equal(t, 1, run.Records[1].Attempts)
	assert.Equal(t, 4, run.Totals.Requests)
}

func TestRun_ExhaustedRetriesIsolated(t *testing.T) {
	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, _ int) (ChatResponse, error) {
		if req.Meta["persona_id"] == "P2" {
			return ChatResponse{}, transientErr()
		}
		return ChatResponse{Text: "RATING: 5\nANSWER: great"}, nil
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(4), question("q"), RunOptions{
		ConcurrencyLimit: 2,
		Retry:            RetryPolicy{MaxAttempts: 1},
	})
	require.NoError(t, err)
	require.Len(t, run.Records, 4)

	failed := run.Records[1]
	assert.Equal(t, model.StatusAPIFailed, failed.Status)
	assert.Empty(t, failed.RawText)
	assert.Contains(t, failed.Error, ErrModelCallFailed.Error())
	assert.Equal(t, model.TurnFailed, failed.FinalState())

	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, model.StatusOK, run.Records[i].Status)
		assert.Equal(t, 5, *run.Records[i].Parsed.Rating)
	}
	assert.Equal(t, 3, run.Totals.OK)
	assert.Equal(t, 1, run.Totals.APIFailed)
	assert.Equal(t, model.RunCompleted, run.Status)
}

func TestRun_CompletenessUnderMixedFailures(t *testing.T) {
	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, _ int) (ChatResponse, error) {
		switch req.Meta["persona_id"] {
		case "P3", "P7", "P11":
			return ChatResponse{}, &ProviderError{Kind: KindPermanent, Status: 400, Err: errors.New("bad request")}
		case "P4", "P9":
			return ChatResponse{Text: "no idea"}, nil
		}
		return ChatResponse{Text: `{"rating": 2, "answer": "meh"}`}, nil
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())
	personas := testPersonas(20)

	run, err := o.Run(context.Background(), personas, question("q"), RunOptions{ConcurrencyLimit: 5})
	require.NoError(t, err)
	require.Len(t, run.Records, len(personas))

	for i, rec := range run.Records {
		assert.Equal(t, personas[i].ID, rec.PersonaID)
		assert.Equal(t, i, rec.Index)
		assert.True(t, rec.FinalState().Terminal())
	}
	assert.Equal(t, model.StatusParseFailed, run.Records[3].Status)
	assert.Equal(t, "no idea", run.Records[3].RawText)
	assert.Equal(t, 15, run.Totals.OK)
	assert.Equal(t, 2, run.Totals.ParseFailed)
	assert.Equal(t, 3, run.Totals.APIFailed)
}

func TestRun_StateTrail(t *testing.T) {
	var mu sync.Mutex
	events := map[string][]model.TurnState{}
	sink := ProgressFunc(func(ev TurnEvent) {
		mu.Lock()
		events[ev.PersonaID] = append(events[ev.PersonaID], ev.State)
		mu.Unlock()
	})

	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, _ int) (ChatResponse, error) {
		if req.Meta["persona_id"] == "P2" {
			return ChatResponse{Text: "???"}, nil
		}
		return ChatResponse{Text: "RATING: 3"}, nil
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())
	run, err := o.Run(context.Background(), testPersonas(2), question("q"), RunOptions{Progress: sink})
	require.NoError(t, err)

	states := func(rec model.AnswerRecord) []model.TurnState {
		out := make([]model.TurnState, len(rec.States))
		for i, s := range rec.States {
			out[i] = s.State
		}
		return out
	}
	okTrail := []model.TurnState{model.TurnPending, model.TurnSearching, model.TurnAsking, model.TurnParsing, model.TurnCompleted}
	failTrail := []model.TurnState{model.TurnPending, model.TurnSearching, model.TurnAsking, model.TurnParsing, model.TurnFailed}
	assert.Equal(t, okTrail, states(run.Records[0]))
	assert.Equal(t, failTrail, states(run.Records[1]))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, okTrail, events["P1"])
	assert.Equal(t, failTrail, events["P2"])
}

func TestRun_SearchDisabled(t *testing.T) {
	backend := &fakeBackend{snippets: []model.Snippet{{Title: "t", Excerpt: "e", Rank: 1}}}
	search := NewSearchService(backend, nil, time.Second, zap.NewNop())
	o := NewOrchestrator(search, newTestClient(newFakeCompleter(answering("RATING: 4"))), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(5), question("q"), RunOptions{SearchEnabled: false})
	require.NoError(t, err)

	assert.Equal(t, model.SearchDisabled, run.SearchMode)
	assert.Zero(t, backend.callCount())
	for _, rec := range run.Records {
		assert.False(t, rec.Grounded)
		assert.False(t, rec.SearchSimulated)
		assert.Equal(t, model.StatusOK, rec.Status)
	}
	assert.Zero(t, run.Totals.Grounded)
}

func TestRun_SearchAlwaysFailing(t *testing.T) {
	for name, backend := range map[string]*fakeBackend{
		"probe fails":       {err: errors.New("connection refused")},
		"fetches fail live": {err: errors.New("429 too many requests"), probeOK: true},
	} {
		t.Run(name, func(t *testing.T) {
			search := NewSearchService(backend, nil, time.Second, zap.NewNop())
			o := NewOrchestrator(search, newTestClient(newFakeCompleter(answering("RATING: 4"))), zap.NewNop())

			run, err := o.Run(context.Background(), testPersonas(4), question("new tax policy"), RunOptions{SearchEnabled: true})
			require.NoError(t, err)
			for _, rec := range run.Records {
				assert.True(t, rec.SearchSimulated)
				assert.Equal(t, model.StatusOK, rec.Status)
			}
			assert.Equal(t, 4, run.Totals.Simulated)
		})
	}
}

func TestRun_LiveSearchGroundsRecords(t *testing.T) {
	backend := &fakeBackend{snippets: []model.Snippet{
		{Title: "a", Excerpt: "first", Rank: 1},
		{Title: "b", Excerpt: "second", Rank: 2},
	}}
	search := NewSearchService(backend, nil, time.Second, zap.NewNop())
	o := NewOrchestrator(search, newTestClient(newFakeCompleter(answering("RATING: 4"))), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(3), question("q"), RunOptions{SearchEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, model.SearchLive, run.SearchMode)
	for _, rec := range run.Records {
		assert.True(t, rec.Grounded)
		assert.False(t, rec.SearchSimulated)
		assert.Equal(t, 2, rec.SnippetCount)
	}
}

func TestRun_GroundsOnSearchSummary(t *testing.T) {
	backend := &fakeBackend{snippets: []model.Snippet{
		{Title: "a", Excerpt: "alpha excerpt", Rank: 1},
		{Title: "b", Excerpt: "second", Rank: 2},
	}}
	search := NewSearchService(backend, nil, time.Second, zap.NewNop())

	var mu sync.Mutex
	var prompts []string
	summaries := 0
	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, _ int) (ChatResponse, error) {
		if req.Task == TaskSearchSummary {
			mu.Lock()
			summaries++
			mu.Unlock()
			return ChatResponse{Text: "Digest of the week", Usage: model.Usage{PromptTokens: 40, CompletionTokens: 10}}, nil
		}
		mu.Lock()
		prompts = append(prompts, req.Messages[1].Content)
		mu.Unlock()
		return ChatResponse{Text: "RATING: 4", Usage: model.Usage{PromptTokens: 20, CompletionTokens: 5}}, nil
	})
	o := NewOrchestrator(search, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(3), question("q"), RunOptions{SearchEnabled: true, SummarizeSearch: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summaries)
	assert.Equal(t, "Digest of the week", run.SearchSummary)
	require.Len(t, prompts, 3)
	for _, p := range prompts {
		assert.Contains(t, p, "Digest of the week")
		assert.NotContains(t, p, "alpha excerpt")
	}
	for _, rec := range run.Records {
		assert.True(t, rec.Grounded)
		assert.Equal(t, 2, rec.SnippetCount)
	}

	var turns model.RunTotals
	for _, rec := range run.Records {
		turns.Add(rec)
	}
	assert.Equal(t, turns.PromptTokens+40, run.Totals.PromptTokens)
	assert.Equal(t, turns.CompletionTokens+10, run.Totals.CompletionTokens)
	assert.Equal(t, turns.Requests+1, run.Totals.Requests)
	assert.Greater(t, run.Totals.CostUSD, turns.CostUSD)
}

func TestRun_SearchSummaryFailureFallsBackToSnippets(t *testing.T) {
	backend := &fakeBackend{snippets: []model.Snippet{{Title: "a", Excerpt: "first", Rank: 1}}}
	search := NewSearchService(backend, nil, time.Second, zap.NewNop())
	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, _ int) (ChatResponse, error) {
		if req.Task == TaskSearchSummary {
			return ChatResponse{}, transientErr()
		}
		return ChatResponse{Text: "RATING: 4"}, nil
	})
	o := NewOrchestrator(search, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(2), question("q"), RunOptions{SearchEnabled: true, SummarizeSearch: true})
	require.NoError(t, err)

	assert.Empty(t, run.SearchSummary)
	assert.Equal(t, 2, run.Totals.OK)
	for _, rec := range run.Records {
		assert.True(t, rec.Grounded)
	}
}

func TestRun_PreflightAuthFailure(t *testing.T) {
	completer := newFakeCompleter(answering("RATING: 4"))
	completer.pingErr = &ProviderError{Kind: KindAuth, Status: 401, Err: errors.New("invalid api key")}
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(5), question("q"), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	require.NotNil(t, run)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Len(t, run.Records, 5)
	assert.Equal(t, 5, run.Totals.Skipped)
	assert.Zero(t, completer.totalCalls())
}

func TestRun_AuthFailureMidRunStopsDispatch(t *testing.T) {
	completer := newFakeCompleter(func(context.Context, ChatRequest, int) (ChatResponse, error) {
		return ChatResponse{}, &ProviderError{Kind: KindAuth, Status: 401, Err: errors.New("key revoked")}
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(10), question("q"), RunOptions{ConcurrencyLimit: 1})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, model.RunFailed, run.Status)
	require.Len(t, run.Records, 10)
	assert.Equal(t, model.StatusAPIFailed, run.Records[0].Status)
	assert.Equal(t, 1, completer.totalCalls())
	assert.Equal(t, 9, run.Totals.Skipped)
}

func TestRun_CancellationKeepsPartialRecords(t *testing.T) {
	started := make(chan struct{}, 10)
	completer := newFakeCompleter(func(ctx context.Context, _ ChatRequest, _ int) (ChatResponse, error) {
		started <- struct{}{}
		<-ctx.Done()
		return ChatResponse{}, ctx.Err()
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()

	run, err := o.Run(ctx, testPersonas(6), question("q"), RunOptions{ConcurrencyLimit: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.RunCancelled, run.Status)
	require.Len(t, run.Records, 6)
	assert.Equal(t, 2, run.Totals.APIFailed)
	assert.Equal(t, 4, run.Totals.Skipped)
	for _, rec := range run.Records[2:] {
		assert.Equal(t, model.StatusSkipped, rec.Status)
	}
}

func TestRun_GracePeriodLetsInFlightFinish(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	completer := newFakeCompleter(func(ctx context.Context, _ ChatRequest, _ int) (ChatResponse, error) {
		started <- struct{}{}
		select {
		case <-release:
			return ChatResponse{Text: "RATING: 4"}, nil
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	run, err := o.Run(ctx, testPersonas(6), question("q"), RunOptions{ConcurrencyLimit: 2, GracePeriod: 5 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, run.Totals.OK)
	assert.Equal(t, 4, run.Totals.Skipped)
}

func TestRun_PanicIsIsolated(t *testing.T) {
	completer := newFakeCompleter(func(_ context.Context, req ChatRequest, _ int) (ChatResponse, error) {
		if req.Meta["persona_id"] == "P2" {
			panic("boom")
		}
		return ChatResponse{Text: "RATING: 4"}, nil
	})
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	run, err := o.Run(context.Background(), testPersonas(3), question("q"), RunOptions{ConcurrencyLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAPIFailed, run.Records[1].Status)
	assert.Contains(t, run.Records[1].Error, "boom")
	assert.Equal(t, model.TurnFailed, run.Records[1].FinalState())
	assert.Equal(t, 2, run.Totals.OK)
}

func TestRun_RejectsEmptyInput(t *testing.T) {
	o := NewOrchestrator(nil, newTestClient(newFakeCompleter(answering("4"))), zap.NewNop())

	_, err := o.Run(context.Background(), testPersonas(1), question("   "), RunOptions{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = o.Run(context.Background(), nil, question("q"), RunOptions{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPreflight(t *testing.T) {
	completer := newFakeCompleter(answering("4"))
	o := NewOrchestrator(nil, newTestClient(completer), zap.NewNop())

	caps, err := o.Preflight(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, caps.ModelOK)
	assert.Equal(t, "fake", caps.Provider)
	assert.Equal(t, model.SearchSimulated, caps.SearchMode)

	caps, err = o.Preflight(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, model.SearchDisabled, caps.SearchMode)

	completer.pingErr = &ProviderError{Kind: KindTransient, Err: errors.New("timeout")}
	caps, err = o.Preflight(context.Background(), false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfig)
	assert.False(t, caps.ModelOK)
	assert.NotEmpty(t, caps.ModelError)
}
