package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/model"
)

func TestSimulationCompleter_AnswersParse(t *testing.T) {
	client := NewModelClient(NewSimulationCompleter(), ModelClientOptions{Model: "simulation"}, zap.NewNop())
	parser := NewResponseParser()
	q := model.SurveyQuestion{Text: "What do you think of the new childcare support measures?"}

	for _, p := range testPersonas(30) {
		res, err := client.Ask(context.Background(), p, q, nil)
		require.NoError(t, err)
		assert.Zero(t, res.CostUSD)

		parsed, err := parser.Parse(res.Text, q.Schema())
		require.NoError(t, err, res.Text)
		assert.Equal(t, StrategyMarkers, parsed.Strategy)
		require.NotNil(t, parsed.Rating)
		if p.Attr(model.AttrStance) != "indifferent" {
			// "support" and "measure" read as a positive question
			assert.GreaterOrEqual(t, *parsed.Rating, 4, p.ID)
		}
	}
}

func TestSimulationCompleter_Deterministic(t *testing.T) {
	s := NewSimulationCompleter()
	req := ChatRequest{Task: TaskPersonaAnswer, Meta: map[string]string{
		"persona_id":               "P7",
		"question":                 "Is the economy improving?",
		model.AttrGeneration:       "Millennial",
		model.AttrStance:           "skeptical",
		model.AttrPoliticalLeaning: "moderate",
	}}

	a, err := s.Complete(context.Background(), req)
	require.NoError(t, err)
	b, err := s.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSimulationCompleter_Tasks(t *testing.T) {
	s := NewSimulationCompleter()

	insight, err := s.Complete(context.Background(), ChatRequest{Task: TaskInsight})
	require.NoError(t, err)
	assert.Contains(t, insight.Text, "[Key themes]")

	summary, err := s.Complete(context.Background(), ChatRequest{Task: TaskSearchSummary, Meta: map[string]string{"question": "rice prices"}})
	require.NoError(t, err)
	assert.Contains(t, summary.Text, "rice prices")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Complete(ctx, ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
