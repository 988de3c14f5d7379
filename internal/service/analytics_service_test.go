package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/model"
)

func rating(v int) *int { return &v }

func analyticsRun() *model.SurveyRun {
	personas := []model.Persona{
		{ID: "P1", Attributes: []model.Attribute{{Name: model.AttrGeneration, Value: "Gen Z"}}},
		{ID: "P2", Attributes: []model.Attribute{{Name: model.AttrGeneration, Value: "Gen Z"}}},
		{ID: "P3", Attributes: []model.Attribute{{Name: model.AttrGeneration, Value: "Boomer"}}},
		{ID: "P4", Attributes: []model.Attribute{{Name: model.AttrGeneration, Value: "Boomer"}}},
	}
	return &model.SurveyRun{
		ID:       "run-1",
		Status:   model.RunCompleted,
		Personas: personas,
		Records: []model.AnswerRecord{
			{PersonaID: "P1", Status: model.StatusOK, Parsed: &model.ParsedAnswer{
				Rating: rating(5), Sentiment: model.SentimentPositive, Rationale: "Cheaper transit helps students and transit riders",
			}},
			{PersonaID: "P2", Status: model.StatusOK, Parsed: &model.ParsedAnswer{
				Rating: rating(4), Sentiment: model.SentimentPositive, Rationale: "The transit plan is good",
			}},
			{PersonaID: "P3", Status: model.StatusOK, Parsed: &model.ParsedAnswer{
				Rating: rating(1), Sentiment: model.SentimentNegative, Rationale: "交通の料金が不安です",
			}},
			{PersonaID: "P4", Status: model.StatusAPIFailed, Error: "boom"},
		},
	}
}

func TestComputeAnalytics(t *testing.T) {
	a := ComputeAnalytics(analyticsRun())

	assert.Equal(t, "run-1", a.RunID)
	assert.Equal(t, 3, a.Analyzed)
	assert.InDelta(t, 0.75, a.ResponseRate, 1e-9)

	assert.Equal(t, 3, a.Rating.Count)
	assert.InDelta(t, 10.0/3.0, a.Rating.Mean, 1e-9)
	assert.Equal(t, map[int]int{5: 1, 4: 1, 1: 1}, a.Rating.Histogram)

	assert.InDelta(t, 200.0/3.0, a.Sentiment.Positive, 1e-9)
	assert.InDelta(t, 100.0/3.0, a.Sentiment.Negative, 1e-9)
	assert.Zero(t, a.Sentiment.Neutral)

	require.NotEmpty(t, a.TopKeywords)
	assert.Equal(t, model.KeywordCount{Word: "transit", Count: 3}, a.TopKeywords[0])
	words := make([]string, 0, len(a.TopKeywords))
	for _, k := range a.TopKeywords {
		words = append(words, k.Word)
	}
	assert.Contains(t, words, "交通")
	assert.Contains(t, words, "料金")
	assert.NotContains(t, words, "the")
	assert.NotContains(t, words, "is")

	require.Len(t, a.ByGeneration, 2)
	assert.Equal(t, "Boomer", a.ByGeneration[0].Group)
	assert.Equal(t, 1, a.ByGeneration[0].Count)
	assert.Equal(t, "Gen Z", a.ByGeneration[1].Group)
	assert.InDelta(t, 4.5, a.ByGeneration[1].MeanRating, 1e-9)
	assert.Equal(t, 2, a.ByGeneration[1].Sentiment[model.SentimentPositive])
}

func TestComputeAnalytics_Empty(t *testing.T) {
	a := ComputeAnalytics(&model.SurveyRun{ID: "empty", Status: model.RunCancelled})
	assert.Zero(t, a.Analyzed)
	assert.Zero(t, a.ResponseRate)
	assert.Empty(t, a.TopKeywords)
	assert.Empty(t, a.ByGeneration)
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"rice", "prices", "rising"}, keywords("Rice prices are rising!"))
	assert.Equal(t, []string{"少子化", "対策", "必要"}, keywords("少子化の対策が必要だ"))
	assert.Equal(t, []string{"スマホ", "値段"}, keywords("スマホの値段"))
}

func TestTopKeywords_TieBreak(t *testing.T) {
	got := topKeywords(map[string]int{"beta": 2, "alpha": 2, "gamma": 1}, 2)
	assert.Equal(t, []model.KeywordCount{{Word: "alpha", Count: 2}, {Word: "beta", Count: 2}}, got)
}

func TestAnalyticsService_RequiresFinishedRun(t *testing.T) {
	s := NewAnalyticsService(nil, zap.NewNop())
	_, err := s.Analyze(context.Background(), &model.SurveyRun{Status: model.RunRunning})
	assert.ErrorIs(t, err, ErrRunNotFinished)

	a, err := s.Analyze(context.Background(), analyticsRun())
	require.NoError(t, err)
	assert.Equal(t, 3, a.Analyzed)
}
