package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]TurnState{
		{TurnPending, TurnSearching},
		{TurnSearching, TurnAsking},
		{TurnAsking, TurnParsing},
		{TurnParsing, TurnCompleted},
		{TurnSearching, TurnFailed},
		{TurnAsking, TurnFailed},
		{TurnParsing, TurnFailed},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]TurnState{
		{TurnPending, TurnAsking},
		{TurnPending, TurnFailed},
		{TurnSearching, TurnParsing},
		{TurnSearching, TurnCompleted},
		{TurnAsking, TurnCompleted},
		{TurnCompleted, TurnFailed},
		{TurnFailed, TurnPending},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.True(t, TurnCompleted.Terminal())
	assert.True(t, TurnFailed.Terminal())
	assert.False(t, TurnParsing.Terminal())
}

func TestRunTotals_AddAndMerge(t *testing.T) {
	var a, b RunTotals
	a.Add(AnswerRecord{Status: StatusOK, Usage: Usage{PromptTokens: 10, CompletionTokens: 5}, CostUSD: 0.01, Attempts: 1, Grounded: true})
	a.Add(AnswerRecord{Status: StatusParseFailed, Usage: Usage{PromptTokens: 8, CompletionTokens: 2}, Attempts: 2})
	b.Add(AnswerRecord{Status: StatusAPIFailed, Attempts: 3, Grounded: true, SearchSimulated: true})
	b.Add(AnswerRecord{Status: StatusSkipped})

	a.Merge(b)
	assert.Equal(t, 18, a.PromptTokens)
	assert.Equal(t, 7, a.CompletionTokens)
	assert.Equal(t, 25, a.TotalTokens())
	assert.Equal(t, 6, a.Requests)
	assert.Equal(t, 1, a.OK)
	assert.Equal(t, 1, a.ParseFailed)
	assert.Equal(t, 1, a.APIFailed)
	assert.Equal(t, 1, a.Skipped)
	assert.Equal(t, 3, a.Failed())
	assert.Equal(t, 2, a.Grounded)
	assert.Equal(t, 1, a.Simulated)
	assert.InDelta(t, 1.5, a.CostJPY(), 1e-9)
}

func TestSurveyQuestion_Schema(t *testing.T) {
	s := SurveyQuestion{Text: "Do you like product X?"}.Schema()
	assert.Equal(t, FormatRating, s.Format)
	assert.Equal(t, 100, s.MaxLength)
	assert.Equal(t, 1, s.RatingMin)
	assert.Equal(t, 5, s.RatingMax)
	assert.True(t, s.RequiresRating())

	s = SurveyQuestion{Text: "q", Format: FormatFreeText, RatingMin: 0, RatingMax: 10, MaxLength: 40}.Schema()
	assert.False(t, s.RequiresRating())
	assert.Equal(t, 0, s.RatingMin)
	assert.Equal(t, 10, s.RatingMax)
	assert.Equal(t, 40, s.MaxLength)
}

func TestPersona_Attr(t *testing.T) {
	p := Persona{ID: "P1", Attributes: []Attribute{{AttrAge, "34"}, {AttrGeneration, "Millennial"}}}
	assert.Equal(t, "34", p.Attr(AttrAge))
	assert.Equal(t, "", p.Attr(AttrRegion))
	assert.Equal(t, map[string]string{AttrAge: "34", AttrGeneration: "Millennial"}, p.AttributeMap())
}

func TestAnswerRecord_FinalState(t *testing.T) {
	assert.Equal(t, TurnPending, AnswerRecord{}.FinalState())
	r := AnswerRecord{States: []StateChange{{State: TurnPending}, {State: TurnSearching}, {State: TurnFailed}}}
	assert.Equal(t, TurnFailed, r.FinalState())
}
