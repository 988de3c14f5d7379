package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niikun/social-listening/internal/model"
)

func TestRunMessages(t *testing.T) {
	four := 4
	run := &model.SurveyRun{
		ID:       "run-42",
		Question: model.SurveyQuestion{Text: "Do you ride the bus?"},
		Status:   model.RunCompleted,
		Personas: make([]model.Persona, 2),
		Records: []model.AnswerRecord{
			{PersonaID: "P1", Index: 0, Status: model.StatusOK, Parsed: &model.ParsedAnswer{Rating: &four, Sentiment: "positive", Rationale: "daily"}},
			{PersonaID: "P2", Index: 1, Status: model.StatusAPIFailed},
		},
		Totals: model.RunTotals{OK: 1, APIFailed: 1},
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	msgs, err := runMessages(context.Background(), run, now)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for _, m := range msgs {
		assert.Equal(t, "run-42", string(m.Key))
	}

	var summary RunEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &summary))
	assert.Equal(t, TypeRunCompleted, summary.Type)
	assert.Equal(t, 2, summary.Personas)
	assert.Equal(t, 1, summary.Totals.OK)
	assert.Equal(t, now, summary.Timestamp)

	var first AnswerEvent
	require.NoError(t, json.Unmarshal(msgs[1].Value, &first))
	assert.Equal(t, "P1", first.PersonaID)
	require.NotNil(t, first.Rating)
	assert.Equal(t, 4, *first.Rating)

	var second AnswerEvent
	require.NoError(t, json.Unmarshal(msgs[2].Value, &second))
	assert.Equal(t, model.StatusAPIFailed, second.Status)
	assert.Nil(t, second.Rating)
	assert.Equal(t, TypeAnswer, string(msgs[2].Headers[len(msgs[2].Headers)-1].Value))
}
