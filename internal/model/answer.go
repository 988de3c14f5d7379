package model

import "time"

// AnswerStatus is the outcome of one persona turn
type AnswerStatus string

const (
	StatusOK          AnswerStatus = "ok"
	StatusParseFailed AnswerStatus = "parse_failed"
	StatusAPIFailed   AnswerStatus = "api_failed"
	// StatusSkipped fills slots never dispatched because the run was cancelled
	StatusSkipped AnswerStatus = "skipped"
)

// Sentiment labels
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// TurnState tracks a persona turn through the pipeline
type TurnState string

const (
	TurnPending   TurnState = "pending"
	TurnSearching TurnState = "searching"
	TurnAsking    TurnState = "asking"
	TurnParsing   TurnState = "parsing"
	TurnCompleted TurnState = "completed"
	TurnFailed    TurnState = "failed"
)

var turnTransitions = map[TurnState][]TurnState{
	TurnPending:   {TurnSearching},
	TurnSearching: {TurnAsking, TurnFailed},
	TurnAsking:    {TurnParsing, TurnFailed},
	TurnParsing:   {TurnCompleted, TurnFailed},
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to TurnState) bool {
	for _, next := range turnTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnFailed
}

// StateChange is one entry of a turn's trail
type StateChange struct {
	State TurnState `json:"state" bson:"state"`
	At    time.Time `json:"at" bson:"at"`
}

// Usage is token accounting for one or more model calls
type Usage struct {
	PromptTokens     int  `json:"promptTokens" bson:"promptTokens"`
	CompletionTokens int  `json:"completionTokens" bson:"completionTokens"`
	Estimated        bool `json:"estimated" bson:"estimated"`
}

// Total returns prompt + completion tokens
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates other into a copy of u
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		Estimated:        u.Estimated || other.Estimated,
	}
}

// ParsedAnswer holds the structured fields extracted from model text
type ParsedAnswer struct {
	Rating    *int   `json:"rating,omitempty" bson:"rating,omitempty"`
	Sentiment string `json:"sentiment,omitempty" bson:"sentiment,omitempty"`
	Rationale string `json:"rationale,omitempty" bson:"rationale,omitempty"`
	Strategy  string `json:"strategy,omitempty" bson:"strategy,omitempty"`
}

// AnswerRecord is the per-persona outcome of a survey turn. Immutable once built.
type AnswerRecord struct {
	PersonaID       string        `json:"personaId" bson:"personaId"`
	Index           int           `json:"index" bson:"index"`
	RawText         string        `json:"rawText" bson:"rawText"`
	Parsed          *ParsedAnswer `json:"parsed,omitempty" bson:"parsed,omitempty"`
	Usage           Usage         `json:"usage" bson:"usage"`
	CostUSD         float64       `json:"costUsd" bson:"costUsd"`
	Status          AnswerStatus  `json:"status" bson:"status"`
	Error           string        `json:"error,omitempty" bson:"error,omitempty"`
	Attempts        int           `json:"attempts" bson:"attempts"`
	Latency         time.Duration `json:"latency" bson:"latency"`
	Grounded        bool          `json:"grounded" bson:"grounded"`
	SearchSimulated bool          `json:"searchSimulated" bson:"searchSimulated"`
	SnippetCount    int           `json:"snippetCount" bson:"snippetCount"`
	States          []StateChange `json:"states" bson:"states"`
	CompletedAt     time.Time     `json:"completedAt" bson:"completedAt"`
}

// FinalState returns the last recorded turn state
func (r AnswerRecord) FinalState() TurnState {
	if len(r.States) == 0 {
		return TurnPending
	}
	return r.States[len(r.States)-1].State
}
