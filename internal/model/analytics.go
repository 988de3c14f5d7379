package model

import "time"

// KeywordCount is one entry of the keyword frequency table
type KeywordCount struct {
	Word  string `json:"word" bson:"word"`
	Count int    `json:"count" bson:"count"`
}

// SentimentBreakdown holds percentages (0-100) over analyzed answers
type SentimentBreakdown struct {
	Positive float64 `json:"positive" bson:"positive"`
	Negative float64 `json:"negative" bson:"negative"`
	Neutral  float64 `json:"neutral" bson:"neutral"`
}

// RatingStats summarizes the rating column
type RatingStats struct {
	Count     int         `json:"count" bson:"count"`
	Mean      float64     `json:"mean" bson:"mean"`
	Histogram map[int]int `json:"histogram" bson:"histogram"` // value -> count
}

// GroupBreakdown is the per-segment view (e.g. per generation label)
type GroupBreakdown struct {
	Group      string         `json:"group" bson:"group"`
	Count      int            `json:"count" bson:"count"`
	MeanRating float64        `json:"meanRating" bson:"meanRating"`
	Sentiment  map[string]int `json:"sentiment" bson:"sentiment"` // label -> count
}

// RunAnalytics is the deterministic analysis of a finished run
type RunAnalytics struct {
	RunID        string             `json:"runId" bson:"runId"`
	Analyzed     int                `json:"analyzed" bson:"analyzed"`
	ResponseRate float64            `json:"responseRate" bson:"responseRate"` // ok / total
	TopKeywords  []KeywordCount     `json:"topKeywords" bson:"topKeywords"`
	Sentiment    SentimentBreakdown `json:"sentiment" bson:"sentiment"`
	Rating       RatingStats        `json:"rating" bson:"rating"`
	ByGeneration []GroupBreakdown   `json:"byGeneration" bson:"byGeneration"`
	ComputedAt   time.Time          `json:"computedAt" bson:"computedAt"`
}

// InsightStatus tracks async narrative analysis
type InsightStatus string

const (
	InsightGenerating InsightStatus = "generating"
	InsightReady      InsightStatus = "ready"
	InsightFailed     InsightStatus = "failed"
)

// InsightReport is the model-written narrative analysis of a run
type InsightReport struct {
	RunID       string        `json:"runId" bson:"runId"`
	Status      InsightStatus `json:"status" bson:"status"`
	Text        string        `json:"text,omitempty" bson:"text,omitempty"`
	Usage       Usage         `json:"usage" bson:"usage"`
	CostUSD     float64       `json:"costUsd" bson:"costUsd"`
	Simulated   bool          `json:"simulated" bson:"simulated"`
	Error       string        `json:"error,omitempty" bson:"error,omitempty"`
	GeneratedAt *time.Time    `json:"generatedAt,omitempty" bson:"generatedAt,omitempty"`
}
