// Package metrics provides Prometheus metrics for the survey engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SurveyRunsTotal tracks finished runs by terminal status
	SurveyRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "survey",
			Name:      "runs_total",
			Help:      "Total number of survey runs by terminal status",
		},
		[]string{"status"},
	)

	// SurveyRunDuration tracks wall-clock run duration in seconds
	SurveyRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "social_listening",
			Subsystem: "survey",
			Name:      "run_duration_seconds",
			Help:      "Duration of survey runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// RunsInFlight tracks runs currently dispatching personas
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "social_listening",
			Subsystem: "survey",
			Name:      "runs_in_flight",
			Help:      "Number of survey runs currently executing",
		},
	)

	// PersonaTurnsTotal tracks persona turns by answer status
	PersonaTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "survey",
			Name:      "persona_turns_total",
			Help:      "Total number of persona turns by answer status",
		},
		[]string{"status"},
	)

	// PersonaTurnDuration tracks a single persona pipeline in seconds
	PersonaTurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "social_listening",
			Subsystem: "survey",
			Name:      "persona_turn_duration_seconds",
			Help:      "Duration of persona turns in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// ModelRequestsTotal tracks chat completion attempts
	ModelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "model",
			Name:      "requests_total",
			Help:      "Total number of model call attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ModelRequestDuration tracks a single completion attempt in seconds
	ModelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "social_listening",
			Subsystem: "model",
			Name:      "request_duration_seconds",
			Help:      "Duration of model call attempts in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// ModelTokensTotal tracks prompt and completion tokens
	ModelTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "model",
			Name:      "tokens_total",
			Help:      "Total number of tokens by kind",
		},
		[]string{"provider", "kind"},
	)

	// ModelCostUSD tracks estimated spend
	ModelCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "model",
			Name:      "cost_usd_total",
			Help:      "Estimated model spend in USD",
		},
		[]string{"model"},
	)

	// RateLimitWaitTime tracks time spent waiting for the provider limiter
	RateLimitWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "social_listening",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the provider rate limiter in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// SearchRequestsTotal tracks search fetches by how they were served
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search fetches by result (live, cache_hit, fallback, simulated)",
		},
		[]string{"result"},
	)

	// ParseOutcomesTotal tracks which parser strategy matched
	ParseOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social_listening",
			Subsystem: "parser",
			Name:      "outcomes_total",
			Help:      "Total number of parsed responses by strategy",
		},
		[]string{"strategy"},
	)

	// HTTPRequestDuration tracks REST latency per route template
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "social_listening",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)
