package model

import "time"

// RunStatus is the lifecycle state of a survey run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// JPYPerUSD converts run cost for display
const JPYPerUSD = 150.0

// RunTotals aggregates usage and outcome counts across a run.
// Only Add and Merge mutate it.
type RunTotals struct {
	PromptTokens     int     `json:"promptTokens" bson:"promptTokens"`
	CompletionTokens int     `json:"completionTokens" bson:"completionTokens"`
	CostUSD          float64 `json:"costUsd" bson:"costUsd"`
	Requests         int     `json:"requests" bson:"requests"`
	OK               int     `json:"ok" bson:"ok"`
	ParseFailed      int     `json:"parseFailed" bson:"parseFailed"`
	APIFailed        int     `json:"apiFailed" bson:"apiFailed"`
	Skipped          int     `json:"skipped" bson:"skipped"`
	Grounded         int     `json:"grounded" bson:"grounded"`
	Simulated        int     `json:"simulated" bson:"simulated"`
}

// Add folds a single record into the totals
func (t *RunTotals) Add(r AnswerRecord) {
	t.PromptTokens += r.Usage.PromptTokens
	t.CompletionTokens += r.Usage.CompletionTokens
	t.CostUSD += r.CostUSD
	t.Requests += r.Attempts
	switch r.Status {
	case StatusOK:
		t.OK++
	case StatusParseFailed:
		t.ParseFailed++
	case StatusAPIFailed:
		t.APIFailed++
	case StatusSkipped:
		t.Skipped++
	}
	if r.Grounded {
		t.Grounded++
	}
	if r.SearchSimulated {
		t.Simulated++
	}
}

// AddCall folds a model call that is not tied to a persona
func (t *RunTotals) AddCall(u Usage, costUSD float64, attempts int) {
	t.PromptTokens += u.PromptTokens
	t.CompletionTokens += u.CompletionTokens
	t.CostUSD += costUSD
	t.Requests += attempts
}

// Merge folds another aggregator into t
func (t *RunTotals) Merge(o RunTotals) {
	t.PromptTokens += o.PromptTokens
	t.CompletionTokens += o.CompletionTokens
	t.CostUSD += o.CostUSD
	t.Requests += o.Requests
	t.OK += o.OK
	t.ParseFailed += o.ParseFailed
	t.APIFailed += o.APIFailed
	t.Skipped += o.Skipped
	t.Grounded += o.Grounded
	t.Simulated += o.Simulated
}

// TotalTokens returns prompt + completion tokens
func (t RunTotals) TotalTokens() int {
	return t.PromptTokens + t.CompletionTokens
}

// Failed counts every non-ok record
func (t RunTotals) Failed() int {
	return t.ParseFailed + t.APIFailed + t.Skipped
}

// CostJPY is the run cost converted at a fixed rate
func (t RunTotals) CostJPY() float64 {
	return t.CostUSD * JPYPerUSD
}

// SurveyRun is one question asked of a persona population
type SurveyRun struct {
	ID         string         `json:"id" bson:"_id"`
	Question   SurveyQuestion `json:"question" bson:"question"`
	Personas   []Persona      `json:"personas" bson:"personas"`
	Records    []AnswerRecord `json:"records" bson:"records"`
	Totals     RunTotals      `json:"totals" bson:"totals"`
	Status     RunStatus      `json:"status" bson:"status"`
	SearchMode SearchMode     `json:"searchMode" bson:"searchMode"`
	Provider   string         `json:"provider" bson:"provider"`
	ModelName  string         `json:"modelName" bson:"modelName"`
	Seed       int64          `json:"seed" bson:"seed"`
	// SearchSummary is the shared grounding digest, when the run used one
	SearchSummary string     `json:"searchSummary,omitempty" bson:"searchSummary,omitempty"`
	Error         string     `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt     time.Time  `json:"startedAt" bson:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
}

// Finished reports whether the run reached a terminal status
func (r *SurveyRun) Finished() bool {
	return r.Status == RunCompleted || r.Status == RunCancelled || r.Status == RunFailed
}

// RunSummary is the list view of a run
type RunSummary struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Status     RunStatus  `json:"status"`
	Personas   int        `json:"personas"`
	Done       int        `json:"done"`
	Totals     RunTotals  `json:"totals"`
	SearchMode SearchMode `json:"searchMode"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Capabilities is the result of the pre-dispatch probe
type Capabilities struct {
	Provider     string     `json:"provider"`
	ModelName    string     `json:"modelName"`
	ModelOK      bool       `json:"modelOk"`
	ModelError   string     `json:"modelError,omitempty"`
	SearchMode   SearchMode `json:"searchMode"`
	SearchReason string     `json:"searchReason,omitempty"`
	CheckedAt    time.Time  `json:"checkedAt"`
}
