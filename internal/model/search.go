package model

import "time"

// SearchMode is decided once per run by the capability probe
type SearchMode string

const (
	SearchLive      SearchMode = "live"
	SearchSimulated SearchMode = "simulated"
	SearchDisabled  SearchMode = "disabled"
)

// Snippet is one search hit. Lower Rank is more relevant.
type Snippet struct {
	Title   string `json:"title" bson:"title"`
	URL     string `json:"url" bson:"url"`
	Excerpt string `json:"excerpt" bson:"excerpt"`
	Rank    int    `json:"rank" bson:"rank"`
}

// SearchContext is the grounding material for a single survey turn. When
// Summary is set, prompts carry it instead of the snippet list.
type SearchContext struct {
	Query          string    `json:"query" bson:"query"`
	Snippets       []Snippet `json:"snippets" bson:"snippets"`
	Simulated      bool      `json:"simulated" bson:"simulated"`
	FallbackReason string    `json:"fallbackReason,omitempty" bson:"fallbackReason,omitempty"`
	Summary        string    `json:"summary,omitempty" bson:"summary,omitempty"`
	FetchedAt      time.Time `json:"fetchedAt" bson:"fetchedAt"`
}

// Empty reports whether there is anything to ground on
func (c *SearchContext) Empty() bool {
	return c == nil || len(c.Snippets) == 0
}
