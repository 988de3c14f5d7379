package service

import (
	"strings"

	"github.com/niikun/social-listening/internal/model"
)

// Rate is USD per 1K tokens
type Rate struct {
	InputPer1K  float64 `json:"inputPer1k"`
	OutputPer1K float64 `json:"outputPer1k"`
}

// FallbackRateModel prices models missing from the table
const FallbackRateModel = "gpt-4o-mini"

// DefaultPricing is the fixed rate table used for cost estimates
var DefaultPricing = map[string]Rate{
	"gpt-4o-mini":      {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4o":           {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4.1-mini":     {InputPer1K: 0.0004, OutputPer1K: 0.0016},
	"gpt-3.5-turbo":    {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"gemini-2.0-flash": {InputPer1K: 0.0001, OutputPer1K: 0.0004},
	"gemini-2.5-flash": {InputPer1K: 0.0003, OutputPer1K: 0.0025},
	"gemini-1.5-flash": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	"simulation":       {},
}

// LookupRate finds the rate for a model by exact name, then by the longest
// table key the model name starts with (dated snapshots share a rate)
func LookupRate(modelName string) (Rate, bool) {
	name := strings.ToLower(modelName)
	if r, ok := DefaultPricing[name]; ok {
		return r, true
	}
	best := ""
	for key := range DefaultPricing {
		if strings.HasPrefix(name, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return DefaultPricing[best], true
	}
	return DefaultPricing[FallbackRateModel], false
}

// CostFor converts token usage into a USD estimate
func CostFor(modelName string, u model.Usage) float64 {
	r, _ := LookupRate(modelName)
	return float64(u.PromptTokens)/1000*r.InputPer1K + float64(u.CompletionTokens)/1000*r.OutputPer1K
}
