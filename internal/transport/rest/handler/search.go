package handler

import (
	"encoding/json"
	"net/http"

	"github.com/niikun/social-listening/internal/model"
	"github.com/niikun/social-listening/internal/service"
)

// SearchHandler previews the grounding context a question would get
type SearchHandler struct {
	searchSvc  *service.SearchService
	insightSvc *service.InsightService
	maxResults int
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchSvc *service.SearchService, insightSvc *service.InsightService, maxResults int) *SearchHandler {
	return &SearchHandler{searchSvc: searchSvc, insightSvc: insightSvc, maxResults: maxResults}
}

// SearchSummaryResponse pairs the fetched context with its digest
type SearchSummaryResponse struct {
	Context model.SearchContext    `json:"context"`
	Summary *service.SearchSummary `json:"summary"`
}

// Summary handles POST /v1/search/summary
func (h *SearchHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var question model.SurveyQuestion
	if err := json.NewDecoder(r.Body).Decode(&question); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	question = question.Normalized()
	if question.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	mode, _ := h.searchSvc.Probe(r.Context())
	sc := h.searchSvc.Fetch(r.Context(), service.SearchQueryFor(question), h.maxResults, mode)

	summary, err := h.insightSvc.SummarizeSearch(r.Context(), question.Text, &sc)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchSummaryResponse{Context: sc, Summary: summary})
}
