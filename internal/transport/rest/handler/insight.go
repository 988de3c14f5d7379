package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/niikun/social-listening/internal/service"
)

// InsightHandler handles AI narrative report endpoints
type InsightHandler struct {
	runSvc     *service.RunService
	insightSvc *service.InsightService
}

// NewInsightHandler creates a new insight handler
func NewInsightHandler(runSvc *service.RunService, insightSvc *service.InsightService) *InsightHandler {
	return &InsightHandler{runSvc: runSvc, insightSvc: insightSvc}
}

// Generate handles POST /v1/runs/{runId}/insight
func (h *InsightHandler) Generate(w http.ResponseWriter, r *http.Request) {
	run, err := h.runSvc.GetFinished(r.Context(), mux.Vars(r)["runId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	report, err := h.insightSvc.Trigger(r.Context(), run)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

// Get handles GET /v1/runs/{runId}/insight
func (h *InsightHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	if _, err := h.runSvc.Get(r.Context(), runID); err != nil {
		writeServiceError(w, err)
		return
	}

	report, ok := h.insightSvc.Get(runID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_started"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
