package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/service"
	"github.com/niikun/social-listening/internal/transport/rest/middleware"
)

// RunHandler handles survey run endpoints
type RunHandler struct {
	runSvc       *service.RunService
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runSvc *service.RunService, orchestrator *service.Orchestrator, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		runSvc:       runSvc,
		orchestrator: orchestrator,
		logger:       logger.Named("runs_api"),
	}
}

// Preflight handles GET /v1/preflight
func (h *RunHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	caps, err := h.orchestrator.Preflight(r.Context(), h.runSvc.Defaults().SearchEnabled)
	if err != nil {
		h.logger.Warn("preflight failed", zap.Error(err))
		// The capabilities document carries the failure detail either way.
		status := http.StatusOK
		if errors.Is(err, service.ErrConfig) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, caps)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// Start handles POST /v1/runs
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runID, err := h.runSvc.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("operator_id", middleware.GetOperatorID(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// List handles GET /v1/runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runSvc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// Get handles GET /v1/runs/{runId}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.runSvc.Get(r.Context(), mux.Vars(r)["runId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Cancel handles POST /v1/runs/{runId}/cancel
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.runSvc.Cancel(mux.Vars(r)["runId"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Dataset handles GET /v1/runs/{runId}/dataset?format=csv|json
func (h *RunHandler) Dataset(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = service.FormatCSV
	}

	var buf bytes.Buffer
	if err := h.runSvc.Export(r.Context(), runID, format, &buf); err != nil {
		writeServiceError(w, err)
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == service.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="survey_%s.%s"`, runID, format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Analytics handles GET /v1/runs/{runId}/analytics
func (h *RunHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.runSvc.Analytics(r.Context(), mux.Vars(r)["runId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
