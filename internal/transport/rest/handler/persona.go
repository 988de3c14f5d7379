package handler

import (
	"encoding/json"
	"net/http"

	"github.com/niikun/social-listening/internal/service"
)

const maxPreviewCount = 1000

// PersonaHandler serves persona previews
type PersonaHandler struct {
	generator *service.PersonaGenerator
}

// NewPersonaHandler creates a new persona handler
func NewPersonaHandler(generator *service.PersonaGenerator) *PersonaHandler {
	return &PersonaHandler{generator: generator}
}

// PreviewRequest is the request body for a persona preview
type PreviewRequest struct {
	Count int    `json:"count"`
	Seed  *int64 `json:"seed,omitempty"`
}

// Preview handles POST /v1/personas/preview
func (h *PersonaHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Count < 1 || req.Count > maxPreviewCount {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 1000")
		return
	}

	personas, err := h.generator.Generate(req.Count, req.Seed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"personas": personas})
}
