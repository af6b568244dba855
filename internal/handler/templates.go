package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetflow/broker-comms/internal/middleware"
	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/internal/service"
)

// TemplateHandler handles template endpoints. Templates are shared by all
// brokers.
type TemplateHandler struct {
	templates *service.TemplateStore
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(templates *service.TemplateStore) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// List handles GET /api/v1/templates
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	templates := h.templates.List(r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": templates,
		"total":     len(templates),
	})
}

// Render handles POST /api/v1/templates/{id}/render
func (h *TemplateHandler) Render(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RenderTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rendered, err := h.templates.Process(id, req.Variables)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rendered)
}
