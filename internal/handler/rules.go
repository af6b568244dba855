package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/middleware"
	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/internal/service"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// RuleHandler handles follow-up rule endpoints.
type RuleHandler struct {
	engine *service.FollowUpEngine
	logger *logger.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(engine *service.FollowUpEngine, log *logger.Logger) *RuleHandler {
	return &RuleHandler{engine: engine, logger: log}
}

// List handles GET /api/v1/followup/rules
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"total": len(rules),
	})
}

// SetEnabled handles PUT /api/v1/followup/rules/{id}/enabled
func (h *RuleHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SetRuleEnabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.engine.SetRuleEnabled(id, req.Enabled)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("follow-up rule toggled",
		zap.String("rule_id", rule.ID),
		zap.Bool("enabled", rule.Enabled),
		zap.String("user_id", middleware.GetUserID(r.Context())),
	)
	writeJSON(w, http.StatusOK, rule)
}
