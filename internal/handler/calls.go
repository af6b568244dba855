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

// CallHandler handles voice call endpoints.
type CallHandler struct {
	recorder *service.CallRecorder
	threads  *service.ThreadStore
	logger   *logger.Logger
}

// NewCallHandler creates a new call handler.
func NewCallHandler(recorder *service.CallRecorder, threads *service.ThreadStore, log *logger.Logger) *CallHandler {
	return &CallHandler{
		recorder: recorder,
		threads:  threads,
		logger:   log,
	}
}

// Make handles POST /api/v1/threads/{id}/calls. The call is returned in its
// provisional state; it completes in the background.
func (h *CallHandler) Make(w http.ResponseWriter, r *http.Request) {
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req model.MakeCallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidatePhoneNumber(req.ToNumber); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateScript(req.Script); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	call, err := h.recorder.MakeCall(r.Context(), thread.ID, req.ToNumber, req.Script)
	if err != nil {
		h.logger.Error("failed to place call", zap.String("thread_id", thread.ID), zap.Error(err))
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/calls/"+call.ID)
	writeJSON(w, http.StatusAccepted, call)
}

// Get handles GET /api/v1/calls/{id}
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	call, err := h.recorder.GetCall(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Calls inherit ownership from their thread.
	thread, err := h.threads.Get(call.ThreadID)
	if err != nil || thread.BrokerID != middleware.GetBrokerID(r.Context()) {
		writeError(w, http.StatusNotFound, model.ErrCallNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, call)
}

// List handles GET /api/v1/threads/{id}/calls
func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	calls := h.recorder.ListCalls(thread.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"total": len(calls),
	})
}
