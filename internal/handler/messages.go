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

// MessageHandler handles message endpoints.
type MessageHandler struct {
	dispatcher *service.Dispatcher
	threads    *service.ThreadStore
	logger     *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(dispatcher *service.Dispatcher, threads *service.ThreadStore, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		dispatcher: dispatcher,
		threads:    threads,
		logger:     log,
	}
}

// Send handles POST /api/v1/threads/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateChannel(req.Channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.dispatcher.Send(r.Context(), thread.ID, req.Channel, req.Content, req.TemplateID)
	if err != nil {
		h.logger.Error("failed to send message",
			zap.String("thread_id", thread.ID),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
