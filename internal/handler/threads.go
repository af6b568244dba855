package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/middleware"
	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/internal/service"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// EventReader replays a thread's published events from the event bus.
type EventReader interface {
	ThreadEvents(ctx context.Context, brokerID, threadID string, afterSequence uint64, limit int) ([]model.ThreadEvent, uint64, bool, error)
}

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	threads *service.ThreadStore
	events  EventReader
	logger  *logger.Logger
}

// NewThreadHandler creates a new thread handler. events may be nil when the
// event bus cannot replay.
func NewThreadHandler(threads *service.ThreadStore, events EventReader, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		threads: threads,
		events:  events,
		logger:  log,
	}
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threads := h.threads.List(middleware.GetBrokerID(r.Context()), model.ThreadFilter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Search:   q.Get("search"),
		LoadID:   q.Get("load_id"),
	})

	writeJSON(w, http.StatusOK, &model.ListThreadsResponse{
		Threads: threads,
		Total:   len(threads),
	})
}

// Get handles GET /api/v1/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// Messages handles GET /api/v1/threads/{id}/messages
func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": thread.Messages,
		"total":    len(thread.Messages),
	})
}

// Events handles GET /api/v1/threads/{id}/events
func (h *ThreadHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event replay is not enabled")
		return
	}
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	afterSequence := queryUint(r, "after_sequence")
	limit := queryInt(r, "limit", 50, 1, 100)

	events, last, hasMore, err := h.events.ThreadEvents(r.Context(), thread.BrokerID, thread.ID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to replay thread events", zap.String("thread_id", thread.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to replay thread events")
		return
	}

	writeJSON(w, http.StatusOK, &model.ThreadEventsResponse{
		Events:       events,
		LastSequence: last,
		HasMore:      hasMore,
	})
}
