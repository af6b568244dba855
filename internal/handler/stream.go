package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/internal/service"
	"github.com/fleetflow/broker-comms/pkg/logger"
	"github.com/fleetflow/broker-comms/pkg/metrics"
)

const streamBuffer = 64

// StreamHandler handles SSE streaming of thread events.
type StreamHandler struct {
	threads   *service.ThreadStore
	hub       *service.EventHub
	replay    EventReader
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler. replay may be nil, in
// which case streams start with live events only.
func NewStreamHandler(threads *service.ThreadStore, hub *service.EventHub, replay EventReader, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		threads:   threads,
		hub:       hub,
		replay:    replay,
		heartbeat: 30 * time.Second,
		logger:    log,
	}
}

// Stream handles GET /api/v1/threads/{id}/stream
// Supports ?after_sequence=N to replay missed events before going live.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	thread, ok := ownedThread(w, r, h.threads, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("cannot clear stream write deadline", zap.Error(err))
	}

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := h.hub.Subscribe(thread.ID, streamBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	log := h.logger.WithThread(thread.ID)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"thread_id": thread.ID,
	})

	var replayed map[string]struct{}
	if h.replay != nil && r.URL.Query().Has("after_sequence") {
		replayed = h.replayEvents(w, r, flusher, thread, log)
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case event, open := <-live:
			if !open {
				return
			}
			// Events published during replay arrive on both paths.
			if _, seen := replayed[event.ID]; seen {
				continue
			}
			if err := sendSSEEvent(w, flusher, "event", event); err != nil {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func (h *StreamHandler) replayEvents(w http.ResponseWriter, r *http.Request, flusher http.Flusher, thread *model.Thread, log *logger.Logger) map[string]struct{} {
	afterSequence := queryUint(r, "after_sequence")
	lastSequence := afterSequence
	seen := make(map[string]struct{})

	for {
		events, last, hasMore, err := h.replay.ThreadEvents(r.Context(), thread.BrokerID, thread.ID, afterSequence, 50)
		if err != nil {
			log.Error("failed to replay thread events", zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay thread events",
			})
			break
		}
		for _, event := range events {
			sendSSEEvent(w, flusher, "event", event)
			seen[event.ID] = struct{}{}
		}
		lastSequence = last
		if !hasMore || len(events) == 0 {
			break
		}
		afterSequence = last
	}

	sendSSEEvent(w, flusher, "replay_complete", &model.ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   len(seen),
	})
	log.Info("thread event replay complete",
		zap.Int("events_replayed", len(seen)),
		zap.Uint64("last_sequence", lastSequence),
	)
	return seen
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
