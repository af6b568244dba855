package handler

import (
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fleetflow/broker-comms/internal/middleware"
	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/internal/service"
)

// AnalyticsHandler serves per-broker analytics. Results are cached per
// broker because each computation replays every thread the broker owns.
type AnalyticsHandler struct {
	aggregator *service.AnalyticsAggregator
	cache      *gocache.Cache
	maxAge     string
}

// NewAnalyticsHandler creates a handler caching results for ttl. A zero ttl
// disables caching.
func NewAnalyticsHandler(aggregator *service.AnalyticsAggregator, ttl time.Duration) *AnalyticsHandler {
	h := &AnalyticsHandler{aggregator: aggregator, maxAge: "no-store"}
	if ttl > 0 {
		h.cache = gocache.New(ttl, 2*ttl)
		h.maxAge = fmt.Sprintf("private, max-age=%d", int(ttl.Seconds()))
	}
	return h
}

// Invalidate drops the cached analytics of the event's broker. It is
// registered on the event hub so new messages and calls show up at once.
func (h *AnalyticsHandler) Invalidate(event model.ThreadEvent) {
	if h.cache != nil {
		h.cache.Delete(event.BrokerID)
	}
}

// Get handles GET /api/v1/analytics
func (h *AnalyticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	brokerID := middleware.GetBrokerID(r.Context())
	w.Header().Set("Cache-Control", h.maxAge)

	if h.cache != nil {
		if cached, ok := h.cache.Get(brokerID); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached.(*model.Analytics))
			return
		}
	}

	analytics := h.aggregator.Compute(brokerID)
	if h.cache != nil {
		h.cache.SetDefault(brokerID, analytics)
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, analytics)
}
