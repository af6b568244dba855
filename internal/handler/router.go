package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetflow/broker-comms/internal/middleware"
	"github.com/fleetflow/broker-comms/internal/service"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// Services are the core components the API exposes.
type Services struct {
	Threads    *service.ThreadStore
	Templates  *service.TemplateStore
	Dispatcher *service.Dispatcher
	Calls      *service.CallRecorder
	FollowUps  *service.FollowUpEngine
	Analytics  *service.AnalyticsAggregator
	Hub        *service.EventHub
	// Replay is nil unless the event bus can replay thread events.
	Replay EventReader
	Checks map[string]ReadinessCheck
}

// RouterConfig holds HTTP-layer settings.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
	AnalyticsCacheTTL time.Duration
}

// NewRouter wires every endpoint onto a chi router.
func NewRouter(cfg RouterConfig, svc Services, log *logger.Logger) http.Handler {
	healthHandler := NewHealthHandler(svc.Checks)
	threadHandler := NewThreadHandler(svc.Threads, svc.Replay, log)
	messageHandler := NewMessageHandler(svc.Dispatcher, svc.Threads, log)
	callHandler := NewCallHandler(svc.Calls, svc.Threads, log)
	templateHandler := NewTemplateHandler(svc.Templates)
	ruleHandler := NewRuleHandler(svc.FollowUps, log)
	analyticsHandler := NewAnalyticsHandler(svc.Analytics, cfg.AnalyticsCacheTTL)
	if svc.Hub != nil {
		svc.Hub.OnEvent(analyticsHandler.Invalidate)
	}
	streamHandler := NewStreamHandler(svc.Threads, svc.Hub, svc.Replay, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSOrigins))
	}

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", threadHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", threadHandler.Get)
				r.Get("/messages", threadHandler.Messages)
				r.Post("/messages", messageHandler.Send)
				r.Get("/calls", callHandler.List)
				r.Post("/calls", callHandler.Make)
				r.Get("/events", threadHandler.Events)
				r.Get("/stream", streamHandler.Stream)
			})
		})

		r.Get("/calls/{id}", callHandler.Get)

		r.Get("/templates", templateHandler.List)
		r.Post("/templates/{id}/render", templateHandler.Render)

		r.Route("/followup/rules", func(r chi.Router) {
			r.Get("/", ruleHandler.List)
			r.With(middleware.RequireScope(middleware.ScopeRulesWrite)).
				Put("/{id}/enabled", ruleHandler.SetEnabled)
		})

		r.Get("/analytics", analyticsHandler.Get)
	})

	return r
}
