package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/finchat/assistant/internal/config"
	"github.com/finchat/assistant/internal/handler"
	"github.com/finchat/assistant/internal/middleware"
	"github.com/finchat/assistant/pkg/logger"
)

type routes struct {
	health   *handler.HealthHandler
	chat     *handler.ChatHandler
	realtime *handler.RealtimeHandler
}

func newRouter(cfg config.Config, h routes, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(otelhttp.NewMiddleware("http.server",
		otelhttp.WithFilter(traced),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints
	r.Get("/health", h.health.Health)
	r.Get("/ready", h.health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Chat, rate limited per client IP
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/chat", h.chat.Chat)
		r.Post("/api/chat", h.chat.Chat)
	})

	// Real-time channel
	r.Get("/ws", h.realtime.Serve)
	r.Get("/sessions", h.realtime.Sessions)

	return r
}

// traced skips health checks and metric scrapes, which would otherwise drown out chat spans.
func traced(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/ready", "/metrics":
		return false
	}
	return true
}
