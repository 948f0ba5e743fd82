package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stayware/cohost-platform/internal/http/handlers"
	httpmiddleware "github.com/stayware/cohost-platform/internal/http/middleware"
	"github.com/stayware/cohost-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Webhooks        *handlers.WebhookHandler
	Ops             *handlers.OpsHandler
	AdminProperties *handlers.AdminPropertiesHandler
	MetricsHandler  http.Handler

	// Webhook rate limiting (requests/sec per IP). Zero disables.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		if cfg.Ops != nil {
			public.Get("/health", cfg.Ops.HealthCheck)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhooks != nil {
			public.Route("/webhooks/{platform}", func(wh chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
				}
				wh.Post("/messages", cfg.Webhooks.HandleMessage)
				wh.Post("/bookings", cfg.Webhooks.HandleBookingUpdate)
			})
		}
	})

	// Host-facing operational routes
	r.Route("/ops", func(ops chi.Router) {
		if cfg.Ops != nil {
			ops.Get("/conversations/{conversationID}", cfg.Ops.GetTranscript)
			ops.Post("/conversations/{conversationID}/resolve", cfg.Ops.Resolve)
		}
		if cfg.AdminProperties != nil {
			ops.Put("/properties/{propertyID}", cfg.AdminProperties.UpsertProperty)
			ops.Put("/properties/{propertyID}/bookings", cfg.AdminProperties.UpsertBooking)
		}
	})

	return r
}
