/**
 * @description
 * HTTP router setup for the settlement service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the optional surfaces of the router.
type RouterOptions struct {
	// AdminSecret enables the /admin routes when non-empty.
	AdminSecret    string
	AllowedOrigins []string
	// Gatherer enables /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/webhook", h.handleWebhook)
	r.Get("/health", h.handleHealth)

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.AdminSecret != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   opts.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
			r.Use(AdminAuthMiddleware(opts.AdminSecret))
			r.Get("/stats", h.handleAdminStats)
			r.Get("/invoices", h.handleListInvoices)
			r.Post("/reconcile", h.handleReconcile)
		})
	}

	return r
}
