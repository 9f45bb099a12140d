package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skridlevsky/contrib-census/internal/census"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	Database interface{ Health(context.Context) error }
	Store    *census.Store
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health endpoint
	if cfg.Database != nil {
		r.Get("/api/health", NewHealthHandler(cfg.Database))
	} else {
		r.Get("/api/health", HealthHandler)
	}

	r.Handle("/metrics", promhttp.Handler())

	// Report API
	reportHandler := NewReportHandler(cfg.Store)
	r.Route("/api/report", func(r chi.Router) {
		r.Get("/latest", reportHandler.Latest)
		r.Get("/{runID}/buckets", reportHandler.Buckets)
		r.Get("/{runID}/summary", reportHandler.Summary)
		r.Get("/{runID}/bots", reportHandler.Bots)
		r.Get("/{runID}/clusters", reportHandler.Clusters)
		r.Get("/{runID}/export", reportHandler.Export)
	})

	return r
}
