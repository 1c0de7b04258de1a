// Package rest exposes the operational admin surface of the runtime:
// health probes, prometheus metrics, type introspection and instance
// operations (invoke, release, remove).
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chassis/application/services"
	"chassis/interfaces/http/rest/handlers"
	"chassis/interfaces/http/rest/middleware"
	pkgerrors "chassis/pkg/errors"
	"chassis/pkg/observability"
)

// Router creates and configures the HTTP router
type Router struct {
	host    *services.RuntimeHost
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(host *services.RuntimeHost, metrics *observability.Collector, logger *zap.Logger) *Router {
	return &Router{
		host:    host,
		metrics: metrics,
		logger:  logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	errorHandler := pkgerrors.NewErrorHandler(rt.logger, false)
	limiter := middleware.NewTokenBucketLimiter(50, 100*time.Millisecond)

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))

	// Health probes
	router.Get("/healthz", rt.healthCheck)
	router.Get("/readyz", rt.readinessCheck)

	// Prometheus metrics
	router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))

	// Runtime introspection and instance operations
	router.Route("/admin/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, rt.logger))
		runtimeHandler := handlers.NewRuntimeHandler(rt.host, errorHandler, rt.logger)
		r.Get("/types", runtimeHandler.ListTypes)
		r.Get("/types/{typeName}", runtimeHandler.GetType)
		r.Post("/types/{typeName}/invoke", runtimeHandler.Invoke)
		r.Post("/types/{typeName}/release", runtimeHandler.Release)
		r.Post("/types/{typeName}/remove", runtimeHandler.Remove)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports ready once at least the router is serving; type
// registration happens before the listener starts
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
