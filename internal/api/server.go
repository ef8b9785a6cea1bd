package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/metrics"
	"github.com/allaspectsdev/screenman/internal/tracing"
)

// Server serves the screenman HTTP API on a chi router and supports
// graceful shutdown.
type Server struct {
	router  chi.Router
	handler *Handler
	addr    string
	httpSrv *http.Server
}

// NewServer builds the router and the http.Server around handler. A zero
// timeout leaves the matching http.Server field unset (no limit).
func NewServer(handler *Handler, addr string, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	r := chi.NewRouter()
	collector := handler.handle.Metrics()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tracing.HTTPMiddleware)
	r.Use(requestLogger(handler.log, collector))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)
		r.Get("/settings", handler.HandleGetSettings)
		r.Put("/settings", handler.HandleUpdateSettings)
		if collector != nil {
			r.Get("/stats", metrics.StatsHandler(collector))
		}

		r.Route("/dataroma-screener", func(r chi.Router) {
			r.Post("/session", handler.HandleStartSession)
			r.Get("/session/latest", handler.HandleLatestSession)
			r.Get("/session/{id}", handler.HandleGetSession)
			r.Post("/session/{id}/universe", handler.HandleUniverseStep)
			r.Post("/session/{id}/matches", handler.HandleMatchStep)
			r.Post("/session/{id}/screener", handler.HandleScreenerStep)
			r.Get("/universe/search", handler.HandleSearchUniverse)
			r.Put("/matches", handler.HandleUpdateMatch)
			r.Get("/history", handler.HandleHistory)
		})
	})

	if collector != nil {
		r.Get("/metrics", metrics.PrometheusHandler(collector))
	}

	return &Server{
		router:  r,
		handler: handler,
		addr:    addr,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
	}
}

// Router exposes the chi router so tests can drive it directly.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start listens on the configured address and blocks until Shutdown is
// called or the listener fails.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requestLogger tags every request with a generated id, exposes it in the
// X-Request-Id response header, counts it in the collector, and logs
// completion with status and latency.
func requestLogger(logger zerolog.Logger, collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.New().String()
			w.Header().Set("X-Request-Id", requestID)

			if collector != nil {
				collector.RecordRequest()
				collector.IncrementActive()
				defer collector.DecrementActive()
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("request completed")
		})
	}
}
