// Package server exposes the resolver and month-to-date totals as a small
// JSON API for the dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/jgoulah/gridcache/internal/aggregate"
	"github.com/jgoulah/gridcache/internal/resolver"
)

// DataSourceHeader reports whether a price came from the live API or the cache
const DataSourceHeader = "X-Data-Source"

const shutdownTimeout = 10 * time.Second

// Options configures a Server
type Options struct {
	Resolver       *resolver.Resolver
	Totals         *aggregate.Aggregator
	Logger         *log.Logger
	ListenAddr     string
	AllowedOrigins []string
}

// Server serves the dashboard API
type Server struct {
	resolver   *resolver.Resolver
	totals     *aggregate.Aggregator
	logger     *log.Logger
	handler    http.Handler
	httpServer *http.Server
}

// New builds the router. Resolver and Totals are required.
func New(opts Options) (*Server, error) {
	if opts.Resolver == nil {
		return nil, errors.New("server: resolver is required")
	}
	if opts.Totals == nil {
		return nil, errors.New("server: totals aggregator is required")
	}
	s := &Server{
		resolver: opts.Resolver,
		totals:   opts.Totals,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/price", s.handlePrice)
		api.Get("/usage", s.handleUsage)
		api.Get("/cost", s.handleCost)
		api.Get("/health", s.handleHealth)
		api.Get("/forecast", s.handleForecast)
		api.Get("/totals", s.handleTotals)
	})

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{DataSourceHeader},
		MaxAge:         300,
	}).Handler(r)

	addr := opts.ListenAddr
	if addr == "" {
		addr = ":5050"
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return <-errCh
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps resolver errors to status codes: configuration problems
// are server errors, missing data is 503 so clients can retry.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, resolver.ErrNoCredentials):
		msg = "AMBER_TOKEN environment variable is not set"
	case errors.Is(err, resolver.ErrNotConfigured):
		msg = "AMBER_SITE_ID is not configured"
	case errors.Is(err, resolver.ErrNoData):
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("request failed", "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, errorResponse{Error: msg})
}

func forecastHours(r *http.Request) int {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return resolver.DefaultForecastHours
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		return resolver.DefaultForecastHours
	}
	return hours
}
