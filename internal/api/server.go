// Package api serves the HTTP control surface of the harvester.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	appharvest "github.com/ahrav/billharvest/internal/app/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
	"github.com/ahrav/billharvest/pkg/common/otel"
	"github.com/ahrav/billharvest/pkg/metrics"
)

// HarvestController is the subset of the harvest controller the API drives.
type HarvestController interface {
	Start(ctx context.Context) (uuid.UUID, error)
	Pause() error
	Resume() error
	Stop() error
	Status(ctx context.Context) appharvest.StatusSnapshot
}

// Config holds the server's settings and collaborators.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	ServiceName string
	Build       string

	// Ready reports whether the service can accept a start request. Nil
	// means always ready.
	Ready func(ctx context.Context) error
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg     Config
	logger  *logger.Logger
	router  *chi.Mux
	harvest HarvestController
	metrics APIMetrics
}

// NewServer wires the router. metrics may be nil.
func NewServer(
	cfg Config,
	log *logger.Logger,
	tp trace.TracerProvider,
	harvest HarvestController,
	apiMetrics APIMetrics,
) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(cfg.ServiceName, tp, map[string]struct{}{
		"/v1/health":    {},
		"/v1/readiness": {},
		"/metrics":      {},
	}))
	r.Use(loggerMiddleware(log, apiMetrics))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:     cfg,
		logger:  log.With("component", "api"),
		router:  r,
		harvest: harvest,
		metrics: apiMetrics,
	}

	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger, m APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				elapsed := time.Since(start)
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", elapsed,
					"request_id", middleware.GetReqID(ctx),
					"trace_id", otel.GetTraceID(ctx),
					"span_id", otel.GetSpanID(ctx),
				)
				if m != nil {
					m.IncRequestsTotal(ctx, r.Method, r.URL.Path, ww.Status())
					m.ObserveRequestDuration(ctx, r.Method, r.URL.Path, elapsed)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Route("/harvest", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/stop", s.handleStop)
			r.Get("/status", s.handleStatus)
		})
	})

	s.router.Method(http.MethodGet, "/metrics", metrics.Handler(s.cfg.Gatherer))
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr, "build", s.cfg.Build)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
