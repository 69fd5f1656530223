package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/wdist/internal/service"
	"github.com/me/wdist/internal/store"
)

// Version is reported by the health and discovery endpoints.
const Version = "0.1.0"

// Server is the coordinator's HTTP API. It is a thin layer over the
// service facades and holds no state of its own.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time

	workers *service.Workers
	tasks   *service.Tasks
	status  *service.Status

	history store.Store  // optional; nil disables /history
	metrics http.Handler // optional; nil disables /metrics
	kick    func()       // optional; wakes the scheduler after a submit
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithHistory serves finished tasks from the journal at /api/v1/history.
func WithHistory(st store.Store) Option {
	return func(s *Server) {
		s.history = st
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithKick sets a function called after every accepted submission.
func WithKick(fn func()) Option {
	return func(s *Server) {
		s.kick = fn
	}
}

// New creates a new Server with all routes registered.
func New(workers *service.Workers, tasks *service.Tasks, status *service.Status, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		workers:   workers,
		tasks:     tasks,
		status:    status,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		// Service lifecycle
		r.Get("/status", s.handleStatus)
		r.Post("/service/start", s.handleServiceStart)
		r.Post("/service/stop", s.handleServiceStop)

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleAddWorker)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorker)
				r.Delete("/", s.handleRemoveWorker)
				r.Put("/status", s.handleUpdateWorkerStatus)
				r.Get("/tasks", s.handleWorkerTasks)
				r.Get("/next", s.handleNextTask)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleSubmitTask)
			r.Get("/{id}", s.handleGetTask)
			r.Post("/{id}/complete", s.handleCompleteTask)
			r.Post("/{id}/fail", s.handleFailTask)
		})
		r.Get("/queue", s.handleQueue)
		r.Get("/history", s.handleHistory)
	})
}
