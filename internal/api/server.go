package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hookflow/hookflow/internal/config"
	"github.com/hookflow/hookflow/internal/dispatch"
	"github.com/hookflow/hookflow/internal/metrics"
	"github.com/hookflow/hookflow/internal/storage"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	queue      *dispatch.Queue
	dispatcher *dispatch.Dispatcher
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, queue *dispatch.Queue, dispatcher *dispatch.Dispatcher, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		queue:      queue,
		dispatcher: dispatcher,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	orgHandler := NewOrganizationHandler(s.store)
	subHandler := NewSubscriptionHandler(s.store, s.dispatcher)
	evtHandler := NewEventHandler(s.queue)
	attHandler := NewAttemptHandler(s.store)
	statsHandler := NewStatsHandler(s.store)

	r.Get("/health", statsHandler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Organization management — admin routes, no bearer auth
		r.Post("/organizations", orgHandler.Create)
		r.Get("/organizations", orgHandler.List)
		r.Get("/organizations/{id}", orgHandler.Get)
		r.Delete("/organizations/{id}", orgHandler.Delete)
		r.Post("/organizations/{id}/rotate-key", orgHandler.RotateKey)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			// Subscriptions
			r.Post("/subscriptions", subHandler.Create)
			r.Get("/subscriptions", subHandler.List)
			r.Get("/subscriptions/{id}", subHandler.Get)
			r.Put("/subscriptions/{id}", subHandler.Update)
			r.Delete("/subscriptions/{id}", subHandler.Delete)
			r.Patch("/subscriptions/{id}/toggle", subHandler.Toggle)
			r.Post("/subscriptions/{id}/test", subHandler.Test)
			r.Get("/subscriptions/{id}/attempts", attHandler.ListBySubscription)

			// Events
			r.Post("/events", evtHandler.Dispatch)

			// Attempts
			r.Get("/attempts/{id}", attHandler.Get)
			r.Get("/dead-letters", attHandler.ListDeadLetters)

			// Stats
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
