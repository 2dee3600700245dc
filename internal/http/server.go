package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Clark-Hu/stars/internal/config"
	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	ledger  *ledger.Ledger
	logger  *logger.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, l *ledger.Ledger, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		ledger: l,
		logger: log,
		router: r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Route("/targets/{kind}/{id}", func(r chi.Router) {
		r.Put("/rating", s.handleRateTarget)
		r.Get("/rating", s.handleGetTargetRating)
		r.Delete("/rating", s.handleRemoveTargetRating)
		r.Get("/stats", s.handleTargetStats)
		r.Get("/ratings", s.handleTargetRatings)
		r.With(s.requireBearer).Delete("/ratings", s.handleForgetTarget)
	})
	s.router.Route("/actors/{kind}/{id}", func(r chi.Router) {
		r.Get("/stats", s.handleActorStats)
		r.Get("/ratings", s.handleActorRatings)
		r.With(s.requireBearer).Delete("/ratings", s.handleForgetActor)
		r.Get("/ratings/{targetKind}/{targetId}", s.handleGetActorRating)
		r.Delete("/ratings/{targetKind}/{targetId}", s.handleRemoveActorRating)
	})
	s.router.Route("/devices/{device}", func(r chi.Router) {
		r.Get("/ratings", s.handleDeviceRatings)
		r.With(s.requireBearer).Delete("/ratings", s.handleForgetDevice)
	})
}

// Start boots the HTTP server and blocks until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ledger.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
