// Package server exposes viewport sessions over websocket and a small
// HTTP inspection API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"viewfetch/internal/config"
	"viewfetch/internal/fetch"
	"viewfetch/internal/session"
	"viewfetch/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg        *config.Config
	manager    *session.Manager
	wsHandler  *ws.Handler
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// New creates a new Server. Every session shares one simulated fetcher.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	return NewWithFetcher(cfg, newFetcher(cfg, logger), logger)
}

// newFetcher builds the simulated fetcher, behind a circuit breaker if enabled
func newFetcher(cfg *config.Config, logger zerolog.Logger) fetch.Fetcher {
	var fetcher fetch.Fetcher = fetch.NewSimulatedFetcher(
		cfg.GetFetchMinDelayDuration(),
		cfg.GetFetchMaxDelayDuration(),
		logger,
	).WithFailureRate(cfg.FetchFailureRate)

	if cfg.IsCircuitBreakerEnabled() {
		cb := cfg.GetCircuitBreaker()
		fetcher = fetch.NewBreaker(fetcher, fetch.BreakerConfig{
			FailureThreshold:    cb.FailureThreshold,
			RecoveryTimeout:     cb.GetRecoveryTimeoutDuration(),
			HalfOpenMaxRequests: cb.HalfOpenMaxRequests,
		}, logger)
		logger.Info().
			Int("failureThreshold", cb.FailureThreshold).
			Int("recoveryTimeout", cb.RecoveryTimeout).
			Msg("fetch circuit breaker enabled")
	}

	return fetcher
}

// NewWithFetcher creates a new Server backed by the given fetcher
func NewWithFetcher(cfg *config.Config, fetcher fetch.Fetcher, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()
	manager := session.NewManager(cfg, fetcher, logger)

	s := &Server{
		cfg:       cfg,
		manager:   manager,
		wsHandler: ws.NewHandler(manager, logger),
		logger:    logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.wsHandler.ServeHTTP)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.withSession(s.handleSession))
			r.Get("/boxes", s.withSession(s.handleBoxes))
			r.Get("/fetches", s.withSession(s.handleFetches))
			r.Post("/reset", s.withSession(s.handleReset))
			r.Post("/toggle", s.withSession(s.handleToggle))
		})
	})

	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the session manager
func (s *Server) Manager() *session.Manager {
	return s.manager
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Msg("starting HTTP server")
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("ws", fmt.Sprintf("ws://%s/ws", ln.Addr())).
		Str("sessions", fmt.Sprintf("http://%s/sessions", ln.Addr())).
		Msg("endpoint available")

	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	s.manager.CloseAll()
	s.wsHandler.CloseAll()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession resolves the {id} URL parameter to a live session
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.manager.Get(chi.URLParam(r, "id"))
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, session.ErrSessionNotFound) {
				code = http.StatusNotFound
			}
			writeError(w, code, err)
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Count(),
		"clients":  s.wsHandler.ClientCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.manager.List()
	stats := make([]session.Stats, 0, len(ids))
	for _, id := range ids {
		sess, err := s.manager.Get(id)
		if err != nil {
			// removed since List
			continue
		}
		stats = append(stats, sess.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Stats())
}

func (s *Server) handleBoxes(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Boxes())
}

func (s *Server) handleFetches(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.History())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, map[string]int{"reset": sess.Reset()})
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	observing, err := sess.Toggle()
	if err != nil {
		// the observer lives in this process, so its failure is ours
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.ToggleResult{Observing: observing})
}

// accessLog logs each request through zerolog
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
