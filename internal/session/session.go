package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"viewfetch/internal/box"
	"viewfetch/internal/config"
	"viewfetch/internal/fetch"
	"viewfetch/internal/viewport"
	"viewfetch/internal/visibility"
)

// Session wires one viewport to its own box store, reducer and orchestrator
type Session struct {
	id           string
	store        *box.Store
	events       chan visibility.Event
	reducer      *visibility.Reducer
	orchestrator *fetch.Orchestrator
	controller   *viewport.Controller
	logger       zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	started   bool
	closed    bool
	closeOnce sync.Once
}

// Stats is a point-in-time view of a session
type Stats struct {
	ID        string           `json:"id"`
	Observing bool             `json:"observing"`
	Boxes     int              `json:"boxes"`
	Loaded    int              `json:"loaded"`
	Reducer   visibility.Stats `json:"reducer"`
	Fetch     fetch.Stats      `json:"fetch"`
}

// New creates a session. The observer must deliver its entries to Entries.
func New(id string, cfg *config.Config, observer viewport.Observer, fetcher fetch.Fetcher, logger zerolog.Logger) (*Session, error) {
	logger = logger.With().Str("session", id).Logger()

	history, err := fetch.NewHistory(cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch history: %w", err)
	}

	store := box.NewStore(cfg.BoxCount)
	retry := fetch.RetryConfig{
		Enabled:      cfg.RetryEnabled,
		MaxAttempts:  cfg.RetryMaxAttempts,
		Backoff:      cfg.GetRetryBackoffDuration(),
		Requeue:      cfg.RequeueEnabled,
		RequeueDelay: cfg.GetRequeueDelayDuration(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		store:        store,
		events:       make(chan visibility.Event, cfg.EventBuffer),
		reducer:      visibility.NewReducer(cfg.GetDebounceDuration(), logger),
		orchestrator: fetch.NewOrchestrator(fetcher, store, retry, history, logger),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.controller = viewport.NewController(observer, store.IDs(), s.push, logger)

	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Start subscribes the orchestrator to the reducer and starts observing
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return nil
	}

	batches := s.reducer.Reduce(s.ctx, s.events)
	if err := s.orchestrator.Start(s.ctx, batches); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	s.started = true

	if err := s.controller.Start(); err != nil {
		return err
	}

	s.logger.Info().Int("boxes", s.store.Len()).Msg("session started")
	return nil
}

// Entries forwards intersection entries from the observer
func (s *Session) Entries(entries []viewport.Entry) int {
	return s.controller.OnEntries(entries)
}

// Toggle starts or stops observation and returns the new state
func (s *Session) Toggle() (bool, error) {
	observing, err := s.controller.Toggle()
	if err != nil {
		return observing, err
	}
	s.logger.Info().Bool("observing", observing).Msg("observation toggled")
	return observing, nil
}

// Observing reports whether the viewport is being observed
func (s *Session) Observing() bool {
	return s.controller.Observing()
}

// Reset marks every box as not loaded, regardless of fetch state
func (s *Session) Reset() int {
	n := s.store.Reset()
	s.logger.Info().Int("boxes", n).Msg("boxes reset")
	return n
}

// Store returns the session box store
func (s *Session) Store() *box.Store {
	return s.store
}

// Boxes returns a snapshot of every box
func (s *Session) Boxes() []box.Box {
	return s.store.Snapshot()
}

// History returns recent fetch records
func (s *Session) History() []fetch.Record {
	return s.orchestrator.History().List()
}

// Stats returns a point-in-time view of the session
func (s *Session) Stats() Stats {
	return Stats{
		ID:        s.id,
		Observing: s.controller.Observing(),
		Boxes:     s.store.Len(),
		Loaded:    s.store.LoadedCount(),
		Reducer:   s.reducer.Stats(),
		Fetch:     s.orchestrator.Stats(),
	}
}

// WaitFetches blocks until every in-flight fetch has finished
func (s *Session) WaitFetches() {
	s.orchestrator.Wait()
}

// Close stops observation and tears down the reducer and orchestrator.
// In-flight fetches finish without touching the store.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.controller.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("failed to disconnect observer")
		}
		s.orchestrator.Stop()
		s.cancel()

		s.logger.Info().Msg("session closed")
	})
}

// push hands one event to the reducer
func (s *Session) push(e visibility.Event) bool {
	select {
	case s.events <- e:
		return true
	case <-s.ctx.Done():
		return false
	}
}
