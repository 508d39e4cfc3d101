// Package viewport is the boundary between an intersection observer and
// the visibility reducer.
package viewport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Controller switches observation on and off and forwards entries to the
// reducer while observing. Toggling never touches in-flight fetches or box
// state.
type Controller struct {
	observer Observer
	ids      []string
	sink     Sink
	logger   zerolog.Logger

	opMu  sync.Mutex // serializes Start and Stop
	state atomic.Int32

	forwarded atomic.Int64
	dropped   atomic.Int64
}

// NewController creates a controller in the idle state
func NewController(observer Observer, ids []string, sink Sink, logger zerolog.Logger) *Controller {
	return &Controller{
		observer: observer,
		ids:      ids,
		sink:     sink,
		logger:   logger.With().Str("component", "viewport").Logger(),
	}
}

// Start moves Idle -> Observing and asks the observer to watch every id.
// The observer may report initial entries before Observe returns.
func (c *Controller) Start() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked()
}

// Stop moves Observing -> Idle and disconnects the observer
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked()
}

// Toggle flips the observation state and returns whether it is now observing
func (c *Controller) Toggle() (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Observing() {
		return false, c.stopLocked()
	}
	if err := c.startLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) startLocked() error {
	if c.State() == StateObserving {
		return nil
	}
	c.state.Store(int32(StateObserving))
	if err := c.observer.Observe(c.ids); err != nil {
		c.state.Store(int32(StateIdle))
		return fmt.Errorf("failed to start observation: %w", err)
	}
	c.logger.Debug().Int("ids", len(c.ids)).Msg("observation started")
	return nil
}

func (c *Controller) stopLocked() error {
	if c.State() == StateIdle {
		return nil
	}
	// Idle even if the observer is already gone
	c.state.Store(int32(StateIdle))
	if err := c.observer.Disconnect(); err != nil {
		return fmt.Errorf("failed to stop observation: %w", err)
	}
	c.logger.Debug().Msg("observation stopped")
	return nil
}

// Observing reports whether the controller is observing
func (c *Controller) Observing() bool {
	return c.State() == StateObserving
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// OnEntries forwards each entry as a visibility event. Entries that arrive
// while idle are dropped. Returns the number of events forwarded.
func (c *Controller) OnEntries(entries []Entry) int {
	if !c.Observing() {
		c.dropped.Add(int64(len(entries)))
		c.logger.Debug().Int("entries", len(entries)).Msg("entries received while idle, dropped")
		return 0
	}

	n := 0
	for _, entry := range entries {
		if entry.ID == "" {
			c.dropped.Add(1)
			continue
		}
		if !c.sink(entry.Event()) {
			c.dropped.Add(1)
			continue
		}
		n++
	}
	c.forwarded.Add(int64(n))
	return n
}

// Forwarded returns the number of events handed to the sink
func (c *Controller) Forwarded() int64 {
	return c.forwarded.Load()
}

// Dropped returns the number of entries that were not forwarded
func (c *Controller) Dropped() int64 {
	return c.dropped.Load()
}
