// Package visibility turns a stream of per-item visible/hidden transitions
// into debounced batches of ids to fetch.
//
// Every Reduce call starts from an empty PendingSet. Only a set that differs
// from the previous one counts as a change; each change restarts the
// quiet-period timer, and when the timer fires the latest key set is
// emitted unless it is empty.
package visibility

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Reducer folds visibility events into debounced id batches
type Reducer struct {
	debounce time.Duration
	logger   zerolog.Logger

	events      atomic.Int64
	transitions atomic.Int64
	suppressed  atomic.Int64
	settled     atomic.Int64
	batches     atomic.Int64
}

// NewReducer creates a reducer with the given quiet period
func NewReducer(debounce time.Duration, logger zerolog.Logger) *Reducer {
	return &Reducer{
		debounce: debounce,
		logger:   logger.With().Str("component", "reducer").Logger(),
	}
}

// Debounce returns the configured quiet period
func (r *Reducer) Debounce() time.Duration {
	return r.debounce
}

// Stats returns the current counters
func (r *Reducer) Stats() Stats {
	return Stats{
		Events:      r.events.Load(),
		Transitions: r.transitions.Load(),
		Suppressed:  r.suppressed.Load(),
		Settled:     r.settled.Load(),
		Batches:     r.batches.Load(),
	}
}

// Reduce starts a fresh subscription over events and returns the batch
// stream. The returned channel is closed when ctx is cancelled or events
// is closed. On close of events a batch still inside its debounce window
// is flushed; on ctx cancel it is dropped.
func (r *Reducer) Reduce(ctx context.Context, events <-chan Event) <-chan []string {
	out := make(chan []string)
	go r.run(ctx, events, out)
	return out
}

func (r *Reducer) run(ctx context.Context, events <-chan Event, out chan<- []string) {
	defer close(out)

	current := EmptySet()
	var waiting *PendingSet

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	r.logger.Debug().Dur("debounce", r.debounce).Msg("reducer started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("reducer stopped")
			return

		case ev, ok := <-events:
			if !ok {
				if waiting != nil {
					r.settle(ctx, out, waiting)
				}
				r.logger.Debug().Msg("reducer input closed")
				return
			}
			r.events.Add(1)

			next := current.Apply(ev)
			if next.Equal(current) {
				r.suppressed.Add(1)
				continue
			}
			r.transitions.Add(1)
			current = next

			if r.debounce <= 0 {
				r.settle(ctx, out, current)
				continue
			}

			// (Re)start the quiet period on every distinct set
			waiting = current
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if waiting != nil {
				r.settle(ctx, out, waiting)
				waiting = nil
			}
		}
	}
}

// settle emits the key set of a settled PendingSet. An empty set means
// nothing is awaiting fetch and is not emitted.
func (r *Reducer) settle(ctx context.Context, out chan<- []string, set *PendingSet) {
	r.settled.Add(1)
	if set.Len() == 0 {
		r.logger.Debug().Msg("settled on empty set, skipping")
		return
	}

	ids := set.Keys()
	select {
	case out <- ids:
		r.batches.Add(1)
		r.logger.Debug().Int("ids", len(ids)).Msg("batch emitted")
	case <-ctx.Done():
	}
}
