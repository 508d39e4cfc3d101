// Package fetch issues one fetch per debounced id batch and marks the
// returned boxes as loaded.
//
// Fetches overlap freely: a later batch never cancels an earlier one and
// completions may arrive in any order. Once the orchestrator is stopped,
// in-flight fetches still run to completion but their results are
// discarded instead of being written to the store.
package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator subscribes to id batches and drives the fetcher
type Orchestrator struct {
	fetcher Fetcher
	store   Marker
	retry   RetryConfig
	history *History
	logger  zerolog.Logger

	mu         sync.RWMutex
	generation uint64 // bumped on every Start and Stop
	running    bool
	cancel     context.CancelFunc
	loopDone   chan struct{}

	requeue  chan requeued
	inflight sync.WaitGroup

	batches   atomic.Int64
	attempts  atomic.Int64
	retries   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
	requeues  atomic.Int64
	loaded    atomic.Int64
	pending   atomic.Int64
}

// requeued carries ids back into the loop of the subscription that lost them
type requeued struct {
	gen uint64
	ids []string
}

// subscription is what a fetch goroutine needs to know about the
// subscription that dispatched it
type subscription struct {
	ctx  context.Context // cancelled on Stop
	gen  uint64
	done <-chan struct{} // closed when the loop exits
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(fetcher Fetcher, store Marker, retry RetryConfig, history *History, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		retry:   retry,
		history: history,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		requeue: make(chan requeued, 16),
	}
}

// Start subscribes to batches. Each received batch is fetched in its own
// goroutine. The subscription ends when Stop is called or ctx is
// cancelled; closing batches only stops dispatching.
func (o *Orchestrator) Start(ctx context.Context, batches <-chan []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.generation++
	o.running = true
	o.cancel = cancel
	o.loopDone = make(chan struct{})

	sub := subscription{ctx: loopCtx, gen: o.generation, done: o.loopDone}
	go o.loop(sub, batches, o.loopDone)

	o.logger.Debug().Uint64("generation", o.generation).Msg("orchestrator started")
	return nil
}

// Stop ends the subscription. In-flight fetches are not cancelled; their
// completion becomes a no-op and no further attempt is made.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.generation++
	o.running = false
	cancel := o.cancel
	done := o.loopDone
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	<-done

	o.logger.Debug().Msg("orchestrator stopped")
}

// Running reports whether the orchestrator is subscribed
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Wait blocks until every in-flight fetch has finished
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// History returns the fetch history
func (o *Orchestrator) History() *History {
	return o.history
}

// Stats returns the current counters
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Batches:   o.batches.Load(),
		Attempts:  o.attempts.Load(),
		Retries:   o.retries.Load(),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
		Discarded: o.discarded.Load(),
		Requeued:  o.requeues.Load(),
		Loaded:    o.loaded.Load(),
		InFlight:  o.pending.Load(),
	}
}

func (o *Orchestrator) loop(sub subscription, batches <-chan []string, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-sub.ctx.Done():
			o.mu.Lock()
			if o.generation == sub.gen {
				o.generation++
				o.running = false
			}
			o.mu.Unlock()
			return
		case ids, ok := <-batches:
			if !ok {
				// Stay subscribed so fetches already dispatched still land
				return
			}
			if len(ids) == 0 {
				continue
			}
			o.dispatch(sub, ids)
		case r := <-o.requeue:
			if r.gen != sub.gen {
				// left over from an earlier subscription
				continue
			}
			o.dispatch(sub, r.ids)
		}
	}
}

// dispatch starts one fetch for ids
func (o *Orchestrator) dispatch(sub subscription, ids []string) {
	batch := Batch{
		ID:        uuid.Must(uuid.NewV7()).String(),
		IDs:       ids,
		CreatedAt: time.Now(),
	}

	o.batches.Add(1)
	if o.history != nil {
		o.history.Put(Record{
			BatchID:   batch.ID,
			IDs:       batch.IDs,
			State:     StatePending,
			StartedAt: batch.CreatedAt,
		})
	}

	o.logger.Debug().
		Str("batch", batch.ID).
		Int("ids", len(ids)).
		Msg("dispatching fetch")

	o.inflight.Add(1)
	o.pending.Add(1)
	go o.execute(sub, batch)
}

// execute fetches a batch with retry and writes the result to the store.
// The fetch itself is not cancelled by Stop; backoff waits are.
func (o *Orchestrator) execute(sub subscription, batch Batch) {
	defer o.inflight.Done()
	defer o.pending.Add(-1)

	fetchCtx := context.WithoutCancel(sub.ctx)
	ids := batch.IDs
	var loaded []string

	for attempt := 1; ; attempt++ {
		o.attempts.Add(1)
		o.recordAttempt(batch.ID, attempt)

		resp, err := o.fetcher.Fetch(fetchCtx, ids)

		if err != nil {
			if !o.current(sub.gen) {
				o.discard(batch.ID, loaded, err)
				return
			}
			if o.retry.allows(attempt) {
				if !o.retry.wait(sub.ctx, attempt) || !o.current(sub.gen) {
					o.discard(batch.ID, loaded, err)
					return
				}
				o.retries.Add(1)
				o.logger.Warn().
					Err(err).
					Str("batch", batch.ID).
					Int("attempt", attempt).
					Int("maxAttempts", o.retry.MaxAttempts).
					Msg("fetch failed, retrying")
				continue
			}

			o.failed.Add(1)
			requeued := o.requeueLater(sub, ids)
			o.finish(batch.ID, StateFailed, loaded, ids, requeued, err)
			o.logger.Error().
				Err(err).
				Str("batch", batch.ID).
				Int("attempts", attempt).
				Bool("requeued", requeued).
				Msg("fetch failed")
			return
		}

		var returned []string
		if resp != nil {
			returned = resp.IDs
		}
		changed, ok := o.markLoaded(sub.gen, returned)
		if !ok {
			o.discard(batch.ID, loaded, nil)
			return
		}
		loaded = append(loaded, changed...)
		o.loaded.Add(int64(len(changed)))

		missing := missingIDs(ids, returned)
		if len(missing) > 0 && o.retry.allows(attempt) {
			if !o.retry.wait(sub.ctx, attempt) || !o.current(sub.gen) {
				o.discard(batch.ID, loaded, nil)
				return
			}
			// Re-request only what the partial response left out
			o.retries.Add(1)
			o.logger.Warn().
				Str("batch", batch.ID).
				Int("missing", len(missing)).
				Int("attempt", attempt).
				Msg("partial fetch response, re-requesting missing ids")
			ids = missing
			continue
		}

		requeued := len(missing) > 0 && o.requeueLater(sub, missing)
		o.completed.Add(1)
		o.finish(batch.ID, StateComplete, loaded, missing, requeued, nil)

		logEvent := o.logger.Debug()
		if len(missing) > 0 {
			logEvent = o.logger.Warn().Strs("missing", missing).Bool("requeued", requeued)
		}
		logEvent.
			Str("batch", batch.ID).
			Int("ids", len(batch.IDs)).
			Int("loaded", len(loaded)).
			Int("attempts", attempt).
			Msg("fetch completed")
		return
	}
}

// requeueLater hands ids back to the subscription loop after RequeueDelay,
// unless the subscription ends first. It reports whether a requeue was scheduled.
func (o *Orchestrator) requeueLater(sub subscription, ids []string) bool {
	if !o.retry.Requeue || len(ids) == 0 {
		return false
	}
	o.requeues.Add(1)

	go func() {
		if o.retry.RequeueDelay > 0 {
			timer := time.NewTimer(o.retry.RequeueDelay)
			defer timer.Stop()
			select {
			case <-sub.ctx.Done():
				return
			case <-sub.done:
				return
			case <-timer.C:
			}
		}
		select {
		case o.requeue <- requeued{gen: sub.gen, ids: ids}:
		case <-sub.ctx.Done():
		case <-sub.done:
		}
	}()
	return true
}

// current reports whether gen is still the active subscription
func (o *Orchestrator) current(gen uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running && o.generation == gen
}

// markLoaded writes ids to the store only if gen is still current. Stop
// waits for a write in progress, so nothing lands after it returns.
func (o *Orchestrator) markLoaded(gen uint64, ids []string) ([]string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.running || o.generation != gen {
		return nil, false
	}
	return o.store.MarkLoaded(ids), true
}

func (o *Orchestrator) discard(batchID string, loaded []string, err error) {
	o.discarded.Add(1)
	o.finish(batchID, StateDiscarded, loaded, nil, false, err)
	o.logger.Debug().Str("batch", batchID).Msg("fetch outlived its subscription, discarded")
}

func (o *Orchestrator) recordAttempt(batchID string, attempt int) {
	if o.history == nil {
		return
	}
	o.history.Update(batchID, func(r *Record) {
		r.Attempts = attempt
	})
}

func (o *Orchestrator) finish(batchID string, state State, loaded, missing []string, requeued bool, err error) {
	if o.history == nil {
		return
	}
	o.history.Update(batchID, func(r *Record) {
		r.State = state
		r.Loaded = loaded
		r.Missing = missing
		r.Requeued = requeued
		r.FinishedAt = time.Now()
		if err != nil {
			r.Error = err.Error()
		}
	})
}
