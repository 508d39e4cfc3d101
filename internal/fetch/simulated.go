package fetch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSimulatedFailure is returned by SimulatedFetcher for injected failures
var ErrSimulatedFailure = errors.New("simulated fetch failure")

// SimulatedFetcher answers every request with the requested ids after a
// random delay drawn uniformly from [minDelay, maxDelay). With a failure
// rate set, that fraction of requests fails after the delay instead.
type SimulatedFetcher struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	failureRate float64
	logger      zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedFetcher creates a simulated fetcher
func NewSimulatedFetcher(minDelay, maxDelay time.Duration, logger zerolog.Logger) *SimulatedFetcher {
	return &SimulatedFetcher{
		minDelay: minDelay,
		maxDelay: maxDelay,
		logger:   logger.With().Str("component", "fetcher").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes the delay sequence deterministic
func (f *SimulatedFetcher) WithSeed(seed int64) *SimulatedFetcher {
	f.mu.Lock()
	f.rng = rand.New(rand.NewSource(seed))
	f.mu.Unlock()
	return f
}

// WithFailureRate sets the probability in [0, 1] that a fetch fails
func (f *SimulatedFetcher) WithFailureRate(rate float64) *SimulatedFetcher {
	f.mu.Lock()
	f.failureRate = rate
	f.mu.Unlock()
	return f
}

// Fetch waits for the simulated latency and echoes ids back
func (f *SimulatedFetcher) Fetch(ctx context.Context, ids []string) (*Response, error) {
	delay, fail := f.next()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if fail {
		f.logger.Debug().Int("ids", len(ids)).Dur("delay", delay).Msg("fetch failed")
		return nil, ErrSimulatedFailure
	}

	result := make([]string, len(ids))
	copy(result, ids)

	f.logger.Debug().
		Int("ids", len(ids)).
		Dur("delay", delay).
		Msg("fetch complete")

	return &Response{IDs: result}, nil
}

// next draws the delay and whether this request fails
func (f *SimulatedFetcher) next() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fail := f.failureRate > 0 && f.rng.Float64() < f.failureRate

	span := f.maxDelay - f.minDelay
	if span <= 0 {
		return f.minDelay, fail
	}
	return f.minDelay + time.Duration(f.rng.Int63n(int64(span))), fail
}
