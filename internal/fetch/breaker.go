package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned while the breaker rejects fetches
var ErrCircuitOpen = errors.New("fetch circuit open")

type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func (s cbState) String() string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// Breaker is a Fetcher that stops calling the wrapped fetcher after
// FailureThreshold consecutive failures. After RecoveryTimeout it lets at
// most HalfOpenMaxRequests trial fetches through, counting those still in
// flight; their success closes it again.
type Breaker struct {
	next   Fetcher
	cfg    BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            cbState
	failures         int
	epoch            uint64 // bumped on every transition to half-open
	halfOpenSuccess  int
	halfOpenInFlight int
	lastFailureAt    time.Time
}

// NewBreaker wraps next with a circuit breaker
func NewBreaker(next Fetcher, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	return &Breaker{
		next:   next,
		cfg:    cfg,
		logger: logger.With().Str("component", "breaker").Logger(),
		now:    time.Now,
	}
}

// Fetch implements Fetcher
func (b *Breaker) Fetch(ctx context.Context, ids []string) (*Response, error) {
	trial, ok := b.allow()
	if !ok {
		return nil, ErrCircuitOpen
	}

	resp, err := b.next.Fetch(ctx, ids)
	if err != nil {
		// a cancelled caller says nothing about the backend
		if ctx.Err() != nil {
			b.release(trial)
		} else {
			b.recordFailure()
		}
		return nil, err
	}
	b.recordSuccess(trial)
	return resp, nil
}

// State returns the breaker state name
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// allow reports whether a fetch may go out. In half-open state it also
// returns the trial epoch the fetch holds a slot in, zero otherwise.
func (b *Breaker) allow() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbHalfOpen:
		if b.halfOpenSuccess+b.halfOpenInFlight >= b.cfg.HalfOpenMaxRequests {
			return 0, false
		}
		b.halfOpenInFlight++
		return b.epoch, true
	case cbOpen:
		if b.now().Sub(b.lastFailureAt) >= b.cfg.RecoveryTimeout {
			b.setState(cbHalfOpen)
			b.epoch++
			b.halfOpenSuccess = 0
			b.halfOpenInFlight = 1
			return b.epoch, true
		}
		return 0, false
	default:
		return 0, true
	}
}

// release frees a trial slot without counting an outcome
func (b *Breaker) release(trial uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endTrial(trial)
}

// endTrial must be called with mu held. It reports whether trial belongs
// to the current half-open period.
func (b *Breaker) endTrial(trial uint64) bool {
	if trial == 0 || b.state != cbHalfOpen || trial != b.epoch {
		return false
	}
	if b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
	return true
}

func (b *Breaker) recordSuccess(trial uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbHalfOpen:
		if !b.endTrial(trial) {
			return
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMaxRequests {
			b.setState(cbClosed)
			b.failures = 0
		}
	case cbClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()

	switch b.state {
	case cbClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(cbOpen)
		}
	case cbHalfOpen:
		b.setState(cbOpen)
		b.halfOpenSuccess = 0
		b.halfOpenInFlight = 0
	}
}

// setState must be called with mu held
func (b *Breaker) setState(s cbState) {
	if b.state == s {
		return
	}
	b.logger.Info().
		Str("from", b.state.String()).
		Str("to", s.String()).
		Int("failures", b.failures).
		Msg("circuit breaker state changed")
	b.state = s
}
