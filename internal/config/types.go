package config

import (
	"fmt"
	"time"
)

// Config represents the main configuration structure
type Config struct {
	Host             string                `json:"host"`
	Port             int                   `json:"port"`
	LogLevel         string                `json:"logLevel"`
	BoxCount         int                   `json:"boxCount"`
	Debounce         int                   `json:"debounce"`         // ms - quiet period before a batch is emitted
	FetchMinDelay    int                   `json:"fetchMinDelay"`    // ms - lower bound of simulated latency
	FetchMaxDelay    int                   `json:"fetchMaxDelay"`    // ms - upper bound of simulated latency
	FetchFailureRate float64               `json:"fetchFailureRate"` // probability a simulated fetch fails
	EventBuffer      int                   `json:"eventBuffer"`
	RetryEnabled     bool                  `json:"retryEnabled"`
	RetryMaxAttempts int                   `json:"retryMaxAttempts"`
	RetryBackoff     int                   `json:"retryBackoff"` // ms - multiplied by the attempt number
	RequeueEnabled   bool                  `json:"requeueEnabled"`
	RequeueDelay     int                   `json:"requeueDelay"` // ms - before exhausted ids go out in a new batch
	HistorySize      int                   `json:"historySize"`
	MaxSessions      int                   `json:"maxSessions"`
	Simulator        *SimulatorConfig      `json:"simulator,omitempty"`
	CircuitBreaker   *CircuitBreakerConfig `json:"circuitBreaker,omitempty"`
}

// CircuitBreakerConfig configures the breaker in front of the fetcher
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled"`
	FailureThreshold    int  `json:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests"`
}

// SimulatorConfig configures the headless scroll simulator
type SimulatorConfig struct {
	WindowSize int `json:"windowSize"` // number of boxes visible at once
	Step       int `json:"step"`       // ms between scroll steps
	Stride     int `json:"stride"`     // boxes scrolled per step
}

// Default values
const (
	DefaultHost             = "localhost"
	DefaultPort             = 8080
	DefaultLogLevel         = "info"
	DefaultBoxCount         = 100
	DefaultDebounce         = 100  // ms
	DefaultFetchMinDelay    = 100  // ms
	DefaultFetchMaxDelay    = 1000 // ms
	DefaultEventBuffer      = 256
	DefaultRetryEnabled     = true
	DefaultRetryMaxAttempts = 3
	DefaultRetryBackoff     = 200 // ms
	DefaultRequeueEnabled   = true
	DefaultRequeueDelay     = 1000 // ms
	DefaultHistorySize      = 256
	DefaultMaxSessions      = 64
	DefaultWindowSize       = 12
	DefaultSimulatorStep    = 40 // ms
	DefaultSimulatorStride  = 1

	DefaultCBFailureThreshold    = 5
	DefaultCBRecoveryTimeout     = 5000 // ms
	DefaultCBHalfOpenMaxRequests = 2
)

// GetDebounceDuration returns the debounce window as time.Duration
func (c *Config) GetDebounceDuration() time.Duration {
	return time.Duration(c.Debounce) * time.Millisecond
}

// GetFetchMinDelayDuration returns the minimum simulated fetch delay
func (c *Config) GetFetchMinDelayDuration() time.Duration {
	return time.Duration(c.FetchMinDelay) * time.Millisecond
}

// GetFetchMaxDelayDuration returns the maximum simulated fetch delay
func (c *Config) GetFetchMaxDelayDuration() time.Duration {
	return time.Duration(c.FetchMaxDelay) * time.Millisecond
}

// GetRetryBackoffDuration returns the retry backoff unit as time.Duration
func (c *Config) GetRetryBackoffDuration() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Millisecond
}

// GetRequeueDelayDuration returns the requeue delay as time.Duration
func (c *Config) GetRequeueDelayDuration() time.Duration {
	return time.Duration(c.RequeueDelay) * time.Millisecond
}

// GetSimulator returns the simulator config, falling back to defaults
func (c *Config) GetSimulator() SimulatorConfig {
	sim := SimulatorConfig{
		WindowSize: DefaultWindowSize,
		Step:       DefaultSimulatorStep,
		Stride:     DefaultSimulatorStride,
	}
	if c.Simulator == nil {
		return sim
	}
	if c.Simulator.WindowSize > 0 {
		sim.WindowSize = c.Simulator.WindowSize
	}
	if c.Simulator.Step > 0 {
		sim.Step = c.Simulator.Step
	}
	if c.Simulator.Stride > 0 {
		sim.Stride = c.Simulator.Stride
	}
	return sim
}

// GetStepDuration returns the simulator scroll step as time.Duration
func (s SimulatorConfig) GetStepDuration() time.Duration {
	return time.Duration(s.Step) * time.Millisecond
}

// IsCircuitBreakerEnabled returns true if the fetch circuit breaker is enabled
func (c *Config) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// GetCircuitBreaker returns the breaker config with defaults filled in
func (c *Config) GetCircuitBreaker() CircuitBreakerConfig {
	cb := CircuitBreakerConfig{
		FailureThreshold:    DefaultCBFailureThreshold,
		RecoveryTimeout:     DefaultCBRecoveryTimeout,
		HalfOpenMaxRequests: DefaultCBHalfOpenMaxRequests,
	}
	if c.CircuitBreaker == nil {
		return cb
	}
	cb.Enabled = c.CircuitBreaker.Enabled
	if c.CircuitBreaker.FailureThreshold > 0 {
		cb.FailureThreshold = c.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.RecoveryTimeout > 0 {
		cb.RecoveryTimeout = c.CircuitBreaker.RecoveryTimeout
	}
	if c.CircuitBreaker.HalfOpenMaxRequests > 0 {
		cb.HalfOpenMaxRequests = c.CircuitBreaker.HalfOpenMaxRequests
	}
	return cb
}

// GetRecoveryTimeoutDuration returns the open-state timeout as time.Duration
func (cb CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(cb.RecoveryTimeout) * time.Millisecond
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
