package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes with proper bool default handling
func Parse(data []byte) (*Config, error) {
	// First unmarshal to check if retryEnabled/requeueEnabled were explicitly set
	var rawCfg configWithRetryDefault
	if err := json.Unmarshal(data, &rawCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &rawCfg.Config

	if rawCfg.RetryEnabledPtr != nil {
		cfg.RetryEnabled = *rawCfg.RetryEnabledPtr
	} else {
		cfg.RetryEnabled = DefaultRetryEnabled
	}
	if rawCfg.RequeueEnabledPtr != nil {
		cfg.RequeueEnabled = *rawCfg.RequeueEnabledPtr
	} else {
		cfg.RequeueEnabled = DefaultRequeueEnabled
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults reads the configuration file, or returns the defaults
// when path is empty or the file does not exist
func LoadWithDefaults(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns a configuration with every field set to its default
func Default() *Config {
	cfg := &Config{RetryEnabled: DefaultRetryEnabled, RequeueEnabled: DefaultRequeueEnabled}
	applyDefaults(cfg)
	return cfg
}

// configWithRetryDefault is used for proper default handling of retryEnabled
// and requeueEnabled
type configWithRetryDefault struct {
	Config
	RetryEnabledPtr   *bool `json:"retryEnabled"`
	RequeueEnabledPtr *bool `json:"requeueEnabled"`
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.BoxCount == 0 {
		cfg.BoxCount = DefaultBoxCount
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FetchMinDelay == 0 {
		cfg.FetchMinDelay = DefaultFetchMinDelay
	}
	if cfg.FetchMaxDelay == 0 {
		cfg.FetchMaxDelay = DefaultFetchMaxDelay
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.RequeueDelay == 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.BoxCount < 0 {
		return fmt.Errorf("boxCount must be non-negative")
	}

	if cfg.Debounce < 0 {
		return fmt.Errorf("debounce must be non-negative")
	}

	// A zero minimum would not emulate any latency at all
	if cfg.FetchMinDelay <= 0 {
		return fmt.Errorf("fetchMinDelay must be positive")
	}

	if cfg.FetchMaxDelay < cfg.FetchMinDelay {
		return fmt.Errorf("fetchMaxDelay (%d) must not be less than fetchMinDelay (%d)",
			cfg.FetchMaxDelay, cfg.FetchMinDelay)
	}

	if cfg.FetchFailureRate < 0 || cfg.FetchFailureRate > 1 {
		return fmt.Errorf("fetchFailureRate must be between 0 and 1")
	}

	if cfg.EventBuffer < 0 {
		return fmt.Errorf("eventBuffer must be non-negative")
	}

	if cfg.RetryMaxAttempts < 0 {
		return fmt.Errorf("retryMaxAttempts must be non-negative")
	}

	if cfg.RetryBackoff < 0 {
		return fmt.Errorf("retryBackoff must be non-negative")
	}

	if cfg.RequeueDelay < 0 {
		return fmt.Errorf("requeueDelay must be non-negative")
	}

	if cfg.HistorySize < 0 {
		return fmt.Errorf("historySize must be non-negative")
	}

	if cfg.MaxSessions < 0 {
		return fmt.Errorf("maxSessions must be non-negative")
	}

	if cfg.Simulator != nil {
		if cfg.Simulator.WindowSize < 0 || cfg.Simulator.Step < 0 || cfg.Simulator.Stride < 0 {
			return fmt.Errorf("simulator values must be non-negative")
		}
	}

	if cb := cfg.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 0 || cb.RecoveryTimeout < 0 || cb.HalfOpenMaxRequests < 0 {
			return fmt.Errorf("circuitBreaker values must be non-negative")
		}
	}

	return nil
}
