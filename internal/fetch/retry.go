package fetch

import (
	"context"
	"time"
)

// RetryConfig holds retry configuration for failed or partial fetches.
// With Requeue set, ids still missing once the attempts are used up are
// dispatched again as a new batch after RequeueDelay.
type RetryConfig struct {
	Enabled      bool
	MaxAttempts  int
	Backoff      time.Duration // multiplied by the attempt number
	Requeue      bool
	RequeueDelay time.Duration
}

// allows reports whether another attempt may follow attempt
func (c RetryConfig) allows(attempt int) bool {
	if !c.Enabled {
		return false
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return attempt < maxAttempts
}

// wait sleeps for the backoff of attempt, returning false if ctx ends first
func (c RetryConfig) wait(ctx context.Context, attempt int) bool {
	d := c.Backoff * time.Duration(attempt)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// missingIDs returns the requested ids absent from returned
func missingIDs(requested, returned []string) []string {
	seen := make(map[string]bool, len(returned))
	for _, id := range returned {
		seen[id] = true
	}

	var missing []string
	for _, id := range requested {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
