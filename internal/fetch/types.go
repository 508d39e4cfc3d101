package fetch

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRunning is returned when Start is called on a running orchestrator
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Fetcher loads the content of a set of ids
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, ids []string) (*Response, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, ids []string) (*Response, error) {
	return f(ctx, ids)
}

// Response is the result of one fetch. IDs lists the ids that were
// actually returned; requested ids missing from it were not loaded.
type Response struct {
	IDs []string `json:"ids"`
}

// Marker is the narrow write surface the orchestrator needs from the box store
type Marker interface {
	MarkLoaded(ids []string) []string
}

// Batch is one debounced set of ids handed to the fetcher
type Batch struct {
	ID        string    `json:"id"`
	IDs       []string  `json:"ids"`
	CreatedAt time.Time `json:"createdAt"`
}

// State is the lifecycle state of a fetch record
type State string

const (
	StatePending   State = "pending"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateDiscarded State = "discarded" // completed after the subscription ended
)

// Record tracks one batch through the fetcher
type Record struct {
	BatchID    string    `json:"batchId"`
	IDs        []string  `json:"ids"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	Loaded     []string  `json:"loaded,omitempty"`  // ids that transitioned to loaded
	Missing    []string  `json:"missing,omitempty"` // requested ids never returned
	Error      string    `json:"error,omitempty"`
	Requeued   bool      `json:"requeued,omitempty"` // Missing was handed to a later batch
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Duration returns how long the record took, or zero while pending
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stats are point-in-time orchestrator counters
type Stats struct {
	Batches   int64 `json:"batches"`
	Attempts  int64 `json:"attempts"`
	Retries   int64 `json:"retries"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
	Requeued  int64 `json:"requeued"`
	Loaded    int64 `json:"loaded"`
	InFlight  int64 `json:"inFlight"`
}
