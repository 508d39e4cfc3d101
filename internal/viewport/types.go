package viewport

import (
	"errors"

	"viewfetch/internal/visibility"
)

// ErrObserverClosed is returned when an observer can no longer deliver commands
var ErrObserverClosed = errors.New("observer closed")

// Entry is one intersection report for an observed element
type Entry struct {
	ID           string `json:"id"`
	Intersecting bool   `json:"isIntersecting"`
}

// Event converts the entry into a visibility event
func (e Entry) Event() visibility.Event {
	return visibility.Event{ID: e.ID, Visible: e.Intersecting}
}

// EntriesFunc delivers a list of intersection entries
type EntriesFunc func(entries []Entry)

// Observer is the viewport-intersection mechanism. Observe starts
// reporting entries for the given ids through the callback the observer
// was set up with; Disconnect stops all reporting.
type Observer interface {
	Observe(ids []string) error
	Disconnect() error
}

// Sink accepts one visibility event, returning false if it was dropped
type Sink func(e visibility.Event) bool

// State is the observation state
type State int

const (
	StateIdle State = iota
	StateObserving
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateObserving:
		return "observing"
	default:
		return "unknown"
	}
}
