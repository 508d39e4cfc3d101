package visibility

// Event is a single visible/hidden transition reported for one item
type Event struct {
	ID      string `json:"id"`
	Visible bool   `json:"visible"`
}

// Visible creates an event marking id as visible
func Visible(id string) Event {
	return Event{ID: id, Visible: true}
}

// Hidden creates an event marking id as hidden
func Hidden(id string) Event {
	return Event{ID: id, Visible: false}
}

// Stats are point-in-time reducer counters
type Stats struct {
	Events      int64 `json:"events"`      // events consumed
	Transitions int64 `json:"transitions"` // events that changed the pending set
	Suppressed  int64 `json:"suppressed"`  // events that left the pending set unchanged
	Settled     int64 `json:"settled"`     // debounce windows that elapsed
	Batches     int64 `json:"batches"`     // batches emitted downstream
}
