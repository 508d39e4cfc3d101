// Package box holds the fixed collection of boxes whose content is fetched
// when they scroll into view.
package box

import (
	"strconv"
	"sync"
)

// Box is a single fetchable item
type Box struct {
	ID     string `json:"id"`
	Loaded bool   `json:"loaded"`
}

// ChangeFunc is called with the boxes whose state just changed
type ChangeFunc func(changed []Box)

// Store owns the box collection. All writes go through MarkLoaded and
// Reset, which are serialized by the store mutex.
type Store struct {
	mu        sync.RWMutex
	boxes     []Box
	index     map[string]int
	listeners []ChangeFunc
}

// NewStore creates n boxes with ids "0" to "n-1", all unloaded
func NewStore(n int) *Store {
	s := &Store{
		boxes: make([]Box, n),
		index: make(map[string]int, n),
	}
	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		s.boxes[i] = Box{ID: id}
		s.index[id] = i
	}
	return s
}

// OnChange registers a listener for state changes. Listeners run after the
// store lock is released, on the goroutine that made the change.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// MarkLoaded marks every box whose id is in ids as loaded and returns the
// ids that transitioned. Unknown ids are ignored.
func (s *Store) MarkLoaded(ids []string) []string {
	s.mu.Lock()
	var changed []Box
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok || s.boxes[i].Loaded {
			continue
		}
		s.boxes[i].Loaded = true
		changed = append(changed, s.boxes[i])
	}
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, changed)

	result := make([]string, len(changed))
	for i, b := range changed {
		result[i] = b.ID
	}
	return result
}

// Reset marks every box as not loaded
func (s *Store) Reset() int {
	s.mu.Lock()
	var changed []Box
	for i := range s.boxes {
		if s.boxes[i].Loaded {
			s.boxes[i].Loaded = false
			changed = append(changed, s.boxes[i])
		}
	}
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, changed)
	return len(changed)
}

// Get returns the box with the given id
func (s *Store) Get(id string) (Box, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Box{}, false
	}
	return s.boxes[i], true
}

// Snapshot returns a copy of all boxes in id order
func (s *Store) Snapshot() []Box {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Box, len(s.boxes))
	copy(result, s.boxes)
	return result
}

// IDs returns all box ids in order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.boxes))
	for i, b := range s.boxes {
		ids[i] = b.ID
	}
	return ids
}

// Len returns the number of boxes
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.boxes)
}

// LoadedCount returns the number of loaded boxes
func (s *Store) LoadedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.boxes {
		if b.Loaded {
			n++
		}
	}
	return n
}

func (s *Store) notify(listeners []ChangeFunc, changed []Box) {
	if len(changed) == 0 {
		return
	}
	for _, fn := range listeners {
		fn(changed)
	}
}
