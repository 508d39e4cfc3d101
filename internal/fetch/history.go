package fetch

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// History keeps the most recent fetch records, evicting the oldest
type History struct {
	cache *lru.Cache[string, Record]
	mu    sync.Mutex
}

// NewHistory creates a history holding up to size records
func NewHistory(size int) (*History, error) {
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &History{cache: cache}, nil
}

// Put stores or replaces a record
func (h *History) Put(r Record) {
	h.mu.Lock()
	h.cache.Add(r.BatchID, r)
	h.mu.Unlock()
}

// Update applies fn to the stored record for batchID and stores the
// result. It returns false if the record is no longer in the history.
func (h *History) Update(batchID string, fn func(*Record)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.cache.Peek(batchID)
	if !ok {
		return false
	}
	fn(&r)
	h.cache.Add(batchID, r)
	return true
}

// Get returns the record for batchID
func (h *History) Get(batchID string) (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Peek(batchID)
}

// List returns all records, most recently updated first
func (h *History) List() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := h.cache.Keys() // oldest to newest
	records := make([]Record, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if r, ok := h.cache.Peek(keys[i]); ok {
			records = append(records, r)
		}
	}
	return records
}

// Len returns the number of stored records
func (h *History) Len() int {
	return h.cache.Len()
}

// Clear removes all records
func (h *History) Clear() {
	h.cache.Purge()
}
