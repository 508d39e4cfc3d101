package visibility

import "sort"

// PendingSet is an immutable set of ids that are visible and awaiting fetch.
//
// Apply never mutates the receiver: a transition that changes membership
// returns a new set, anything else returns the receiver itself. Equality
// is structural; the digest is an order-independent sum of per-id hashes,
// so two sets with the same members always share a digest.
type PendingSet struct {
	ids    map[string]struct{}
	digest uint64
}

var emptySet = &PendingSet{ids: map[string]struct{}{}}

// EmptySet returns the shared empty set
func EmptySet() *PendingSet {
	return emptySet
}

// NewPendingSet creates a set holding the given ids
func NewPendingSet(ids ...string) *PendingSet {
	if len(ids) == 0 {
		return emptySet
	}
	s := &PendingSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.digest += hashString(id)
	}
	return s
}

// Fold applies events in order starting from the empty set
func Fold(events []Event) *PendingSet {
	s := EmptySet()
	for _, e := range events {
		s = s.Apply(e)
	}
	return s
}

// Apply folds a single event into the set
func (s *PendingSet) Apply(e Event) *PendingSet {
	_, pending := s.ids[e.ID]

	switch {
	case e.Visible && !pending:
		// hidden -> visible
		next := &PendingSet{
			ids:    make(map[string]struct{}, len(s.ids)+1),
			digest: s.digest + hashString(e.ID),
		}
		for id := range s.ids {
			next.ids[id] = struct{}{}
		}
		next.ids[e.ID] = struct{}{}
		return next

	case !e.Visible && pending:
		// visible -> hidden: rebuild with every other key
		if len(s.ids) == 1 {
			return emptySet
		}
		next := &PendingSet{
			ids:    make(map[string]struct{}, len(s.ids)-1),
			digest: s.digest - hashString(e.ID),
		}
		for id := range s.ids {
			if id != e.ID {
				next.ids[id] = struct{}{}
			}
		}
		return next

	default:
		return s
	}
}

// Has reports whether id is pending
func (s *PendingSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of pending ids
func (s *PendingSet) Len() int {
	return len(s.ids)
}

// Digest returns the order-independent content hash of the set
func (s *PendingSet) Digest() uint64 {
	return s.digest
}

// Keys returns the pending ids in ascending order
func (s *PendingSet) Keys() []string {
	keys := make([]string, 0, len(s.ids))
	for id := range s.ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both sets hold exactly the same ids
func (s *PendingSet) Equal(other *PendingSet) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if len(s.ids) != len(other.ids) || s.digest != other.digest {
		return false
	}
	for id := range s.ids {
		if _, ok := other.ids[id]; !ok {
			return false
		}
	}
	return true
}

// hashString creates an FNV-1a hash of an id
func hashString(s string) uint64 {
	var hash uint64 = 14695981039346656037 // FNV-1a offset basis
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= 1099511628211 // FNV-1a prime
	}
	return hash
}
