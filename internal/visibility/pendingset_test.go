package visibility

import (
	"math/rand"
	"strconv"
	"testing"
)

func TestPendingSet_FoldMatchesLastEvent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rng.Intn(60)
		events := make([]Event, n)
		last := make(map[string]bool)
		for i := range events {
			id := strconv.Itoa(rng.Intn(10))
			visible := rng.Intn(2) == 0
			events[i] = Event{ID: id, Visible: visible}
			last[id] = visible
		}

		set := Fold(events)

		want := 0
		for id, visible := range last {
			if visible {
				want++
				if !set.Has(id) {
					t.Fatalf("round %d: id %s last visible but not pending", round, id)
				}
			} else if set.Has(id) {
				t.Fatalf("round %d: id %s last hidden but pending", round, id)
			}
		}
		if set.Len() != want {
			t.Fatalf("round %d: Len = %d, want %d", round, set.Len(), want)
		}
		if !set.Equal(NewPendingSet(set.Keys()...)) {
			t.Fatalf("round %d: rebuilt set not equal", round)
		}
	}
}

func TestPendingSet_ApplyKeepsInstanceWhenUnchanged(t *testing.T) {
	s := EmptySet().Apply(Visible("A"))

	if got := s.Apply(Visible("A")); got != s {
		t.Error("visible twice should return the same instance")
	}
	if got := s.Apply(Hidden("B")); got != s {
		t.Error("hiding a non-pending id should return the same instance")
	}
	if got := EmptySet().Apply(Hidden("A")); got != EmptySet() {
		t.Error("hiding on the empty set should return the empty set")
	}
}

func TestPendingSet_ApplyReturnsNewInstanceOnChange(t *testing.T) {
	a := EmptySet().Apply(Visible("A"))
	ab := a.Apply(Visible("B"))

	if ab == a {
		t.Fatal("adding an id should return a new instance")
	}
	if a.Len() != 1 || a.Has("B") {
		t.Error("receiver was mutated")
	}

	b := ab.Apply(Hidden("A"))
	if b == ab || !b.Has("B") || b.Has("A") {
		t.Errorf("removal result = %v", b.Keys())
	}
	if !ab.Has("A") {
		t.Error("receiver was mutated by removal")
	}
}

func TestPendingSet_RemovalKeepsUnrelatedIDs(t *testing.T) {
	const n = 10000

	s := EmptySet()
	for i := 0; i < n; i++ {
		s = s.Apply(Visible(strconv.Itoa(i)))
	}

	s = s.Apply(Hidden("5000"))

	if s.Len() != n-1 {
		t.Fatalf("Len = %d, want %d", s.Len(), n-1)
	}
	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		if id == "5000" {
			if s.Has(id) {
				t.Fatal("removed id still pending")
			}
			continue
		}
		if !s.Has(id) {
			t.Fatalf("unrelated id %s dropped", id)
		}
	}
}

func TestPendingSet_EqualIsStructural(t *testing.T) {
	x := Fold([]Event{Visible("A"), Visible("B"), Visible("C")})
	y := Fold([]Event{Visible("C"), Visible("A"), Visible("D"), Visible("B"), Hidden("D")})

	if x == y {
		t.Fatal("test needs distinct instances")
	}
	if !x.Equal(y) {
		t.Error("sets with the same members should be equal")
	}
	if x.Digest() != y.Digest() {
		t.Error("digest should not depend on insertion order")
	}
	if x.Equal(NewPendingSet("A", "B")) {
		t.Error("sets with different members should not be equal")
	}
	if !EmptySet().Equal(Fold([]Event{Visible("A"), Hidden("A")})) {
		t.Error("empty sets should be equal")
	}
}

func TestPendingSet_KeysSortedAndUnique(t *testing.T) {
	s := NewPendingSet("b", "a", "c", "a")

	keys := s.Keys()
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys = %v, want %v", keys, want)
		}
	}
}
