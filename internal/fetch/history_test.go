package fetch

import (
	"testing"
)

func TestHistory_EvictsOldest(t *testing.T) {
	h, err := NewHistory(2)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}

	h.Put(Record{BatchID: "a", State: StatePending})
	h.Put(Record{BatchID: "b", State: StatePending})
	h.Put(Record{BatchID: "c", State: StatePending})

	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}
	if _, ok := h.Get("a"); ok {
		t.Error("oldest record should have been evicted")
	}

	list := h.List()
	if list[0].BatchID != "c" || list[1].BatchID != "b" {
		t.Errorf("List order = %s, %s", list[0].BatchID, list[1].BatchID)
	}
}

func TestHistory_Update(t *testing.T) {
	h, err := NewHistory(4)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	h.Put(Record{BatchID: "a", State: StatePending})

	ok := h.Update("a", func(r *Record) { r.State = StateComplete })
	if !ok {
		t.Fatal("Update returned false")
	}
	if r, _ := h.Get("a"); r.State != StateComplete {
		t.Errorf("State = %s", r.State)
	}
	if h.Update("missing", func(r *Record) {}) {
		t.Error("Update on unknown id should return false")
	}

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len after Clear = %d", h.Len())
	}
}

func TestNewHistory_InvalidSize(t *testing.T) {
	if _, err := NewHistory(0); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestMissingIDs(t *testing.T) {
	got := missingIDs([]string{"1", "2", "3"}, []string{"3", "1"})
	if len(got) != 1 || got[0] != "2" {
		t.Errorf("missingIDs = %v, want [2]", got)
	}
	if got := missingIDs([]string{"1"}, []string{"1"}); len(got) != 0 {
		t.Errorf("missingIDs = %v, want none", got)
	}
}

func TestRetryConfig_Allows(t *testing.T) {
	tests := []struct {
		cfg     RetryConfig
		attempt int
		want    bool
	}{
		{RetryConfig{Enabled: false, MaxAttempts: 5}, 1, false},
		{RetryConfig{Enabled: true, MaxAttempts: 3}, 1, true},
		{RetryConfig{Enabled: true, MaxAttempts: 3}, 3, false},
		{RetryConfig{Enabled: true, MaxAttempts: 0}, 1, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.allows(tt.attempt); got != tt.want {
			t.Errorf("%+v.allows(%d) = %v, want %v", tt.cfg, tt.attempt, got, tt.want)
		}
	}
}
