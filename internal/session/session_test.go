package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"viewfetch/internal/config"
	"viewfetch/internal/fetch"
	"viewfetch/internal/viewport"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BoxCount = 10
	cfg.Debounce = 20
	cfg.HistorySize = 8
	cfg.MaxSessions = 2
	return cfg
}

func testFetcher() fetch.Fetcher {
	return fetch.NewSimulatedFetcher(5*time.Millisecond, 10*time.Millisecond, zerolog.Nop()).WithSeed(1)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newSimulatedSession(t *testing.T, m *Manager, window int) (*Session, *viewport.Simulator) {
	t.Helper()
	sim := viewport.NewSimulator(window, 1, 0, zerolog.Nop())
	s, err := m.Create(sim)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sim.SetCallback(func(entries []viewport.Entry) { s.Entries(entries) })
	t.Cleanup(s.Close)
	return s, sim
}

func TestSession_VisibleBoxesGetLoaded(t *testing.T) {
	m := NewManager(testConfig(), testFetcher(), zerolog.Nop())
	s, _ := newSimulatedSession(t, m, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return s.Stats().Loaded == 2 })
	s.WaitFetches()

	for _, b := range s.Boxes() {
		want := b.ID == "0" || b.ID == "1"
		if b.Loaded != want {
			t.Errorf("box %s loaded = %v, want %v", b.ID, b.Loaded, want)
		}
	}

	stats := s.Stats()
	if stats.Fetch.Batches != 1 || stats.Reducer.Batches != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if h := s.History(); len(h) != 1 || h[0].State != fetch.StateComplete {
		t.Errorf("history = %+v", h)
	}

	if n := s.Reset(); n != 2 {
		t.Errorf("Reset changed %d boxes, want 2", n)
	}
	if s.Stats().Loaded != 0 {
		t.Error("boxes still loaded after reset")
	}
}

func TestSession_ScrollingLoadsNewBoxes(t *testing.T) {
	m := NewManager(testConfig(), testFetcher(), zerolog.Nop())
	s, sim := newSimulatedSession(t, m, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Loaded == 2 })

	// Fast scroll: boxes 2..5 pass through the window inside one debounce window
	sim.ScrollTo(2)
	sim.ScrollTo(4)
	sim.ScrollTo(6)

	waitFor(t, func() bool {
		b6, _ := s.Store().Get("6")
		b7, _ := s.Store().Get("7")
		return b6.Loaded && b7.Loaded
	})
	s.WaitFetches()

	for _, id := range []string{"2", "3", "4", "5"} {
		if b, _ := s.Store().Get(id); b.Loaded {
			t.Errorf("box %s loaded although it only flashed past", id)
		}
	}
	if got := s.Stats().Fetch.Batches; got != 2 {
		t.Errorf("batches = %d, want 2", got)
	}
}

func TestSession_ToggleStopsObservation(t *testing.T) {
	m := NewManager(testConfig(), testFetcher(), zerolog.Nop())
	s, sim := newSimulatedSession(t, m, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Loaded == 2 })

	observing, err := s.Toggle()
	if err != nil || observing {
		t.Fatalf("Toggle = %v, %v", observing, err)
	}

	sim.ScrollTo(8)
	time.Sleep(60 * time.Millisecond)
	if b, _ := s.Store().Get("8"); b.Loaded {
		t.Error("box 8 loaded while not observing")
	}

	// Re-observing reports the current window
	observing, err = s.Toggle()
	if err != nil || !observing {
		t.Fatalf("Toggle = %v, %v", observing, err)
	}
	waitFor(t, func() bool {
		b, _ := s.Store().Get("9")
		return b.Loaded
	})
}

func TestSession_CloseDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	fetcher := fetch.FetcherFunc(func(ctx context.Context, ids []string) (*fetch.Response, error) {
		<-release
		return &fetch.Response{IDs: ids}, nil
	})
	m := NewManager(testConfig(), fetcher, zerolog.Nop())
	s, _ := newSimulatedSession(t, m, 3)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Fetch.InFlight == 1 })

	m.Remove(s.ID())
	close(release)
	s.WaitFetches()

	if s.Stats().Loaded != 0 {
		t.Error("store written after session close")
	}
	if err := s.Start(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start after close err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_FailedBatchLoadsLater(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMaxAttempts = 2
	cfg.RetryBackoff = 1
	cfg.RequeueDelay = 20

	var calls atomic.Int32
	fetcher := fetch.FetcherFunc(func(ctx context.Context, ids []string) (*fetch.Response, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("connection reset")
		}
		return &fetch.Response{IDs: ids}, nil
	})
	m := NewManager(cfg, fetcher, zerolog.Nop())
	s, sim := newSimulatedSession(t, m, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Fetch.Failed == 1 })

	// Box 0 leaves and comes back while its ids wait to go out again
	sim.ScrollTo(5)
	sim.ScrollTo(0)

	waitFor(t, func() bool {
		b0, _ := s.Store().Get("0")
		b1, _ := s.Store().Get("1")
		return b0.Loaded && b1.Loaded
	})
}

func TestSession_ResetDuringFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := fetch.FetcherFunc(func(ctx context.Context, ids []string) (*fetch.Response, error) {
		if calls.Add(1) > 1 {
			<-release
		}
		return &fetch.Response{IDs: ids}, nil
	})
	m := NewManager(testConfig(), fetcher, zerolog.Nop())
	s, sim := newSimulatedSession(t, m, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Loaded == 2 })

	sim.ScrollTo(4)
	waitFor(t, func() bool { return s.Stats().Fetch.InFlight == 1 })

	if n := s.Reset(); n != 2 {
		t.Errorf("Reset changed %d boxes, want 2", n)
	}
	if s.Stats().Loaded != 0 {
		t.Fatal("boxes still loaded after reset")
	}

	close(release)
	s.WaitFetches()

	for _, b := range s.Boxes() {
		want := b.ID == "4" || b.ID == "5"
		if b.Loaded != want {
			t.Errorf("box %s loaded = %v, want %v", b.ID, b.Loaded, want)
		}
	}
}

func TestManager_Registry(t *testing.T) {
	m := NewManager(testConfig(), testFetcher(), zerolog.Nop())

	a, _ := newSimulatedSession(t, m, 2)
	b, _ := newSimulatedSession(t, m, 2)

	if m.Count() != 2 || len(m.List()) != 2 {
		t.Fatalf("Count = %d", m.Count())
	}
	if _, err := m.Create(viewport.NewSimulator(1, 1, 0, zerolog.Nop())); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("Create over limit err = %v, want ErrTooManySessions", err)
	}

	got, err := m.Get(a.ID())
	if err != nil || got != a {
		t.Errorf("Get = %v, %v", got, err)
	}

	m.Remove(a.ID())
	if _, err := m.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get removed err = %v, want ErrSessionNotFound", err)
	}

	m.CloseAll()
	if m.Count() != 0 {
		t.Errorf("Count after CloseAll = %d", m.Count())
	}
	if _, err := m.Get(b.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after CloseAll err = %v", err)
	}
}
