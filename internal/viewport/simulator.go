package viewport

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Simulator is an in-process Observer that scrolls a fixed-size window
// back and forth over the observed ids and reports the boxes that enter
// and leave it. With a zero step it only moves through ScrollTo.
type Simulator struct {
	window   int
	stride   int
	step     time.Duration
	callback EntriesFunc
	logger   zerolog.Logger

	mu        sync.Mutex
	ids       []string
	pos       int
	direction int
	observing bool
	stop      chan struct{}
	done      chan struct{}
}

// NewSimulator creates a scroll simulator. Entries are delivered to callback.
func NewSimulator(window, stride int, step time.Duration, logger zerolog.Logger) *Simulator {
	if window < 1 {
		window = 1
	}
	if stride < 1 {
		stride = 1
	}
	return &Simulator{
		window:    window,
		stride:    stride,
		step:      step,
		direction: 1,
		logger:    logger.With().Str("component", "simulator").Logger(),
	}
}

// SetCallback sets the entries callback. Must be called before Observe.
func (s *Simulator) SetCallback(fn EntriesFunc) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// Observe starts reporting for ids. Like a browser intersection observer,
// it immediately reports the current state of every observed id.
func (s *Simulator) Observe(ids []string) error {
	s.mu.Lock()
	if s.observing {
		s.mu.Unlock()
		return nil
	}
	s.ids = append([]string(nil), ids...)
	s.pos = clamp(s.pos, 0, s.maxPos())
	s.observing = true

	initial := make([]Entry, len(s.ids))
	for i, id := range s.ids {
		initial[i] = Entry{ID: id, Intersecting: s.inWindow(i, s.pos)}
	}
	callback := s.callback

	if s.step > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.stop, s.done)
	}
	s.mu.Unlock()

	if callback != nil {
		callback(initial)
	}
	return nil
}

// Disconnect stops reporting
func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	if !s.observing {
		s.mu.Unlock()
		return nil
	}
	s.observing = false
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Position returns the index of the first visible id
func (s *Simulator) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// ScrollTo moves the window so that it starts at pos and reports the
// transitions. Positions are clamped to the observed range.
func (s *Simulator) ScrollTo(pos int) {
	s.mu.Lock()
	entries := s.moveLocked(pos)
	callback := s.callback
	observing := s.observing
	s.mu.Unlock()

	if observing && callback != nil && len(entries) > 0 {
		callback(entries)
	}
}

func (s *Simulator) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.step)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			maxPos := s.maxPos()
			next := s.pos + s.direction*s.stride
			if next > maxPos || next < 0 {
				// bounce at either end
				s.direction = -s.direction
				next = s.pos + s.direction*s.stride
			}
			entries := s.moveLocked(next)
			callback := s.callback
			s.mu.Unlock()

			if callback != nil && len(entries) > 0 {
				callback(entries)
			}
		}
	}
}

// moveLocked moves the window and returns entries for ids whose
// visibility changed
func (s *Simulator) moveLocked(pos int) []Entry {
	pos = clamp(pos, 0, s.maxPos())
	if pos == s.pos {
		return nil
	}

	var entries []Entry
	for i, id := range s.ids {
		was := s.inWindow(i, s.pos)
		now := s.inWindow(i, pos)
		if was != now {
			entries = append(entries, Entry{ID: id, Intersecting: now})
		}
	}
	s.pos = pos
	return entries
}

func (s *Simulator) inWindow(i, pos int) bool {
	return i >= pos && i < pos+s.window
}

func (s *Simulator) maxPos() int {
	if len(s.ids) <= s.window {
		return 0
	}
	return len(s.ids) - s.window
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
