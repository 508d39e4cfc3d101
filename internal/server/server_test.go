package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"viewfetch/internal/box"
	"viewfetch/internal/config"
	"viewfetch/internal/fetch"
	"viewfetch/internal/session"
	"viewfetch/internal/ws"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.BoxCount = 4
	cfg.Debounce = 10
	cfg.FetchMinDelay = 1
	cfg.FetchMaxDelay = 5
	return cfg
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// connect opens a websocket session and returns its id
func connect(t *testing.T, base string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var n struct {
			Method string           `json:"method"`
			Params ws.SessionParams `json:"params"`
		}
		if json.Unmarshal(data, &n) == nil && n.Method == ws.NotifySessionCreated {
			return conn, n.Params.Session
		}
	}
}

func TestServer_SessionEndpoints(t *testing.T) {
	s := New(testConfig(), zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Manager().CloseAll()

	var health map[string]any
	if code := getJSON(t, srv.URL+"/healthz", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("healthz = %d %v", code, health)
	}

	conn, id := connect(t, srv.URL)

	entries := `{"jsonrpc":"2.0","method":"viewport_entries","params":[[{"id":"2","isIntersecting":true}]]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(entries)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var boxes []box.Box
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getJSON(t, srv.URL+"/sessions/"+id+"/boxes", &boxes)
		if len(boxes) == 4 && boxes[2].Loaded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(boxes) != 4 || !boxes[2].Loaded || boxes[0].Loaded {
		t.Fatalf("boxes = %+v", boxes)
	}

	var list []session.Stats
	if code := getJSON(t, srv.URL+"/sessions", &list); code != http.StatusOK || len(list) != 1 || list[0].ID != id {
		t.Fatalf("sessions = %d %+v", code, list)
	}
	if list[0].Loaded != 1 || !list[0].Observing {
		t.Errorf("stats = %+v", list[0])
	}

	var fetches []fetch.Record
	getJSON(t, srv.URL+"/sessions/"+id+"/fetches", &fetches)
	if len(fetches) != 1 || fetches[0].IDs[0] != "2" {
		t.Errorf("fetches = %+v", fetches)
	}

	var reset map[string]int
	if code := postJSON(t, srv.URL+"/sessions/"+id+"/reset", &reset); code != http.StatusOK || reset["reset"] != 1 {
		t.Errorf("reset = %d %v", code, reset)
	}

	var toggle ws.ToggleResult
	if code := postJSON(t, srv.URL+"/sessions/"+id+"/toggle", &toggle); code != http.StatusOK || toggle.Observing {
		t.Errorf("toggle = %d %+v", code, toggle)
	}
}

func TestServer_UnknownSession(t *testing.T) {
	s := New(testConfig(), zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, path := range []string{"/sessions/nope", "/sessions/nope/boxes", "/sessions/nope/fetches"} {
		if code := getJSON(t, srv.URL+path, nil); code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
	if code := postJSON(t, srv.URL+"/sessions/nope/reset", nil); code != http.StatusNotFound {
		t.Errorf("POST reset = %d, want 404", code)
	}
	if code := getJSON(t, srv.URL+"/sessions/nope/reset", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET reset = %d, want 405", code)
	}
}

type brokenObserver struct{}

func (brokenObserver) Observe([]string) error { return errors.New("observer gone") }
func (brokenObserver) Disconnect() error      { return nil }

func TestServer_ToggleObserverFailure(t *testing.T) {
	s := New(testConfig(), zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Manager().CloseAll()

	sess, err := s.Manager().Create(brokenObserver{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if code := postJSON(t, srv.URL+"/sessions/"+sess.ID()+"/toggle", nil); code != http.StatusInternalServerError {
		t.Errorf("toggle = %d, want 500", code)
	}
	if sess.Observing() {
		t.Error("session observing after failed toggle")
	}
}

func TestServer_StartStop(t *testing.T) {
	s := New(testConfig(), zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := "http://" + s.Addr()
	conn, _ := connect(t, base)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if s.Manager().Count() != 0 {
		t.Errorf("sessions after Stop = %d", s.Manager().Count())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if _, err := http.Get(base + "/healthz"); err == nil {
		t.Error("server still accepting requests after Stop")
	}
}

func TestNewFetcher_WrapsBreaker(t *testing.T) {
	cfg := testConfig()
	if _, ok := newFetcher(cfg, zerolog.Nop()).(*fetch.SimulatedFetcher); !ok {
		t.Error("expected bare simulated fetcher without breaker config")
	}

	cfg.CircuitBreaker = &config.CircuitBreakerConfig{Enabled: true}
	if _, ok := newFetcher(cfg, zerolog.Nop()).(*fetch.Breaker); !ok {
		t.Error("expected breaker when enabled")
	}
}
