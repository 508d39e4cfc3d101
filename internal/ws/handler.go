// Package ws serves viewport sessions over websocket using JSON-RPC 2.0.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"viewfetch/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles websocket connections, one session per connection
type Handler struct {
	manager *session.Manager
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHandler creates a new websocket handler
func NewHandler(manager *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger.With().Str("component", "ws").Logger(),
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP handles websocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	logger := h.logger.With().Str("remoteAddr", r.RemoteAddr).Logger()
	client := NewClient(conn, logger)

	sess, err := h.manager.Create(client)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, session.ErrTooManySessions) {
			code = websocket.CloseTryAgainLater
		}
		logger.Warn().Err(err).Msg("rejecting websocket connection")
		msg := websocket.FormatCloseMessage(code, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer h.manager.Remove(sess.ID())

	h.track(client)
	defer h.untrack(client)

	client.Attach(sess)
	if err := sess.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start session")
		client.Close()
		return
	}

	logger.Info().Str("session", sess.ID()).Msg("new websocket session")
	client.Run(r.Context())
}

// ClientCount returns the number of open connections
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll closes every open connection
func (h *Handler) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.Debug().Int("clients", len(clients)).Msg("closed websocket clients")
}

func (h *Handler) track(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
