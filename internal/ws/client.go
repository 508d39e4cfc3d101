package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"viewfetch/internal/box"
	"viewfetch/internal/jsonrpc"
	"viewfetch/internal/session"
	"viewfetch/internal/viewport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
	sendBuffer     = 256
)

// Client is one websocket connection. It is the viewport Observer of its
// session: observe/disconnect commands travel to the browser as
// notifications and intersection entries come back as viewport_entries.
type Client struct {
	conn    *websocket.Conn
	session *session.Session
	logger  zerolog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new websocket client
func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		conn:      conn,
		logger:    logger,
		sendChan:  make(chan []byte, sendBuffer),
		closeChan: make(chan struct{}),
	}
}

// Attach binds the client to its session and subscribes to box changes.
// Must be called before Run.
func (c *Client) Attach(s *session.Session) {
	c.session = s
	c.logger = c.logger.With().Str("session", s.ID()).Logger()
	s.Store().OnChange(func(changed []box.Box) {
		c.notify(NotifyBoxesUpdate, BoxesParams{Boxes: changed})
	})
	c.notify(NotifySessionCreated, SessionParams{Session: s.ID()})
}

// Observe implements viewport.Observer
func (c *Client) Observe(ids []string) error {
	if c.closed() {
		return viewport.ErrObserverClosed
	}
	c.notify(NotifyViewportObserve, ObserveParams{IDs: ids})
	return nil
}

// Disconnect implements viewport.Observer
func (c *Client) Disconnect() error {
	if c.closed() {
		return viewport.ErrObserverClosed
	}
	c.notify(NotifyViewportDisconnect, nil)
	return nil
}

// Run starts the client read and write loops and blocks until the
// connection is closed
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(ctx)

	c.readPump(ctx)
}

// readPump reads messages from the websocket connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handleMessage(data)
	}
}

// writePump writes messages to the websocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(data []byte) {
	requests, isBatch, err := jsonrpc.ParseBatchRequest(data)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = jsonrpc.ErrParse
		}
		c.sendError(jsonrpc.NewIDNull(), rpcErr)
		return
	}

	if !isBatch {
		if resp := c.handleSingle(requests[0]); resp != nil {
			c.sendResponse(resp)
		}
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		if resp := c.handleSingle(req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) > 0 {
		c.sendBatchResponse(responses)
	}
}

// handleSingle handles one request. Notifications get no response.
func (c *Client) handleSingle(req *jsonrpc.Request) *jsonrpc.Response {
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	}

	result, rpcErr := c.dispatch(req)
	if req.IsNotification() {
		if rpcErr != nil {
			c.logger.Debug().Str("method", req.Method).Str("error", rpcErr.Message).Msg("notification failed")
		}
		return nil
	}
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

// dispatch runs a method against the session
func (c *Client) dispatch(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	switch req.Method {
	case MethodViewportEntries:
		var entries []viewport.Entry
		if err := req.PositionalParam(0, &entries); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
		}
		return c.session.Entries(entries), nil

	case MethodViewportToggle:
		observing, err := c.session.Toggle()
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
		}
		return ToggleResult{Observing: observing}, nil

	case MethodBoxesReset:
		c.session.Reset()
		return true, nil

	case MethodBoxesList:
		return c.session.Boxes(), nil
	}

	return nil, jsonrpc.ErrMethodNotFound
}

// notify sends a server notification
func (c *Client) notify(method string, params interface{}) {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Msg("failed to build notification")
		return
	}
	data, err := n.Bytes()
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Msg("failed to marshal notification")
		return
	}
	c.send(data)
}

// sendResponse sends a JSON-RPC response
func (c *Client) sendResponse(resp *jsonrpc.Response) {
	data, err := resp.Bytes()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal response")
		return
	}
	c.send(data)
}

// sendBatchResponse sends a batch of JSON-RPC responses
func (c *Client) sendBatchResponse(responses []*jsonrpc.Response) {
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal batch response")
		return
	}
	c.send(data)
}

// sendError sends a JSON-RPC error response
func (c *Client) sendError(id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	c.sendResponse(jsonrpc.NewErrorResponse(id, rpcErr))
}

// send queues data for the write pump
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		// Channel full, drop message
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.closeChan:
		return true
	default:
		return false
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
