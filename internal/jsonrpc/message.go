// Package jsonrpc carries the JSON-RPC 2.0 messages exchanged with a
// browser session over the websocket.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var null = []byte("null")

// ID is a request id kept as the raw JSON the client sent, so a response
// echoes it byte for byte. The zero value is the null id.
type ID struct {
	raw json.RawMessage
}

// NewIDNull returns the null id used when a request id cannot be read
func NewIDNull() ID {
	return ID{}
}

// IsNull reports whether the id is absent or null
func (id ID) IsNull() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, null)
}

// String returns the id as it appeared on the wire
func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return string(id.raw)
}

func (id ID) valid() bool {
	if id.IsNull() {
		return true
	}
	switch c := id.raw[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNull() {
		return null, nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	id.raw = append(id.raw[:0], data...)
	return nil
}

// Request is a call or, without an id, a client notification
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Validate checks the envelope fields
func (r *Request) Validate() error {
	switch {
	case r.JSONRPC != Version:
		return fmt.Errorf("unsupported jsonrpc version %q", r.JSONRPC)
	case r.Method == "":
		return errors.New("missing method")
	case !r.ID.valid():
		return fmt.Errorf("id must be a string, number or null, got %s", r.ID)
	}
	return nil
}

// IsNotification reports whether the caller expects no response
func (r *Request) IsNotification() bool {
	return r.ID.IsNull()
}

// PositionalParam decodes params[index] into v. Params must be an array.
func (r *Request) PositionalParam(index int, v any) error {
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return fmt.Errorf("params must be an array: %w", err)
	}
	if index >= len(params) {
		return fmt.Errorf("missing param %d", index)
	}
	if err := json.Unmarshal(params[index], v); err != nil {
		return fmt.Errorf("param %d: %w", index, err)
	}
	return nil
}

// ParseBatchRequest decodes one request or an array of them. The bool
// result reports whether the input was an array, which decides whether
// the reply must be one too.
func ParseBatchRequest(data []byte) ([]*Request, bool, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return nil, false, ErrInvalidRequest
	}

	if data[0] != '[' {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, false, fmt.Errorf("failed to parse request: %w", err)
		}
		return []*Request{&req}, false, nil
	}

	var batch []*Request
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, true, fmt.Errorf("failed to parse batch request: %w", err)
	}
	if len(batch) == 0 {
		return nil, true, ErrInvalidRequest
	}
	return batch, true, nil
}

// Response answers a Request with either a result or an error
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewResponse answers id with result. A nil result is sent as null.
func NewResponse(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse answers id with err
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

// Bytes encodes the response
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// MarshalBatchResponse encodes the replies to a batch as one array
func MarshalBatchResponse(responses []*Response) ([]byte, error) {
	if len(responses) == 0 {
		return nil, errors.New("empty batch response")
	}
	return json.Marshal(responses)
}

// Notification is a server-initiated message; it never gets a reply
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification builds a notification. Nil params are omitted.
func NewNotification(method string, params any) (*Notification, error) {
	n := &Notification{JSONRPC: Version, Method: method}
	if params == nil {
		return n, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	n.Params = raw
	return n, nil
}

// Bytes encodes the notification
func (n *Notification) Bytes() ([]byte, error) {
	return json.Marshal(n)
}
