package ws

import (
	"viewfetch/internal/box"
)

// Client to server methods
const (
	MethodViewportEntries = "viewport_entries"
	MethodViewportToggle  = "viewport_toggle"
	MethodBoxesReset      = "boxes_reset"
	MethodBoxesList       = "boxes_list"
)

// Server to client notifications
const (
	NotifyViewportObserve    = "viewport_observe"
	NotifyViewportDisconnect = "viewport_disconnect"
	NotifyBoxesUpdate        = "boxes_update"
	NotifySessionCreated     = "session_created"
)

// ObserveParams asks the client to start observing the listed elements
type ObserveParams struct {
	IDs []string `json:"ids"`
}

// BoxesParams carries boxes whose state changed
type BoxesParams struct {
	Boxes []box.Box `json:"boxes"`
}

// SessionParams announces the session bound to the connection
type SessionParams struct {
	Session string `json:"session"`
}

// ToggleResult is the viewport_toggle result
type ToggleResult struct {
	Observing bool `json:"observing"`
}
