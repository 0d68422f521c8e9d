// Package daemon provides the client and protocol types for talking to the
// notes service over NDJSON, either on a Unix socket or a websocket.
package daemon

import (
	"errors"
	"fmt"
)

// Command names.
const (
	CmdSubscribe = "subscribe"
	CmdStart     = "start"
	CmdStop      = "stop"
	CmdStatus    = "status"
)

// Event names.
const (
	EventNotes  = "notes"
	EventStatus = "status"
	EventError  = "error"
	EventLevel  = "level"
)

// ErrRejected is wrapped by Response.Err when the service answers ok=false.
var ErrRejected = errors.New("command rejected")

// Command is sent from a client to the service.
type Command struct {
	Cmd       string `json:"cmd"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Response is returned by the service after processing a command.
type Response struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Err returns nil for an ok response and an error wrapping ErrRejected
// otherwise.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, r.Error)
}

// Note is the wire form of a generated note. UpdatedAt is unix milliseconds.
type Note struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Content   string `json:"content,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Event is streamed from the service to subscribed clients.
type Event struct {
	Event     string    `json:"event"`
	Notes     []Note    `json:"notes,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Transient *bool     `json:"transient,omitempty"`
	Bands     []float32 `json:"bands,omitempty"`
}

// IsTransient reports whether an error event is marked transient.
func (e Event) IsTransient() bool {
	return e.Transient != nil && *e.Transient
}

// BoolPtr returns a pointer to a bool value. Convenience for building events.
func BoolPtr(b bool) *bool { return &b }
