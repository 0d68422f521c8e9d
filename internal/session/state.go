// Package session holds the vox session state machine, the controller that
// binds it to a live connection handle, and the scope through which
// presentation code reads it.
package session

import (
	"slices"
	"time"
)

// Status is the high-level phase of the capture-to-notes workflow.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusWriting   Status = "writing"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{StatusIdle, StatusStarting, StatusRecording, StatusWriting, StatusReady, StatusFailed}

// NoteStatus is the generation state of a single note.
type NoteStatus string

const (
	NotePending    NoteStatus = "pending"
	NoteGenerating NoteStatus = "generating"
	NoteReady      NoteStatus = "ready"
	NoteFailed     NoteStatus = "failed"
)

// Note is a transcription or summary artifact produced by the notes service.
type Note struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    NoteStatus `json:"status"`
	Content   string     `json:"content,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// State is one snapshot of the session. The zero value is not meaningful;
// use Initial. States are only produced by Reduce and never mutated.
type State struct {
	status Status
	notes  []Note
	err    error
}

// Initial returns the idle state with no notes.
func Initial() State {
	return State{status: StatusIdle}
}

func (s State) Status() Status { return s.status }

// Notes returns a copy of the note snapshot.
func (s State) Notes() []Note { return slices.Clone(s.notes) }

// Err is the error that moved the session into failed, nil otherwise.
func (s State) Err() error {
	if s.status != StatusFailed {
		return nil
	}
	return s.err
}

// IsRecording reports whether the user perceives capture as active.
func (s State) IsRecording() bool {
	return s.status == StatusRecording || s.status == StatusStarting
}

// RemoteStatus is a status string pushed by the notes service.
type RemoteStatus string

const (
	RemoteCompleted  RemoteStatus = "completed"
	RemoteWriting    RemoteStatus = "writing"
	RemoteProcessing RemoteStatus = "processing"
)

// EventKind tags an Event.
type EventKind int

const (
	EventReset EventKind = iota + 1
	EventStartRecording
	EventRecordingStarted
	EventStopRecording
	EventUpdateNotes
	EventUpdateStatus
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReset:
		return "reset"
	case EventStartRecording:
		return "start_recording"
	case EventRecordingStarted:
		return "recording_started"
	case EventStopRecording:
		return "stop_recording"
	case EventUpdateNotes:
		return "update_notes"
	case EventUpdateStatus:
		return "update_status"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an input to Reduce. Build events with the constructors below.
type Event struct {
	Kind   EventKind
	Notes  []Note
	Remote RemoteStatus
	Err    error
}

// Reset returns the session to idle with the given notes (nil for none).
func Reset(notes []Note) Event { return Event{Kind: EventReset, Notes: notes} }

func StartRecording() Event { return Event{Kind: EventStartRecording} }

func RecordingStarted() Event { return Event{Kind: EventRecordingStarted} }

func StopRecording() Event { return Event{Kind: EventStopRecording} }

func UpdateNotes(notes []Note) Event { return Event{Kind: EventUpdateNotes, Notes: notes} }

func UpdateStatus(remote RemoteStatus) Event { return Event{Kind: EventUpdateStatus, Remote: remote} }

// Failure moves the session into failed with err.
func Failure(err error) Event { return Event{Kind: EventError, Err: err} }
