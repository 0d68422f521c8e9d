package session

import (
	"fmt"
	"slices"
)

// Reduce returns the state that follows s after ev. It has no side effects.
//
// Local intent (start, stop, reset) always wins. Remote status pushes may
// only confirm writing or complete writing into ready, and are ignored while
// the session is idle, starting or recording, or has no notes yet.
func Reduce(s State, ev Event) State {
	switch ev.Kind {
	case EventReset:
		return State{status: StatusIdle, notes: slices.Clone(ev.Notes)}

	case EventStartRecording:
		return State{status: StatusStarting, notes: s.notes}

	case EventRecordingStarted:
		return State{status: StatusRecording, notes: s.notes}

	case EventStopRecording:
		return State{status: StatusWriting, notes: s.notes}

	case EventUpdateNotes:
		// Fresh data after a failure counts as recovery.
		if s.status == StatusFailed {
			return State{status: StatusIdle, notes: slices.Clone(ev.Notes)}
		}
		return State{status: s.status, notes: slices.Clone(ev.Notes)}

	case EventUpdateStatus:
		if statusGuarded(s) {
			return s
		}
		switch ev.Remote {
		case RemoteCompleted:
			return State{status: StatusReady, notes: s.notes}
		case RemoteWriting, RemoteProcessing:
			return State{status: StatusWriting, notes: s.notes}
		default:
			return s
		}

	case EventError:
		return State{status: StatusFailed, notes: s.notes, err: ev.Err}

	default:
		panic(fmt.Sprintf("session: unhandled event kind %d", ev.Kind))
	}
}

func statusGuarded(s State) bool {
	switch s.status {
	case StatusRecording, StatusStarting, StatusIdle:
		return true
	}
	return len(s.notes) == 0
}
