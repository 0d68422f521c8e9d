package session

import (
	"errors"
	"testing"
	"time"
)

var (
	n1 = Note{ID: "n1", Name: "SOAP note", Status: NoteReady, Content: "# Subjective", UpdatedAt: time.Unix(1700000000, 0)}
	n2 = Note{ID: "n2", Name: "Summary", Status: NoteGenerating, UpdatedAt: time.Unix(1700000100, 0)}
)

// stateOf builds a state directly; only tests do this.
func stateOf(status Status, notes []Note, err error) State {
	return State{status: status, notes: notes, err: err}
}

func assertState(t *testing.T, got State, status Status, notes int) {
	t.Helper()
	if got.Status() != status {
		t.Errorf("status = %q, want %q", got.Status(), status)
	}
	if len(got.Notes()) != notes {
		t.Errorf("notes = %d, want %d", len(got.Notes()), notes)
	}
}

func TestInitialState(t *testing.T) {
	s := Initial()
	assertState(t, s, StatusIdle, 0)
	if s.Err() != nil {
		t.Errorf("err = %v, want nil", s.Err())
	}
	if s.IsRecording() {
		t.Error("initial state should not be recording")
	}
}

func TestResetFromEveryState(t *testing.T) {
	boom := errors.New("boom")
	for _, status := range Statuses {
		t.Run(string(status), func(t *testing.T) {
			from := stateOf(status, []Note{n1}, boom)

			got := Reduce(from, Reset(nil))
			assertState(t, got, StatusIdle, 0)
			if got.Err() != nil {
				t.Errorf("err = %v, want nil", got.Err())
			}

			got = Reduce(from, Reset([]Note{n1, n2}))
			assertState(t, got, StatusIdle, 2)
		})
	}
}

func TestOptimisticStartConfirmed(t *testing.T) {
	s := Reduce(Initial(), UpdateNotes([]Note{n1}))
	s = Reduce(s, StartRecording())
	assertState(t, s, StatusStarting, 1)
	if !s.IsRecording() {
		t.Error("starting should count as recording")
	}

	s = Reduce(s, RecordingStarted())
	assertState(t, s, StatusRecording, 1)
	if s.Notes()[0].ID != "n1" {
		t.Errorf("notes[0].ID = %q, want %q", s.Notes()[0].ID, "n1")
	}
}

func TestOptimisticStartRolledBack(t *testing.T) {
	boom := errors.New("microphone denied")

	s := Reduce(Initial(), StartRecording())
	s = Reduce(s, Failure(boom))

	assertState(t, s, StatusFailed, 0)
	if !errors.Is(s.Err(), boom) {
		t.Errorf("err = %v, want %v", s.Err(), boom)
	}
	if s.IsRecording() {
		t.Error("failed should not count as recording")
	}
}

func TestStopMovesToWriting(t *testing.T) {
	s := Reduce(stateOf(StatusRecording, []Note{n1}, nil), StopRecording())
	assertState(t, s, StatusWriting, 1)
}

func TestStatusGuardWhileRecording(t *testing.T) {
	from := stateOf(StatusRecording, []Note{n1}, nil)
	for _, remote := range []RemoteStatus{RemoteCompleted, RemoteWriting, RemoteProcessing} {
		got := Reduce(from, UpdateStatus(remote))
		assertState(t, got, StatusRecording, 1)
	}
}

func TestStatusGuardWhileStartingOrIdle(t *testing.T) {
	for _, status := range []Status{StatusStarting, StatusIdle} {
		got := Reduce(stateOf(status, []Note{n1}, nil), UpdateStatus(RemoteCompleted))
		assertState(t, got, status, 1)
	}
}

func TestStatusGuardWithoutNotes(t *testing.T) {
	got := Reduce(stateOf(StatusWriting, nil, nil), UpdateStatus(RemoteCompleted))
	assertState(t, got, StatusWriting, 0)

	got = Reduce(stateOf(StatusReady, nil, nil), UpdateStatus(RemoteProcessing))
	assertState(t, got, StatusReady, 0)
}

func TestCompletionPath(t *testing.T) {
	got := Reduce(stateOf(StatusWriting, []Note{n1}, nil), UpdateStatus(RemoteCompleted))
	assertState(t, got, StatusReady, 1)
}

func TestProcessingConfirmsWriting(t *testing.T) {
	got := Reduce(stateOf(StatusReady, []Note{n1}, nil), UpdateStatus(RemoteProcessing))
	assertState(t, got, StatusWriting, 1)

	got = Reduce(stateOf(StatusWriting, []Note{n1}, nil), UpdateStatus(RemoteWriting))
	assertState(t, got, StatusWriting, 1)
}

func TestUnknownRemoteStatusIgnored(t *testing.T) {
	from := stateOf(StatusWriting, []Note{n1}, nil)
	got := Reduce(from, UpdateStatus("uploading"))
	assertState(t, got, StatusWriting, 1)
}

func TestNotesRecoverFailedSession(t *testing.T) {
	boom := errors.New("socket closed")
	got := Reduce(stateOf(StatusFailed, nil, boom), UpdateNotes([]Note{n1}))

	assertState(t, got, StatusIdle, 1)
	if got.Err() != nil {
		t.Errorf("err = %v, want nil", got.Err())
	}
}

func TestNotesKeepStatus(t *testing.T) {
	for _, status := range []Status{StatusIdle, StatusStarting, StatusRecording, StatusWriting, StatusReady} {
		got := Reduce(stateOf(status, []Note{n1}, nil), UpdateNotes([]Note{n1, n2}))
		assertState(t, got, status, 2)
	}
}

func TestErrorOverridesReady(t *testing.T) {
	boom := errors.New("generation failed")
	got := Reduce(stateOf(StatusReady, []Note{n1}, nil), Failure(boom))

	assertState(t, got, StatusFailed, 1)
	if !errors.Is(got.Err(), boom) {
		t.Errorf("err = %v, want %v", got.Err(), boom)
	}
}

func TestNotesAreCopied(t *testing.T) {
	notes := []Note{n1}
	s := Reduce(Initial(), UpdateNotes(notes))
	notes[0].Name = "mutated"

	if s.Notes()[0].Name != "SOAP note" {
		t.Errorf("stored note changed through caller slice: %q", s.Notes()[0].Name)
	}

	out := s.Notes()
	out[0].Name = "mutated again"
	if s.Notes()[0].Name != "SOAP note" {
		t.Errorf("stored note changed through returned slice: %q", s.Notes()[0].Name)
	}
}

func TestUnknownEventPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown event kind")
		}
	}()
	Reduce(Initial(), Event{Kind: EventKind(99)})
}
