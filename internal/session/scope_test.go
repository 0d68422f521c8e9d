package session

import (
	"context"
	"errors"
	"testing"
)

func TestScopeWithoutController(t *testing.T) {
	for name, s := range map[string]*Scope{
		"nil scope":      nil,
		"nil controller": NewScope(nil),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Vox(); !errors.Is(err, ErrNoController) {
				t.Errorf("Vox err = %v, want %v", err, ErrNoController)
			}
			if _, err := s.Controls(); !errors.Is(err, ErrNoController) {
				t.Errorf("Controls err = %v, want %v", err, ErrNoController)
			}
			if _, err := s.Subscribe(func(View) {}); !errors.Is(err, ErrNoController) {
				t.Errorf("Subscribe err = %v, want %v", err, ErrNoController)
			}
		})
	}
}

func TestScopeMustVoxPanics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrNoController) {
			t.Errorf("recovered %v, want %v", r, ErrNoController)
		}
	}()
	NewScope(nil).MustVox()
}

func TestScopeErrorMessage(t *testing.T) {
	want := "vox: accessor used outside an initialized controller scope"
	if ErrNoController.Error() != want {
		t.Errorf("message = %q, want %q", ErrNoController.Error(), want)
	}
}

func TestScopeReadersShareController(t *testing.T) {
	c, _ := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	scope := NewScope(c)

	a := scope.MustVox()
	a.Start(context.Background())

	b := scope.MustVox()
	if b.Status() != StatusRecording {
		t.Errorf("second reader status = %q, want %q", b.Status(), StatusRecording)
	}
	if a.Status() != StatusIdle {
		t.Errorf("first reader snapshot status = %q, want %q", a.Status(), StatusIdle)
	}

	ctl, err := scope.Controls()
	if err != nil {
		t.Fatalf("Controls: %v", err)
	}
	if ctl.Status != StatusRecording || !ctl.IsRecording {
		t.Errorf("controls = %q recording=%v, want recording", ctl.Status, ctl.IsRecording)
	}
	ctl.Toggle(context.Background())
	if got := scope.MustVox().Status(); got != StatusWriting {
		t.Errorf("status after toggle = %q, want %q", got, StatusWriting)
	}
}

func TestScopeSubscribe(t *testing.T) {
	c, _ := newHarness(t)
	scope := NewScope(c)
	rec := &recorder{}

	unsubscribe, err := scope.Subscribe(rec.record)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.Initialize(testToken(t, "s-1"), "")
	unsubscribe()
	c.Start(context.Background())

	if got := len(rec.statuses()); got != 1 {
		t.Errorf("views = %d, want 1", got)
	}
}
