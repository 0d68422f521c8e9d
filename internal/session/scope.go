package session

import (
	"context"
	"errors"
)

// ErrNoController is returned when the accessor is used without an
// initialized controller in scope.
var ErrNoController = errors.New("vox: accessor used outside an initialized controller scope")

// Actions is the action set exposed to presentation code.
type Actions interface {
	Start(ctx context.Context)
	Stop()
	Toggle(ctx context.Context)
	AnalyzerBandLevels(n int) []float32
	QueryStatus(ctx context.Context) (RemoteStatus, error)
}

// Vox is the value presentation code reads: the current view plus actions.
type Vox struct {
	View
	Actions
}

// Controls is the subset of Vox needed by record buttons.
type Controls struct {
	Actions
	Status      Status
	IsRecording bool
}

// Scope hands one controller to many independent readers. Pass it
// explicitly to whatever renders session state.
type Scope struct {
	c *Controller
}

// NewScope returns a scope serving c.
func NewScope(c *Controller) *Scope {
	return &Scope{c: c}
}

// Vox returns the current view and the controller's actions.
func (s *Scope) Vox() (Vox, error) {
	if s == nil || s.c == nil {
		return Vox{}, ErrNoController
	}
	return Vox{View: s.c.View(), Actions: s.c}, nil
}

// MustVox is Vox that panics outside a controller scope.
func (s *Scope) MustVox() Vox {
	v, err := s.Vox()
	if err != nil {
		panic(err)
	}
	return v
}

// Controls returns the record controls.
func (s *Scope) Controls() (Controls, error) {
	v, err := s.Vox()
	if err != nil {
		return Controls{}, err
	}
	return Controls{Actions: v.Actions, Status: v.Status(), IsRecording: v.IsRecording()}, nil
}

// Subscribe forwards to the controller.
func (s *Scope) Subscribe(fn func(View)) (unsubscribe func(), err error) {
	if s == nil || s.c == nil {
		return nil, ErrNoController
	}
	return s.c.Subscribe(fn), nil
}
