package app

import "github.com/voxhq/vox/internal/session"

// StateMsg carries a controller view. Views older than the one on screen
// are ignored.
type StateMsg struct {
	View session.View
}

// ActionErrorMsg is sent when an action could not reach the controller.
type ActionErrorMsg struct {
	Err       error
	Transient bool
}

// TickMsg advances the visualizer one frame.
type TickMsg struct{}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}
