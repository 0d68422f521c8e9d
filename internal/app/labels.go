package app

import "github.com/voxhq/vox/internal/session"

// Labels maps each session status to the text shown next to the status
// dot. Missing entries fall back to DefaultLabels.
type Labels map[session.Status]string

// DefaultLabels returns the stock status labels.
func DefaultLabels() Labels {
	return Labels{
		session.StatusIdle:      "Ready to take notes",
		session.StatusStarting:  "Connecting...",
		session.StatusRecording: "Capturing notes",
		session.StatusWriting:   "Finalizing notes...",
		session.StatusReady:     "Notes ready",
		session.StatusFailed:    "Connection error",
	}
}

// LabelsFromMap builds Labels from string keys, as read from config.
// Unknown statuses are skipped.
func LabelsFromMap(raw map[string]string) Labels {
	l := Labels{}
	for _, s := range session.Statuses {
		if v, ok := raw[string(s)]; ok && v != "" {
			l[s] = v
		}
	}
	return l
}

// For returns the label for s.
func (l Labels) For(s session.Status) string {
	if v, ok := l[s]; ok && v != "" {
		return v
	}
	if v, ok := DefaultLabels()[s]; ok {
		return v
	}
	return string(s)
}
