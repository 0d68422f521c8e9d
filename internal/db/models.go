// Package db provides the SQLite note cache: the last note snapshot seen
// for each session identity.
package db

import "time"

// Session is one cached session identity.
type Session struct {
	ID          string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	NoteCount   int
}

// Note is a cached note row.
type Note struct {
	ID        string
	SessionID string
	Position  int
	Name      string
	Status    string
	Content   string
	UpdatedAt *time.Time
	CachedAt  time.Time
}
