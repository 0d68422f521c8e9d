package db

import (
	"os"
	"testing"
)

// TestLiveDatabase opens the real note cache read-only and lists sessions.
// Skipped if the database doesn't exist.
func TestLiveDatabase(t *testing.T) {
	dbPath := DefaultDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Skip("database not found at", dbPath)
	}

	store, err := OpenReadOnly(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	sessions, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	t.Logf("cached sessions: %d", len(sessions))
	for _, s := range sessions {
		t.Logf("  %s notes=%d last=%s", s.ID, s.NoteCount, s.LastSeenAt.Format("2006-01-02 15:04:05"))
	}
}
