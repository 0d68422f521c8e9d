package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voxhq/vox/internal/session"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		firstSeenAt REAL NOT NULL,
		lastSeenAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notes (
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		updatedAt REAL,
		cachedAt REAL NOT NULL,
		PRIMARY KEY (sessionId, id)
	);
`

// Store is the note cache. It satisfies session.NoteCache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.NoteCache = (*Store)(nil)

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vox", "notes.sqlite")
}

// Open opens (creating if needed) the cache at path and applies the schema.
// ":memory:" opens a private in-memory cache.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// OpenReadOnly opens an existing cache without writing to it. A missing
// file is reported as os.ErrNotExist.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveNotes replaces the cached snapshot for sessionID.
func (s *Store) SaveNotes(sessionID string, notes []session.Note) error {
	if sessionID == "" {
		return errors.New("save notes: empty session id")
	}
	now := unixFromTime(s.now())

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, firstSeenAt, lastSeenAt) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET lastSeenAt = excluded.lastSeenAt
	`, sessionID, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM notes WHERE sessionId = ?`, sessionID); err != nil {
		return fmt.Errorf("clear notes: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO notes (sessionId, id, position, name, status, content, updatedAt, cachedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare note insert: %w", err)
	}
	defer stmt.Close()

	for i, n := range notes {
		var updatedAt sql.NullFloat64
		if !n.UpdatedAt.IsZero() {
			updatedAt = sql.NullFloat64{Float64: unixFromTime(n.UpdatedAt), Valid: true}
		}
		if _, err := stmt.Exec(sessionID, n.ID, i, n.Name, string(n.Status), n.Content, updatedAt, now); err != nil {
			return fmt.Errorf("insert note %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// NotesForSession returns the cached snapshot for sessionID in delivery
// order. An unknown session yields no notes and no error.
func (s *Store) NotesForSession(sessionID string) ([]session.Note, error) {
	rows, err := s.CachedNotes(sessionID)
	if err != nil {
		return nil, err
	}
	notes := make([]session.Note, 0, len(rows))
	for _, r := range rows {
		n := session.Note{
			ID:      r.ID,
			Name:    r.Name,
			Status:  session.NoteStatus(r.Status),
			Content: r.Content,
		}
		if r.UpdatedAt != nil {
			n.UpdatedAt = *r.UpdatedAt
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// CachedNotes returns the raw cached rows for sessionID.
func (s *Store) CachedNotes(sessionID string) ([]Note, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, position, name, status, content, updatedAt, cachedAt
		FROM notes
		WHERE sessionId = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var updatedAt sql.NullFloat64
		var cachedAt float64
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Position, &n.Name, &n.Status,
			&n.Content, &updatedAt, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if updatedAt.Valid {
			t := timeFromUnix(updatedAt.Float64)
			n.UpdatedAt = &t
		}
		n.CachedAt = timeFromUnix(cachedAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Sessions lists cached sessions, most recently seen first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.firstSeenAt, s.lastSeenAt, COUNT(n.id)
		FROM sessions s
		LEFT JOIN notes n ON n.sessionId = s.id
		GROUP BY s.id
		ORDER BY s.lastSeenAt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// LatestSession returns the most recently seen session, or nil.
func (s *Store) LatestSession() (*Session, error) {
	row := s.db.QueryRow(`
		SELECT s.id, s.firstSeenAt, s.lastSeenAt,
			(SELECT COUNT(*) FROM notes n WHERE n.sessionId = s.id)
		FROM sessions s
		ORDER BY s.lastSeenAt DESC
		LIMIT 1
	`)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// Prune drops sessions not seen since cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := unixFromTime(cutoff)
	if _, err := tx.Exec(`
		DELETE FROM notes WHERE sessionId IN (SELECT id FROM sessions WHERE lastSeenAt < ?)
	`, ts); err != nil {
		return 0, fmt.Errorf("prune notes: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE lastSeenAt < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var firstSeen, lastSeen float64
	if err := row.Scan(&sess.ID, &firstSeen, &lastSeen, &sess.NoteCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.FirstSeenAt = timeFromUnix(firstSeen)
	sess.LastSeenAt = timeFromUnix(lastSeen)
	return sess, nil
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
