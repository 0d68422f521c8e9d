// Package mcpserver exposes the session controller to MCP clients as tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/voxhq/vox/internal/db"
	"github.com/voxhq/vox/internal/session"
)

// History is the read side of the note cache.
type History interface {
	Sessions() ([]db.Session, error)
	NotesForSession(sessionID string) ([]session.Note, error)
}

// Server wires a controller scope into an MCP server.
type Server struct {
	scope   *session.Scope
	history History
	log     *slog.Logger
	mcp     *server.MCPServer

	// StartTimeout bounds start_recording.
	StartTimeout time.Duration
	// StatusTimeout bounds the service status query of session_status.
	StatusTimeout time.Duration
}

// New registers the session tools. history may be nil, in which case the
// history tools are not offered.
func New(scope *session.Scope, history History, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		scope:         scope,
		history:       history,
		log:           log,
		StartTimeout:  30 * time.Second,
		StatusTimeout: 5 * time.Second,
		mcp: server.NewMCPServer("vox", version,
			server.WithToolCapabilities(false),
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in and out until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Current recording status, session id and note count, plus the status the service reports."),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool("start_recording",
		mcp.WithDescription("Start capturing audio for the current session."),
	), s.handleStart)

	s.mcp.AddTool(mcp.NewTool("stop_recording",
		mcp.WithDescription("Stop capturing and let the service finish the notes."),
	), s.handleStop)

	s.mcp.AddTool(mcp.NewTool("toggle_recording",
		mcp.WithDescription("Stop if recording or starting, otherwise start."),
	), s.handleToggle)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the notes of the current session with their generation status."),
	), s.handleListNotes)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Read one note's markdown. Defaults to the primary note."),
		mcp.WithString("id", mcp.Description("Note id from list_notes")),
	), s.handleGetNote)

	if s.history == nil {
		return
	}

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List sessions with cached notes, newest first."),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("cached_notes",
		mcp.WithDescription("Read the cached notes of a past session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from list_sessions")),
	), s.handleCachedNotes)
}

type statusResult struct {
	SessionID    string `json:"sessionId"`
	Status       string `json:"status"`
	RemoteStatus string `json:"remoteStatus,omitempty"`
	IsRecording  bool   `json:"isRecording"`
	NoteCount    int    `json:"noteCount"`
	Error        string `json:"error,omitempty"`
}

type noteSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type sessionSummary struct {
	ID          string `json:"id"`
	FirstSeenAt string `json:"firstSeenAt"`
	LastSeenAt  string `json:"lastSeenAt"`
	NoteCount   int    `json:"noteCount"`
}

func statusOf(v session.View) statusResult {
	r := statusResult{
		SessionID:   v.SessionID,
		Status:      string(v.Status()),
		IsRecording: v.IsRecording(),
		NoteCount:   len(v.Notes()),
	}
	if err := v.Err(); err != nil {
		r.Error = err.Error()
	}
	return r
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Server) vox() (session.Vox, *mcp.CallToolResult) {
	v, err := s.scope.Vox()
	if err != nil {
		return session.Vox{}, mcp.NewToolResultError(err.Error())
	}
	return v, nil
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}
	st := statusOf(v.View)

	ctx, cancel := context.WithTimeout(ctx, s.StatusTimeout)
	defer cancel()
	remote, err := v.QueryStatus(ctx)
	switch {
	case err == nil:
		st.RemoteStatus = string(remote)
	case errors.Is(err, session.ErrStatusUnsupported):
	default:
		s.log.Debug("service status unavailable", "error", err)
	}
	return jsonResult(st)
}

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.StartTimeout)
	defer cancel()
	v.Start(ctx)
	return s.afterAction("start")
}

func (s *Server) handleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}
	v.Stop()
	return s.afterAction("stop")
}

func (s *Server) handleToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.StartTimeout)
	defer cancel()
	v.Toggle(ctx)
	return s.afterAction("toggle")
}

// afterAction reports the state an action left behind. A failed start is
// reported as a tool error.
func (s *Server) afterAction(action string) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}
	st := statusOf(v.View)
	s.log.Info("mcp action", "action", action, "status", st.Status)
	if st.Error != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", action, st.Error)), nil
	}
	return jsonResult(st)
}

func (s *Server) handleListNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}
	return jsonResult(summarize(v.Notes()))
}

func summarize(notes []session.Note) []noteSummary {
	out := make([]noteSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteSummary{
			ID:        n.ID,
			Name:      n.Name,
			Status:    string(n.Status),
			UpdatedAt: formatTime(n.UpdatedAt),
		})
	}
	return out
}

func (s *Server) handleGetNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errRes := s.vox()
	if errRes != nil {
		return errRes, nil
	}

	id := req.GetString("id", "")
	var (
		n  session.Note
		ok bool
	)
	if id == "" {
		n, ok = v.Primary()
	} else {
		n, ok = v.Note(id)
	}
	if !ok {
		if id == "" {
			return mcp.NewToolResultError("no notes available"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("note %q not found", id)), nil
	}

	return mcp.NewToolResultText(noteText(n)), nil
}

func noteText(n session.Note) string {
	if n.Status != session.NoteReady {
		return fmt.Sprintf("This note is %s.", n.Status)
	}
	return n.Content
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.history.Sessions()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, ss := range sessions {
		out = append(out, sessionSummary{
			ID:          ss.ID,
			FirstSeenAt: formatTime(ss.FirstSeenAt),
			LastSeenAt:  formatTime(ss.LastSeenAt),
			NoteCount:   ss.NoteCount,
		})
	}
	return jsonResult(out)
}

func (s *Server) handleCachedNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.history.NotesForSession(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cached notes: %v", err)), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("no cached notes for session %q", id)), nil
	}

	type cached struct {
		noteSummary
		Content string `json:"content,omitempty"`
	}
	out := make([]cached, 0, len(notes))
	for i, sum := range summarize(notes) {
		out = append(out, cached{noteSummary: sum, Content: notes[i].Content})
	}
	return jsonResult(out)
}
