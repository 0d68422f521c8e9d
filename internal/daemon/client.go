package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// maxLine bounds a single NDJSON line. Note snapshots carry full markdown.
const maxLine = 1024 * 1024

// ErrBadEndpoint is returned for endpoints that are neither a socket path
// nor a ws/wss/http/https URL.
var ErrBadEndpoint = errors.New("unsupported endpoint")

// ErrClosed is returned when the peer closes the connection.
var ErrClosed = errors.New("connection closed")

// SocketPath returns the default service socket path.
func SocketPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vox", "vox.sock")
}

// Endpoint is a parsed service address.
type Endpoint struct {
	// Network is "unix" or "ws".
	Network string
	// Address is a socket path for unix and a ws:// or wss:// URL for ws.
	Address string
}

// ParseEndpoint accepts "unix:///path", a bare absolute path, or a
// ws/wss/http/https URL. http(s) is rewritten to ws(s). An empty endpoint
// resolves to SocketPath.
func ParseEndpoint(raw string) (Endpoint, error) {
	if raw == "" {
		return Endpoint{Network: "unix", Address: SocketPath()}, nil
	}
	if filepath.IsAbs(raw) {
		return Endpoint{Network: "unix", Address: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrBadEndpoint, raw, err)
	}
	switch u.Scheme {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("%w: %q: missing socket path", ErrBadEndpoint, raw)
		}
		return Endpoint{Network: "unix", Address: path}, nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrBadEndpoint, raw)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: missing host", ErrBadEndpoint, raw)
	}
	return Endpoint{Network: "ws", Address: u.String()}, nil
}

// String renders the endpoint in the form ParseEndpoint accepts.
func (e Endpoint) String() string {
	if e.Network == "unix" {
		return "unix://" + e.Address
	}
	return e.Address
}

// lineConn moves NDJSON lines over some transport.
type lineConn interface {
	writeLine(ctx context.Context, line []byte) error
	readLine(ctx context.Context) ([]byte, error)
	close() error
}

// Client talks to the notes service. Commands are serialized; events are
// read with ReadEvent after a successful subscribe. A client that returned
// an error should be closed and dialed again.
type Client struct {
	conn lineConn
	mu   sync.Mutex
}

// Dial connects to endpoint. token, when set, is sent as a bearer
// credential on websocket upgrades.
func Dial(ctx context.Context, endpoint, token string) (*Client, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	switch ep.Network {
	case "unix":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", ep.Address)
		if err != nil {
			return nil, fmt.Errorf("connect to service: %w", err)
		}
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, maxLine), maxLine)
		return &Client{conn: &socketConn{conn: conn, scanner: scanner}}, nil

	default:
		headers := http.Header{}
		if token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
		conn, _, err := websocket.Dial(ctx, ep.Address, &websocket.DialOptions{
			HTTPHeader: headers,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to service: %w", err)
		}
		conn.SetReadLimit(maxLine)
		return &Client{conn: &wsConn{conn: conn}}, nil
	}
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.close()
	}
	return nil
}

// SendCommand sends a command and reads one response line.
func (c *Client) SendCommand(ctx context.Context, cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	if err := c.conn.writeLine(ctx, data); err != nil {
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	line, err := c.conn.readLine(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

// ReadEvent reads the next NDJSON event line. Blocks until data arrives or
// ctx is done. After a subscribe, use this in a loop to receive events.
func (c *Client) ReadEvent(ctx context.Context) (Event, error) {
	line, err := c.conn.readLine(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	return ev, nil
}

type socketConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// watch maps ctx onto the connection deadline for the duration of one call.
func (s *socketConn) watch(ctx context.Context) (stop func()) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(dl)
	}
	cancel := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	return func() {
		cancel()
		_ = s.conn.SetDeadline(time.Time{})
	}
}

func (s *socketConn) writeLine(ctx context.Context, line []byte) error {
	defer s.watch(ctx)()
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := s.conn.Write(buf); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}

func (s *socketConn) readLine(ctx context.Context) ([]byte, error) {
	defer s.watch(ctx)()
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, ctxErr(ctx, err)
	}
	return nil, ErrClosed
}

func (s *socketConn) close() error {
	return s.conn.Close()
}

// wsConn carries one or more newline-separated lines per text message.
type wsConn struct {
	conn    *websocket.Conn
	pending [][]byte
}

func (w *wsConn) writeLine(ctx context.Context, line []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, append(line, '\n'))
}

func (w *wsConn) readLine(ctx context.Context) ([]byte, error) {
	for len(w.pending) == 0 {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return nil, ErrClosed
			}
			return nil, ctxErr(ctx, err)
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				w.pending = append(w.pending, line)
			}
		}
	}
	line := w.pending[0]
	w.pending = w.pending[1:]
	return line, nil
}

func (w *wsConn) close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client closed")
}

// ctxErr prefers the context's error when it caused the failure.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	// The socket deadline can fire just before the context timer does.
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
