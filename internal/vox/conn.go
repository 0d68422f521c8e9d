// Package vox implements the connection handle the session controller
// drives: commands on one connection, a subscribed event stream on another.
package vox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/voxhq/vox/internal/daemon"
	"github.com/voxhq/vox/internal/observe"
	"github.com/voxhq/vox/internal/session"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("vox: connection closed")

// RemoteError is an error event pushed by the notes service.
type RemoteError struct {
	Message   string
	Transient bool
}

func (e *RemoteError) Error() string {
	return "notes service: " + e.Message
}

// IsTransient reports whether the service expects the condition to clear
// without intervention.
func (e *RemoteError) IsTransient() bool { return e.Transient }

// Options configures a Conn. Zero values take the defaults noted per field.
type Options struct {
	// Endpoint is the service address. Default: daemon.SocketPath().
	Endpoint string

	Logger  *slog.Logger
	Metrics *observe.Metrics

	// MinBackoff and MaxBackoff bound event stream reconnect delays.
	// Defaults: 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// StopTimeout bounds a Stop command, including the wait for a command
	// still in flight. Default: 5s.
	StopTimeout time.Duration

	// LevelTTL is how long the last level event stays valid. Default: 500ms.
	LevelTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = observe.Discard()
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(30*time.Second, o.MinBackoff)
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.LevelTTL <= 0 {
		o.LevelTTL = 500 * time.Millisecond
	}
	return o
}

// Connector returns a session.Connector that creates Conns from base. A
// non-empty ConnectOptions.BaseURL replaces base.Endpoint.
func Connector(base Options) session.Connector {
	return func(token string, co session.ConnectOptions) session.Handle {
		o := base
		if co.BaseURL != "" {
			o.Endpoint = co.BaseURL
		}
		return New(token, o)
	}
}

// Conn is a session.Handle backed by the daemon protocol. The event stream
// is connected in the background and reconnected with exponential backoff;
// every disconnect is reported to OnError listeners.
type Conn struct {
	token string
	opts  Options
	log   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// cmdSem guards cmd. It is a channel so that waiting for a command in
	// flight honours the caller's context.
	cmdSem chan struct{}
	cmd    *daemon.Client

	levelMu  sync.Mutex
	levels   []float32
	levelsAt time.Time

	notes  listeners[[]session.Note]
	status listeners[session.RemoteStatus]
	errs   listeners[error]
}

var (
	_ session.Handle        = (*Conn)(nil)
	_ session.StatusQuerier = (*Conn)(nil)
)

// New returns a Conn and starts its event stream. It does not block on the
// network.
func New(token string, opts Options) *Conn {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		token:  token,
		opts:   opts,
		log:    opts.Logger.With("endpoint", opts.Endpoint),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		cmdSem: make(chan struct{}, 1),
	}
	go c.run()
	return c
}

// Start asks the service to begin capture for sessionID.
func (c *Conn) Start(ctx context.Context, sessionID string) error {
	resp, err := c.command(ctx, daemon.Command{Cmd: daemon.CmdStart, SessionID: sessionID})
	if err != nil {
		return err
	}
	return resp.Err()
}

// Stop ends capture. It gives up after StopTimeout, also when a Start is
// still waiting on the service.
func (c *Conn) Stop() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StopTimeout)
	defer cancel()
	resp, err := c.command(ctx, daemon.Command{Cmd: daemon.CmdStop})
	if err != nil {
		return err
	}
	return resp.Err()
}

// QueryStatus asks the service for its own status of the session.
func (c *Conn) QueryStatus(ctx context.Context) (session.RemoteStatus, error) {
	resp, err := c.command(ctx, daemon.Command{Cmd: daemon.CmdStatus})
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	return session.RemoteStatus(resp.Status), nil
}

// Close stops the event stream and drops both connections. It waits for
// the stream goroutine, so it must not be called from a listener.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.cmdSem <- struct{}{}
		if c.cmd != nil {
			_ = c.cmd.Close()
			c.cmd = nil
		}
		<-c.cmdSem
		<-c.done
	})
	return nil
}

func (c *Conn) OnNotes(fn func([]session.Note)) func()        { return c.notes.add(fn) }
func (c *Conn) OnStatus(fn func(session.RemoteStatus)) func() { return c.status.add(fn) }
func (c *Conn) OnError(fn func(error)) func()                 { return c.errs.add(fn) }

// AnalyzerBandLevels resamples the latest level event to n bands. Levels
// older than LevelTTL read as silence.
func (c *Conn) AnalyzerBandLevels(n int) []float32 {
	c.levelMu.Lock()
	src := c.levels
	if time.Since(c.levelsAt) > c.opts.LevelTTL {
		src = nil
	}
	c.levelMu.Unlock()
	return Resample(src, n)
}

// command sends cmd on the shared command connection, dialing it first if
// needed. Close aborts a command in flight.
func (c *Conn) command(ctx context.Context, cmd daemon.Command) (daemon.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.ctx, cancel)()

	select {
	case c.cmdSem <- struct{}{}:
	case <-ctx.Done():
		if c.ctx.Err() != nil {
			return daemon.Response{}, ErrClosed
		}
		return daemon.Response{}, fmt.Errorf("%s: waiting for command in flight: %w", cmd.Cmd, ctx.Err())
	}
	defer func() { <-c.cmdSem }()

	if c.ctx.Err() != nil {
		return daemon.Response{}, ErrClosed
	}
	if c.cmd == nil {
		client, err := daemon.Dial(ctx, c.opts.Endpoint, c.token)
		if err != nil {
			return daemon.Response{}, fmt.Errorf("%s: %w", cmd.Cmd, err)
		}
		c.cmd = client
	}

	resp, err := c.cmd.SendCommand(ctx, cmd)
	if err != nil {
		_ = c.cmd.Close()
		c.cmd = nil
		return daemon.Response{}, fmt.Errorf("%s: %w", cmd.Cmd, err)
	}
	return resp, nil
}

func (c *Conn) run() {
	defer close(c.done)

	backoff := c.opts.MinBackoff
	for {
		subscribed, err := c.stream()
		if c.ctx.Err() != nil {
			return
		}
		if subscribed {
			backoff = c.opts.MinBackoff
		} else {
			c.opts.Metrics.RecordReconnect(c.ctx, "error")
		}

		c.log.Warn("event stream lost", "error", err, "retry_in", backoff)
		c.errs.emit(err)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// stream subscribes and pumps events until the connection fails.
func (c *Conn) stream() (subscribed bool, err error) {
	client, err := daemon.Dial(c.ctx, c.opts.Endpoint, c.token)
	if err != nil {
		return false, err
	}
	defer client.Close()

	resp, err := client.SendCommand(c.ctx, daemon.Command{Cmd: daemon.CmdSubscribe, Token: c.token})
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	if err := resp.Err(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	c.opts.Metrics.RecordReconnect(c.ctx, "ok")
	c.log.Debug("event stream subscribed")

	for {
		ev, err := client.ReadEvent(c.ctx)
		if err != nil {
			return true, err
		}
		if c.ctx.Err() != nil {
			return true, nil
		}
		c.dispatch(ev)
	}
}

func (c *Conn) dispatch(ev daemon.Event) {
	switch ev.Event {
	case daemon.EventNotes:
		notes := make([]session.Note, len(ev.Notes))
		for i, n := range ev.Notes {
			notes[i] = noteFromWire(n)
		}
		c.notes.emit(notes)
	case daemon.EventStatus:
		c.status.emit(session.RemoteStatus(ev.Status))
	case daemon.EventError:
		c.errs.emit(&RemoteError{Message: ev.Message, Transient: ev.IsTransient()})
	case daemon.EventLevel:
		c.levelMu.Lock()
		c.levels = slices.Clone(ev.Bands)
		c.levelsAt = time.Now()
		c.levelMu.Unlock()
	default:
		c.log.Debug("ignoring unknown event", "event", ev.Event)
	}
}

func noteFromWire(n daemon.Note) session.Note {
	note := session.Note{
		ID:      n.ID,
		Name:    n.Name,
		Status:  session.NoteStatus(n.Status),
		Content: n.Content,
	}
	if n.UpdatedAt > 0 {
		note.UpdatedAt = time.UnixMilli(n.UpdatedAt)
	}
	return note
}

// Resample maps src onto n bands by averaging (or repeating) neighbours.
// The result always has length n with values clamped to [0, 1].
func Resample(src []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	m := len(src)
	if m == 0 {
		return out
	}
	for i := range out {
		lo := i * m / n
		hi := (i + 1) * m / n
		if hi <= lo {
			hi = lo + 1
		}
		var sum float32
		for _, v := range src[lo:hi] {
			sum += v
		}
		out[i] = min(max(sum/float32(hi-lo), 0), 1)
	}
	return out
}

// listeners is a small callback registry. Callbacks run outside the lock.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
