package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/voxhq/vox/internal/observe"
)

// Handle is a live link to the notes service. The controller owns it
// exclusively between creation and release.
type Handle interface {
	// Start asks the service to begin capture for sessionID.
	Start(ctx context.Context, sessionID string) error
	// Stop ends capture. Best-effort.
	Stop() error
	// Close releases the handle. Best-effort and idempotent.
	Close() error

	OnNotes(fn func([]Note)) (unsubscribe func())
	OnStatus(fn func(RemoteStatus)) (unsubscribe func())
	OnError(fn func(error)) (unsubscribe func())

	// AnalyzerBandLevels returns exactly n levels in [0, 1].
	AnalyzerBandLevels(n int) []float32
}

// StatusQuerier is implemented by handles that can ask the service for
// its own status of the session.
type StatusQuerier interface {
	QueryStatus(ctx context.Context) (RemoteStatus, error)
}

var (
	// ErrNoHandle is returned by QueryStatus before Initialize or after Close.
	ErrNoHandle = errors.New("vox: no connection handle")
	// ErrStatusUnsupported is returned by QueryStatus when the handle
	// cannot be queried.
	ErrStatusUnsupported = errors.New("vox: handle does not report status")
)

// ConnectOptions are passed to a Connector.
type ConnectOptions struct {
	// BaseURL overrides the notes service endpoint when non-empty.
	BaseURL string
}

// Connector creates a handle for a credential. It must not block on the
// network; connection failures are reported through OnError.
type Connector func(token string, opts ConnectOptions) Handle

// NoteCache persists note snapshots per session identity.
type NoteCache interface {
	NotesForSession(sessionID string) ([]Note, error)
	SaveNotes(sessionID string, notes []Note) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metric instruments. Defaults to observe.Discard().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithNoteCache seeds resets with cached notes and persists deliveries.
func WithNoteCache(nc NoteCache) Option {
	return func(c *Controller) { c.cache = nc }
}

// WithPrimaryNote overrides how View.Primary picks a note. The default is
// the first note.
func WithPrimaryNote(fn func([]Note) (Note, bool)) Option {
	return func(c *Controller) { c.primary = fn }
}

// Controller binds one credential to one connection handle and one state
// machine. All transitions go through a single mutex-guarded reducer call.
type Controller struct {
	connect Connector
	log     *slog.Logger
	metrics *observe.Metrics
	cache   NoteCache
	primary func([]Note) (Note, bool)

	// lifecycle serializes Initialize and Close so at most one handle is
	// ever being acquired.
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	version    uint64
	token      string
	baseURL    string
	sessionID  string
	handle     Handle
	handleGen  uint64
	unsubs     []func()
	startEpoch uint64
	subs       map[int]func(View)
	nextSub    int
}

// NewController returns a controller in the idle state with no handle.
// Call Initialize to bind a credential.
func NewController(connect Connector, opts ...Option) *Controller {
	c := &Controller{
		connect: connect,
		log:     slog.Default(),
		metrics: observe.Discard(),
		primary: firstNote,
		state:   Initial(),
		subs:    make(map[int]func(View)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initialize binds token and an optional endpoint override. The previous
// handle, if any, is released before the new one is created, and the state
// is reset before the new handle's events are subscribed.
func (c *Controller) Initialize(token, baseURL string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	sessionID := SessionIDFromToken(token)

	c.mu.Lock()
	old, oldUnsubs := c.handle, c.unsubs
	prevID := c.sessionID
	c.handle, c.unsubs = nil, nil
	c.handleGen++
	gen := c.handleGen
	c.startEpoch++
	c.token, c.baseURL, c.sessionID = token, baseURL, sessionID
	c.mu.Unlock()

	c.release(old, oldUnsubs)

	if prevID != sessionID {
		c.log.Info("session identity changed", "from", prevID, "to", sessionID)
	}

	h := c.connect(token, ConnectOptions{BaseURL: baseURL})
	c.metrics.HandleReplacements.Add(context.Background(), 1)

	c.dispatch(Reset(c.cachedNotes(sessionID)))

	unsubs := []func(){
		h.OnNotes(func(notes []Note) { c.onNotes(gen, notes) }),
		h.OnError(func(err error) { c.onError(gen, err) }),
		h.OnStatus(func(s RemoteStatus) { c.onStatus(gen, s) }),
	}

	c.mu.Lock()
	c.handle, c.unsubs = h, unsubs
	c.mu.Unlock()
}

// Close releases the current handle. The state is left as is.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	old, oldUnsubs := c.handle, c.unsubs
	c.handle, c.unsubs = nil, nil
	c.handleGen++
	c.startEpoch++
	c.mu.Unlock()

	c.release(old, oldUnsubs)
}

// release unsubscribes, then stops and closes h, swallowing errors.
func (c *Controller) release(h Handle, unsubs []func()) {
	for _, u := range unsubs {
		u()
	}
	if h == nil {
		return
	}
	if err := h.Stop(); err != nil {
		c.log.Debug("stop during release failed", "error", err)
	}
	if err := h.Close(); err != nil {
		c.log.Debug("close during release failed", "error", err)
	}
}

// Start optimistically moves to starting, then asks the handle to start.
// The outcome is recorded as state: recording on success, failed on error.
// A resolution that arrives after Stop, Initialize or Close is dropped.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	h, sessionID := c.handle, c.sessionID
	if h == nil {
		c.mu.Unlock()
		return
	}
	c.startEpoch++
	epoch := c.startEpoch
	c.mu.Unlock()

	if !c.dispatchIf(epoch, StartRecording()) {
		return
	}

	begin := time.Now()
	err := h.Start(ctx, sessionID)
	elapsed := time.Since(begin).Seconds()

	ev := RecordingStarted()
	outcome := "ok"
	if err != nil {
		ev = Failure(err)
		outcome = "error"
	}
	if !c.dispatchIf(epoch, ev) {
		outcome = "stale"
		c.log.Debug("dropping stale start resolution", "session_id", sessionID, "error", err)
	} else if err != nil {
		c.log.Warn("start failed", "session_id", sessionID, "error", err)
	}
	c.metrics.RecordStart(ctx, elapsed, outcome)
}

// Stop moves to writing and asks the handle to stop. Stop errors are
// logged and otherwise ignored.
func (c *Controller) Stop() {
	c.mu.Lock()
	h := c.handle
	if h == nil {
		c.mu.Unlock()
		return
	}
	c.startEpoch++
	c.mu.Unlock()

	c.dispatch(StopRecording())

	if err := h.Stop(); err != nil {
		c.log.Debug("stop failed", "error", err)
	}
}

// Toggle stops while starting or recording and starts otherwise.
func (c *Controller) Toggle(ctx context.Context) {
	c.mu.Lock()
	active := c.state.IsRecording()
	c.mu.Unlock()

	if active {
		c.Stop()
		return
	}
	c.Start(ctx)
}

// AnalyzerBandLevels returns n band levels, all zero without a handle.
func (c *Controller) AnalyzerBandLevels(n int) []float32 {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return make([]float32, n)
	}
	return h.AnalyzerBandLevels(n)
}

// QueryStatus asks the current handle for the service's status. The answer
// is informational and does not feed the state machine.
func (c *Controller) QueryStatus(ctx context.Context) (RemoteStatus, error) {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return "", ErrNoHandle
	}
	q, ok := h.(StatusQuerier)
	if !ok {
		return "", ErrStatusUnsupported
	}
	return q.QueryStatus(ctx)
}

// SessionID is the identity decoded from the current token.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current read-side projection.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Subscribe registers fn to receive a View after every transition. fn is
// called outside the controller's lock and must not block for long.
func (c *Controller) Subscribe(fn func(View)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) onNotes(gen uint64, notes []Note) {
	c.metrics.RecordInbound(context.Background(), "notes")
	view, ok := c.dispatchFrom(gen, UpdateNotes(notes))
	if !ok || c.cache == nil {
		return
	}
	// The identity the notes belong to, read under the same lock that
	// accepted them. An Initialize may already have moved on.
	sessionID := view.SessionID
	if sessionID == "" {
		return
	}
	if err := c.cache.SaveNotes(sessionID, notes); err != nil {
		c.log.Warn("failed to cache notes", "session_id", sessionID, "error", err)
	}
}

func (c *Controller) onStatus(gen uint64, s RemoteStatus) {
	c.metrics.RecordInbound(context.Background(), "status")
	c.dispatchFrom(gen, UpdateStatus(s))
}

func (c *Controller) onError(gen uint64, err error) {
	c.metrics.RecordInbound(context.Background(), "error")
	if _, ok := c.dispatchFrom(gen, Failure(err)); ok {
		c.log.Warn("notes service reported an error", "error", err)
	}
}

func (c *Controller) cachedNotes(sessionID string) []Note {
	if c.cache == nil || sessionID == "" {
		return nil
	}
	notes, err := c.cache.NotesForSession(sessionID)
	if err != nil {
		c.log.Warn("failed to load cached notes", "session_id", sessionID, "error", err)
		return nil
	}
	return notes
}

// dispatch applies ev unconditionally.
func (c *Controller) dispatch(ev Event) {
	c.apply(ev, func() bool { return true })
}

// dispatchIf applies ev only if no start epoch has begun since epoch.
func (c *Controller) dispatchIf(epoch uint64, ev Event) bool {
	_, ok := c.apply(ev, func() bool { return c.startEpoch == epoch })
	return ok
}

// dispatchFrom applies ev only if it came from the current handle, and
// returns the view the transition produced.
func (c *Controller) dispatchFrom(gen uint64, ev Event) (View, bool) {
	return c.apply(ev, func() bool { return c.handleGen == gen })
}

// apply runs the reducer under the lock when ok holds, then notifies
// subscribers with the resulting view.
func (c *Controller) apply(ev Event, ok func() bool) (View, bool) {
	c.mu.Lock()
	if !ok() {
		c.mu.Unlock()
		return View{}, false
	}
	prev := c.state
	c.state = Reduce(prev, ev)
	c.version++
	view := c.viewLocked()
	subs := make([]func(View), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	from, to := prev.Status(), view.Status()
	c.metrics.RecordTransition(context.Background(), ev.Kind.String(), string(from), string(to))
	c.log.Debug("session transition",
		"event", ev.Kind.String(),
		"from", from,
		"to", to,
		"notes", len(view.state.notes),
	)

	for _, fn := range subs {
		fn(view)
	}
	return view, true
}

func (c *Controller) viewLocked() View {
	return View{
		Version:   c.version,
		SessionID: c.sessionID,
		state:     c.state,
		primary:   c.primary,
	}
}

// View is a read-only projection of one controller state.
type View struct {
	// Version increases with every transition.
	Version   uint64
	SessionID string

	state   State
	primary func([]Note) (Note, bool)
}

func (v View) Status() Status { return v.state.Status() }

// Notes returns a copy of the current notes.
func (v View) Notes() []Note { return v.state.Notes() }

// IsRecording reports starting or recording.
func (v View) IsRecording() bool { return v.state.IsRecording() }

// Err is set only in the failed state.
func (v View) Err() error { return v.state.Err() }

// State returns the underlying state.
func (v View) State() State { return v.state }

// Primary returns the note preview widgets should show.
func (v View) Primary() (Note, bool) {
	pick := v.primary
	if pick == nil {
		pick = firstNote
	}
	return pick(v.state.notes)
}

// Note looks a note up by id.
func (v View) Note(id string) (Note, bool) {
	i := slices.IndexFunc(v.state.notes, func(n Note) bool { return n.ID == id })
	if i < 0 {
		return Note{}, false
	}
	return v.state.notes[i], true
}

func firstNote(notes []Note) (Note, bool) {
	if len(notes) == 0 {
		return Note{}, false
	}
	return notes[0], true
}
