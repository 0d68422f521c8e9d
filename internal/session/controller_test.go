package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// callLog records handle calls across fakes so ordering can be asserted.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

type fakeHandle struct {
	name string
	log  *callLog

	mu        sync.Mutex
	startErr  error
	stopErr   error
	closeErr  error
	startGate chan struct{}
	started   chan struct{}
	starts    []string
	levels    []float32

	nextID   int
	notesFns map[int]func([]Note)
	statFns  map[int]func(RemoteStatus)
	errFns   map[int]func(error)

	// leaked keeps every callback ever registered, even after unsubscribe,
	// to simulate deliveries racing a release.
	leakedNotes []func([]Note)
}

func newFakeHandle(name string, log *callLog) *fakeHandle {
	return &fakeHandle{
		name:     name,
		log:      log,
		started:  make(chan struct{}, 8),
		notesFns: make(map[int]func([]Note)),
		statFns:  make(map[int]func(RemoteStatus)),
		errFns:   make(map[int]func(error)),
	}
}

func (h *fakeHandle) Start(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	h.starts = append(h.starts, sessionID)
	gate, err := h.startGate, h.startErr
	h.mu.Unlock()
	h.log.add("%s.start(%s)", h.name, sessionID)
	h.started <- struct{}{}
	if gate != nil {
		<-gate
	}
	return err
}

func (h *fakeHandle) Stop() error {
	h.log.add("%s.stop", h.name)
	return h.stopErr
}

func (h *fakeHandle) Close() error {
	h.log.add("%s.close", h.name)
	return h.closeErr
}

func (h *fakeHandle) OnNotes(fn func([]Note)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.notesFns[id] = fn
	h.leakedNotes = append(h.leakedNotes, fn)
	return func() {
		h.log.add("%s.unsub(notes)", h.name)
		h.mu.Lock()
		delete(h.notesFns, id)
		h.mu.Unlock()
	}
}

func (h *fakeHandle) OnStatus(fn func(RemoteStatus)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.statFns[id] = fn
	return func() {
		h.log.add("%s.unsub(status)", h.name)
		h.mu.Lock()
		delete(h.statFns, id)
		h.mu.Unlock()
	}
}

func (h *fakeHandle) OnError(fn func(error)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.errFns[id] = fn
	return func() {
		h.log.add("%s.unsub(error)", h.name)
		h.mu.Lock()
		delete(h.errFns, id)
		h.mu.Unlock()
	}
}

func (h *fakeHandle) AnalyzerBandLevels(n int) []float32 {
	out := make([]float32, n)
	copy(out, h.levels)
	return out
}

func (h *fakeHandle) emitNotes(notes []Note) {
	h.mu.Lock()
	fns := make([]func([]Note), 0, len(h.notesFns))
	for _, fn := range h.notesFns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(notes)
	}
}

func (h *fakeHandle) emitStatus(s RemoteStatus) {
	h.mu.Lock()
	fns := make([]func(RemoteStatus), 0, len(h.statFns))
	for _, fn := range h.statFns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (h *fakeHandle) emitError(err error) {
	h.mu.Lock()
	fns := make([]func(error), 0, len(h.errFns))
	for _, fn := range h.errFns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// harness wires a controller to a sequence of fake handles.
type harness struct {
	log     *callLog
	mu      sync.Mutex
	handles []*fakeHandle
	tokens  []string
	opts    []ConnectOptions
	prepare func(*fakeHandle)
}

func (hs *harness) connect(token string, opts ConnectOptions) Handle {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h := newFakeHandle(fmt.Sprintf("h%d", len(hs.handles)+1), hs.log)
	if hs.prepare != nil {
		hs.prepare(h)
	}
	hs.log.add("connect(%s)", h.name)
	hs.handles = append(hs.handles, h)
	hs.tokens = append(hs.tokens, token)
	hs.opts = append(hs.opts, opts)
	return h
}

func (hs *harness) last() *fakeHandle {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.handles[len(hs.handles)-1]
}

func newHarness(t *testing.T, opts ...Option) (*Controller, *harness) {
	t.Helper()
	hs := &harness{log: &callLog{}}
	return NewController(hs.connect, opts...), hs
}

func testToken(t *testing.T, sid string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sid": sid}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// recorder collects every view delivered to a subscriber.
type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) record(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.views))
	for i, v := range r.views {
		out[i] = v.Status()
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControllerStartsIdle(t *testing.T) {
	c, hs := newHarness(t)

	if got := c.State().Status(); got != StatusIdle {
		t.Errorf("status = %q, want %q", got, StatusIdle)
	}
	if c.SessionID() != "" {
		t.Errorf("session id = %q, want empty", c.SessionID())
	}
	if len(hs.handles) != 0 {
		t.Errorf("handles = %d, want 0 before Initialize", len(hs.handles))
	}
}

func TestControllerActionsWithoutHandle(t *testing.T) {
	c, _ := newHarness(t)

	c.Start(context.Background())
	c.Stop()
	c.Toggle(context.Background())

	if got := c.State().Status(); got != StatusIdle {
		t.Errorf("status = %q, want %q", got, StatusIdle)
	}
	levels := c.AnalyzerBandLevels(4)
	if len(levels) != 4 {
		t.Fatalf("levels = %d, want 4", len(levels))
	}
	for i, l := range levels {
		if l != 0 {
			t.Errorf("levels[%d] = %v, want 0", i, l)
		}
	}
}

func TestControllerInitialize(t *testing.T) {
	c, hs := newHarness(t)
	tok := testToken(t, "/user_a/appt_b")

	c.Initialize(tok, "ws://localhost:9000")

	if c.SessionID() != "/user_a/appt_b" {
		t.Errorf("session id = %q, want %q", c.SessionID(), "/user_a/appt_b")
	}
	if len(hs.handles) != 1 {
		t.Fatalf("handles = %d, want 1", len(hs.handles))
	}
	if hs.tokens[0] != tok {
		t.Error("connector received a different token")
	}
	if hs.opts[0].BaseURL != "ws://localhost:9000" {
		t.Errorf("base url = %q, want %q", hs.opts[0].BaseURL, "ws://localhost:9000")
	}
	if got := c.View().Status(); got != StatusIdle {
		t.Errorf("status = %q, want %q", got, StatusIdle)
	}
}

func TestControllerStartSuccess(t *testing.T) {
	c, hs := newHarness(t)
	rec := &recorder{}
	c.Subscribe(rec.record)
	c.Initialize(testToken(t, "s-1"), "")

	c.Start(context.Background())

	h := hs.last()
	if !slices.Equal(h.starts, []string{"s-1"}) {
		t.Errorf("starts = %v, want [s-1]", h.starts)
	}
	want := []Status{StatusIdle, StatusStarting, StatusRecording}
	if got := rec.statuses(); !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestControllerStartFailure(t *testing.T) {
	boom := errors.New("mic unavailable")
	c, hs := newHarness(t)
	hs.prepare = func(h *fakeHandle) { h.startErr = boom }
	c.Initialize(testToken(t, "s-1"), "")

	c.Start(context.Background())

	v := c.View()
	if v.Status() != StatusFailed {
		t.Errorf("status = %q, want %q", v.Status(), StatusFailed)
	}
	if !errors.Is(v.Err(), boom) {
		t.Errorf("err = %v, want %v", v.Err(), boom)
	}
}

func TestControllerStopIgnoresError(t *testing.T) {
	c, hs := newHarness(t)
	hs.prepare = func(h *fakeHandle) { h.stopErr = errors.New("already stopped") }
	c.Initialize(testToken(t, "s-1"), "")
	c.Start(context.Background())

	c.Stop()

	v := c.View()
	if v.Status() != StatusWriting {
		t.Errorf("status = %q, want %q", v.Status(), StatusWriting)
	}
	if v.Err() != nil {
		t.Errorf("err = %v, want nil", v.Err())
	}
}

func TestControllerToggle(t *testing.T) {
	c, hs := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	h := hs.last()

	c.Toggle(context.Background())
	if got := c.View().Status(); got != StatusRecording {
		t.Fatalf("after first toggle status = %q, want %q", got, StatusRecording)
	}

	c.Toggle(context.Background())
	if got := c.View().Status(); got != StatusWriting {
		t.Fatalf("after second toggle status = %q, want %q", got, StatusWriting)
	}

	// Writing is not recording, so toggling starts again.
	c.Toggle(context.Background())
	if got := c.View().Status(); got != StatusRecording {
		t.Errorf("after third toggle status = %q, want %q", got, StatusRecording)
	}
	if len(h.starts) != 2 {
		t.Errorf("starts = %d, want 2", len(h.starts))
	}
}

func TestControllerToggleFromFailedStarts(t *testing.T) {
	c, hs := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	hs.last().emitError(errors.New("lost"))

	c.Toggle(context.Background())

	if got := c.View().Status(); got != StatusRecording {
		t.Errorf("status = %q, want %q", got, StatusRecording)
	}
}

func TestControllerToggleWhileStartingStops(t *testing.T) {
	c, hs := newHarness(t)
	gate := make(chan struct{})
	hs.prepare = func(h *fakeHandle) { h.startGate = gate }
	c.Initialize(testToken(t, "s-1"), "")
	h := hs.last()

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	<-h.started
	waitFor(t, "starting", func() bool { return c.View().Status() == StatusStarting })

	c.Toggle(context.Background())
	if got := c.View().Status(); got != StatusWriting {
		t.Fatalf("status = %q, want %q", got, StatusWriting)
	}

	close(gate)
	<-done

	// The late success must not resurrect recording.
	if got := c.View().Status(); got != StatusWriting {
		t.Errorf("status after stale start = %q, want %q", got, StatusWriting)
	}
}

func TestControllerStaleStartFailureDropped(t *testing.T) {
	c, hs := newHarness(t)
	gate := make(chan struct{})
	hs.prepare = func(h *fakeHandle) {
		h.startGate = gate
		h.startErr = errors.New("late failure")
	}
	c.Initialize(testToken(t, "s-1"), "")
	h := hs.last()

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	<-h.started
	waitFor(t, "starting", func() bool { return c.View().Status() == StatusStarting })

	c.Stop()
	close(gate)
	<-done

	v := c.View()
	if v.Status() != StatusWriting {
		t.Errorf("status = %q, want %q", v.Status(), StatusWriting)
	}
	if v.Err() != nil {
		t.Errorf("err = %v, want nil", v.Err())
	}
}

func TestControllerInboundEvents(t *testing.T) {
	c, hs := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	h := hs.last()
	c.Start(context.Background())

	// Status is ignored while recording.
	h.emitNotes([]Note{n2})
	h.emitStatus(RemoteCompleted)
	if got := c.View().Status(); got != StatusRecording {
		t.Fatalf("status = %q, want %q", got, StatusRecording)
	}

	c.Stop()
	h.emitStatus(RemoteProcessing)
	if got := c.View().Status(); got != StatusWriting {
		t.Fatalf("status = %q, want %q", got, StatusWriting)
	}

	h.emitNotes([]Note{n1, n2})
	h.emitStatus(RemoteCompleted)
	v := c.View()
	if v.Status() != StatusReady {
		t.Fatalf("status = %q, want %q", v.Status(), StatusReady)
	}
	if len(v.Notes()) != 2 {
		t.Errorf("notes = %d, want 2", len(v.Notes()))
	}

	boom := errors.New("generation failed")
	h.emitError(boom)
	if !errors.Is(c.View().Err(), boom) {
		t.Errorf("err = %v, want %v", c.View().Err(), boom)
	}

	h.emitNotes([]Note{n1})
	if got := c.View().Status(); got != StatusIdle {
		t.Errorf("status after notes in failed = %q, want %q", got, StatusIdle)
	}
}

func TestControllerReinitializeReleaseOrder(t *testing.T) {
	c, hs := newHarness(t)
	hs.prepare = func(h *fakeHandle) {
		h.stopErr = errors.New("stop failed")
		h.closeErr = errors.New("close failed")
	}
	c.Initialize(testToken(t, "s-1"), "")
	c.Initialize(testToken(t, "s-2"), "")

	got := hs.log.snapshot()
	want := []string{
		"connect(h1)",
		"h1.unsub(notes)",
		"h1.unsub(error)",
		"h1.unsub(status)",
		"h1.stop",
		"h1.close",
		"connect(h2)",
	}
	if !slices.Equal(got, want) {
		t.Errorf("calls =\n%v\nwant\n%v", got, want)
	}
	if c.SessionID() != "s-2" {
		t.Errorf("session id = %q, want %q", c.SessionID(), "s-2")
	}
}

func TestControllerReinitializeResets(t *testing.T) {
	c, hs := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	hs.last().emitNotes([]Note{n1})
	c.Start(context.Background())

	c.Initialize(testToken(t, "s-2"), "")

	v := c.View()
	if v.Status() != StatusIdle {
		t.Errorf("status = %q, want %q", v.Status(), StatusIdle)
	}
	if len(v.Notes()) != 0 {
		t.Errorf("notes = %d, want 0", len(v.Notes()))
	}
}

func TestControllerIgnoresReleasedHandle(t *testing.T) {
	c, hs := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	old := hs.last()
	c.Initialize(testToken(t, "s-2"), "")

	before := c.View().Version
	for _, fn := range old.leakedNotes {
		fn([]Note{n1})
	}

	v := c.View()
	if v.Version != before {
		t.Errorf("version = %d, want %d", v.Version, before)
	}
	if len(v.Notes()) != 0 {
		t.Errorf("notes = %d, want 0", len(v.Notes()))
	}
}

func TestControllerCloseDropsPendingStart(t *testing.T) {
	c, hs := newHarness(t)
	gate := make(chan struct{})
	hs.prepare = func(h *fakeHandle) { h.startGate = gate }
	c.Initialize(testToken(t, "s-1"), "")
	h := hs.last()

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	<-h.started
	waitFor(t, "starting", func() bool { return c.View().Status() == StatusStarting })

	c.Close()
	close(gate)
	<-done

	if got := c.View().Status(); got != StatusStarting {
		t.Errorf("status = %q, want %q", got, StatusStarting)
	}
	calls := hs.log.snapshot()
	if !slices.Contains(calls, "h1.close") {
		t.Errorf("handle not closed: %v", calls)
	}
}

type memCache struct {
	mu    sync.Mutex
	notes map[string][]Note
	saves int
}

func (m *memCache) NotesForSession(id string) ([]Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notes[id]), nil
}

func (m *memCache) SaveNotes(id string, notes []Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[id] = slices.Clone(notes)
	m.saves++
	return nil
}

func TestControllerNoteCache(t *testing.T) {
	cache := &memCache{notes: map[string][]Note{"s-1": {n1}}}
	c, hs := newHarness(t, WithNoteCache(cache))

	c.Initialize(testToken(t, "s-1"), "")
	if got := len(c.View().Notes()); got != 1 {
		t.Fatalf("seeded notes = %d, want 1", got)
	}

	hs.last().emitNotes([]Note{n1, n2})
	if cache.saves != 1 {
		t.Errorf("saves = %d, want 1", cache.saves)
	}
	if got := len(cache.notes["s-1"]); got != 2 {
		t.Errorf("cached notes = %d, want 2", got)
	}

	c.Initialize(testToken(t, "s-2"), "")
	if got := len(c.View().Notes()); got != 0 {
		t.Errorf("notes for fresh session = %d, want 0", got)
	}
}

func TestControllerNoteCacheKeepsIdentityAcrossReinitialize(t *testing.T) {
	cache := &memCache{notes: map[string][]Note{}}
	c, hs := newHarness(t, WithNoteCache(cache))
	tokenB := testToken(t, "s-b")

	c.Initialize(testToken(t, "s-a"), "")
	first := hs.last()

	// Switch identity from inside the delivery, after the notes were
	// accepted but before they are persisted.
	var once sync.Once
	c.Subscribe(func(v View) {
		if v.SessionID == "s-a" && len(v.Notes()) > 0 {
			once.Do(func() { c.Initialize(tokenB, "") })
		}
	})

	first.emitNotes([]Note{n1})

	if c.SessionID() != "s-b" {
		t.Fatalf("session = %q, want s-b", c.SessionID())
	}
	if got := cache.notes["s-a"]; len(got) != 1 || got[0].ID != n1.ID {
		t.Errorf("cache[s-a] = %v, want [%s]", got, n1.ID)
	}
	if got := cache.notes["s-b"]; len(got) != 0 {
		t.Errorf("cache[s-b] = %v, want empty", got)
	}

	c.Initialize(tokenB, "")
	if got := len(c.View().Notes()); got != 0 {
		t.Errorf("notes after refresh of s-b = %d, want 0", got)
	}
}

type queryingHandle struct {
	*fakeHandle
	remote RemoteStatus
}

func (h queryingHandle) QueryStatus(context.Context) (RemoteStatus, error) {
	return h.remote, nil
}

func TestControllerQueryStatus(t *testing.T) {
	c, _ := newHarness(t)
	if _, err := c.QueryStatus(context.Background()); !errors.Is(err, ErrNoHandle) {
		t.Errorf("without handle err = %v, want ErrNoHandle", err)
	}

	c.Initialize(testToken(t, "s-1"), "")
	if _, err := c.QueryStatus(context.Background()); !errors.Is(err, ErrStatusUnsupported) {
		t.Errorf("plain handle err = %v, want ErrStatusUnsupported", err)
	}

	q := NewController(func(string, ConnectOptions) Handle {
		return queryingHandle{fakeHandle: newFakeHandle("q", &callLog{}), remote: RemoteWriting}
	})
	q.Initialize(testToken(t, "s-1"), "")
	got, err := q.QueryStatus(context.Background())
	if err != nil || got != RemoteWriting {
		t.Errorf("QueryStatus = %q, %v, want %q", got, err, RemoteWriting)
	}
	if q.View().Status() != StatusIdle {
		t.Errorf("query changed state to %q", q.View().Status())
	}
}

func TestControllerSubscribeVersions(t *testing.T) {
	c, hs := newHarness(t)
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.record)

	c.Initialize(testToken(t, "s-1"), "")
	hs.last().emitNotes([]Note{n1})
	c.Start(context.Background())

	rec.mu.Lock()
	views := slices.Clone(rec.views)
	rec.mu.Unlock()
	if len(views) != 4 {
		t.Fatalf("views = %d, want 4", len(views))
	}
	for i := 1; i < len(views); i++ {
		if views[i].Version <= views[i-1].Version {
			t.Errorf("version %d not increasing: %d after %d", i, views[i].Version, views[i-1].Version)
		}
	}
	if views[0].SessionID != "s-1" {
		t.Errorf("view session id = %q, want %q", views[0].SessionID, "s-1")
	}

	unsubscribe()
	unsubscribe()
	c.Stop()
	rec.mu.Lock()
	n := len(rec.views)
	rec.mu.Unlock()
	if n != 4 {
		t.Errorf("views after unsubscribe = %d, want 4", n)
	}
}

func TestControllerBandLevels(t *testing.T) {
	c, hs := newHarness(t)
	hs.prepare = func(h *fakeHandle) { h.levels = []float32{0.2, 0.9} }
	c.Initialize(testToken(t, "s-1"), "")

	got := c.AnalyzerBandLevels(3)
	want := []float32{0.2, 0.9, 0}
	if !slices.Equal(got, want) {
		t.Errorf("levels = %v, want %v", got, want)
	}
	if c.AnalyzerBandLevels(0) != nil {
		t.Error("zero bands should return nil")
	}
}

func TestViewPrimaryAndLookup(t *testing.T) {
	last := func(notes []Note) (Note, bool) {
		if len(notes) == 0 {
			return Note{}, false
		}
		return notes[len(notes)-1], true
	}
	c, hs := newHarness(t, WithPrimaryNote(last))
	c.Initialize(testToken(t, "s-1"), "")

	if _, ok := c.View().Primary(); ok {
		t.Error("primary should be absent without notes")
	}

	hs.last().emitNotes([]Note{n1, n2})
	v := c.View()
	p, ok := v.Primary()
	if !ok || p.ID != "n2" {
		t.Errorf("primary = %q (ok=%v), want n2", p.ID, ok)
	}
	if n, ok := v.Note("n1"); !ok || n.Name != "SOAP note" {
		t.Errorf("Note(n1) = %+v, %v", n, ok)
	}
	if _, ok := v.Note("missing"); ok {
		t.Error("Note(missing) should not be found")
	}
}

func TestControllerConcurrentDispatch(t *testing.T) {
	c, hs := newHarness(t)
	c.Initialize(testToken(t, "s-1"), "")
	h := hs.last()
	before := c.View().Version

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.emitNotes([]Note{n1})
		}()
		go func() {
			defer wg.Done()
			h.emitStatus(RemoteProcessing)
		}()
	}
	wg.Wait()

	if got := c.View().Version - before; got != 100 {
		t.Errorf("transitions = %d, want 100", got)
	}
}
