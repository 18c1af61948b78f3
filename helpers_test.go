package petnotify

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Manual clock
// ============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// pending returns the timers that have neither fired nor been stopped.
func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// ============================================================================
// Scripted transport
// ============================================================================

type fakeConn struct {
	frames chan []byte
	done   chan struct{}

	// stubborn conns keep delivering frames after Close, like a socket
	// whose callbacks fire late.
	stubborn bool

	mu        sync.Mutex
	remote    *RemoteCloseError
	closed    bool
	closeCode StatusCode
	written   [][]byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64), done: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.remote != nil {
			return nil, c.remote
		}
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		if c.stubborn {
			f := <-c.frames
			return f, nil
		}
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed connection")
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) Close(code StatusCode, _ string) error {
	c.mu.Lock()
	c.closed = true
	c.closeCode = code
	stubborn := c.stubborn
	c.mu.Unlock()
	if !stubborn {
		c.closeOnce.Do(func() { close(c.done) })
	}
	return nil
}

// serverClose simulates the server ending the connection with code.
func (c *fakeConn) serverClose(code StatusCode, reason string) {
	c.mu.Lock()
	c.remote = &RemoteCloseError{Code: code, Reason: reason}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// drop simulates an abrupt network loss.
func (c *fakeConn) drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) send(t *testing.T, typ string, data any) {
	t.Helper()
	c.frames <- frame(t, typ, data)
}

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(Envelope{Type: typ, Data: raw, Timestamp: "2026-01-01T10:00:00Z"})
	require.NoError(t, err)
	return b
}

type fakeDialer struct {
	mu       sync.Mutex
	errs     []error
	stubborn bool
	tokens   []string
	conns    chan *fakeConn
}

func newFakeDialer(errs ...error) *fakeDialer {
	return &fakeDialer{errs: errs, conns: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, token string) (Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	stubborn := d.stubborn
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	c.stubborn = stubborn
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// ============================================================================
// Bus recorder
// ============================================================================

type recorded struct {
	topic string
	data  any
}

type recorder struct {
	ch chan recorded
}

func record(bus *Bus, topics ...string) *recorder {
	r := &recorder{ch: make(chan recorded, 256)}
	for _, topic := range topics {
		bus.On(topic, func(topic string, data any) { r.ch <- recorded{topic, data} })
	}
	return r
}

func (r *recorder) next(t *testing.T) recorded {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return recorded{}
	}
}

// expect waits for the next event and checks its topic.
func (r *recorder) expect(t *testing.T, topic string) any {
	t.Helper()
	ev := r.next(t)
	require.Equal(t, topic, ev.topic, "unexpected event %+v", ev)
	return ev.data
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func ptr[T any](v T) *T { return &v }
