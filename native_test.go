package petnotify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeDisplayed struct {
	n       NativeNotification
	mu      sync.Mutex
	closed  int
	onClick func()
}

func (d *fakeDisplayed) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDisplayed) OnClick(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClick = f
}

func (d *fakeDisplayed) click() {
	d.mu.Lock()
	f := d.onClick
	d.mu.Unlock()
	if f != nil {
		f()
	}
}

func (d *fakeDisplayed) closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakePlatform struct {
	mu          sync.Mutex
	unsupported bool
	permission  Permission
	requestErr  error
	displayErr  error
	panicOn     string
	displayed   []*fakeDisplayed
}

func newFakePlatform(p Permission) *fakePlatform {
	return &fakePlatform{permission: p}
}

func (p *fakePlatform) Supported() bool { return !p.unsupported }

func (p *fakePlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

func (p *fakePlatform) RequestPermission(context.Context) (Permission, error) {
	if p.panicOn == "request" {
		panic("platform exploded")
	}
	if p.requestErr != nil {
		return "", p.requestErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission = PermissionGranted
	return p.permission, nil
}

func (p *fakePlatform) Display(n NativeNotification) (Displayed, error) {
	if p.panicOn == "display" {
		panic("platform exploded")
	}
	if p.displayErr != nil {
		return nil, p.displayErr
	}
	d := &fakeDisplayed{n: n}
	p.mu.Lock()
	p.displayed = append(p.displayed, d)
	p.mu.Unlock()
	return d, nil
}

func (p *fakePlatform) shown() []*fakeDisplayed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeDisplayed(nil), p.displayed...)
}

func TestNotifier_RequestPermission(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(zerolog.Nop())

	t.Run("default is requested", func(t *testing.T) {
		n := NewNotifier(newFakePlatform(PermissionDefault), bus, nil, nil, zerolog.Nop())
		assert.Equal(t, PermissionGranted, n.RequestPermission(ctx))
	})

	t.Run("denied is not re-requested", func(t *testing.T) {
		n := NewNotifier(newFakePlatform(PermissionDenied), bus, nil, nil, zerolog.Nop())
		assert.Equal(t, PermissionDenied, n.RequestPermission(ctx))
	})

	t.Run("unsupported", func(t *testing.T) {
		p := newFakePlatform(PermissionGranted)
		p.unsupported = true
		n := NewNotifier(p, bus, nil, nil, zerolog.Nop())
		assert.Equal(t, PermissionDenied, n.RequestPermission(ctx))
	})

	t.Run("noop platform", func(t *testing.T) {
		n := NewNotifier(nil, bus, nil, nil, zerolog.Nop())
		assert.Equal(t, PermissionDenied, n.RequestPermission(ctx))
	})

	t.Run("request error", func(t *testing.T) {
		p := newFakePlatform(PermissionDefault)
		p.requestErr = errors.New("user dismissed prompt")
		n := NewNotifier(p, bus, nil, nil, zerolog.Nop())
		assert.Equal(t, PermissionDenied, n.RequestPermission(ctx))
	})

	t.Run("request panic", func(t *testing.T) {
		p := newFakePlatform(PermissionDefault)
		p.panicOn = "request"
		n := NewNotifier(p, bus, nil, nil, zerolog.Nop())
		assert.NotPanics(t, func() {
			assert.Equal(t, PermissionDenied, n.RequestPermission(ctx))
		})
	})
}

func TestNotifier_Show(t *testing.T) {
	ev := NotificationEvent{ID: "42", Title: "Vet visit", Body: "Tomorrow 9:00"}

	t.Run("requires permission", func(t *testing.T) {
		for _, perm := range []Permission{PermissionDefault, PermissionDenied} {
			p := newFakePlatform(perm)
			n := NewNotifier(p, NewBus(zerolog.Nop()), newFakeClock(), nil, zerolog.Nop())
			assert.False(t, n.Show(ev))
			assert.Empty(t, p.shown())
		}
	})

	t.Run("auto dismiss", func(t *testing.T) {
		p := newFakePlatform(PermissionGranted)
		clock := newFakeClock()
		n := NewNotifier(p, NewBus(zerolog.Nop()), clock, nil, zerolog.Nop())

		require.True(t, n.Show(ev))
		d := p.shown()[0]
		assert.Equal(t, "notification-42", d.n.Tag)

		clock.Advance(DefaultDismissAfter - time.Millisecond)
		assert.Zero(t, d.closes())
		clock.Advance(time.Millisecond)
		assert.Equal(t, 1, d.closes())
	})

	t.Run("click emits and closes", func(t *testing.T) {
		bus := NewBus(zerolog.Nop())
		rec := record(bus, TopicNotificationClick)
		p := newFakePlatform(PermissionGranted)
		n := NewNotifier(p, bus, newFakeClock(), nil, zerolog.Nop())

		require.True(t, n.Show(ev))
		d := p.shown()[0]
		d.click()

		assert.Equal(t, ev, rec.expect(t, TopicNotificationClick))
		assert.Equal(t, 1, d.closes())
	})

	t.Run("display failure is swallowed", func(t *testing.T) {
		before := testutil.ToFloat64(NativeNotificationsTotal.WithLabelValues("failed"))
		p := newFakePlatform(PermissionGranted)
		p.displayErr = errors.New("dbus unavailable")
		n := NewNotifier(p, NewBus(zerolog.Nop()), newFakeClock(), nil, zerolog.Nop())
		assert.False(t, n.Show(ev))

		p.displayErr = nil
		p.panicOn = "display"
		assert.NotPanics(t, func() { assert.False(t, n.Show(ev)) })
		assert.Equal(t, before+2, testutil.ToFloat64(NativeNotificationsTotal.WithLabelValues("failed")))
	})

	t.Run("rate limited", func(t *testing.T) {
		p := newFakePlatform(PermissionGranted)
		limiter := rate.NewLimiter(rate.Every(time.Hour), 2)
		n := NewNotifier(p, NewBus(zerolog.Nop()), newFakeClock(), limiter, zerolog.Nop())

		assert.True(t, n.Show(ev))
		assert.True(t, n.Show(ev))
		assert.False(t, n.Show(ev))
		assert.Len(t, p.shown(), 2)
	})
}

func TestWriterPlatform(t *testing.T) {
	var buf bytes.Buffer
	p := NewWriterPlatform(&buf)
	n := NewNotifier(p, NewBus(zerolog.Nop()), newFakeClock(), nil, zerolog.Nop())

	assert.False(t, n.Show(NotificationEvent{ID: "1", Title: "hidden"}))
	assert.Equal(t, PermissionGranted, n.RequestPermission(context.Background()))
	assert.True(t, n.Show(NotificationEvent{ID: "2", Title: "Grooming", Body: "Bella at 3pm"}))
	assert.Equal(t, "🔔 Grooming: Bella at 3pm\n", buf.String())
}
