package petnotify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultDismissAfter is how long a native notification stays up.
const DefaultDismissAfter = 5 * time.Second

// Permission is the platform's notification permission.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// NativeNotification is what gets handed to the platform.
type NativeNotification struct {
	Title string
	Body  string
	Tag   string
	Icon  string
}

// Displayed is a notification currently shown by the platform.
type Displayed interface {
	Close() error
	OnClick(func())
}

// Platform is the OS notification capability.
type Platform interface {
	Supported() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Display(n NativeNotification) (Displayed, error)
}

// ============================================================================
// Notifier
// ============================================================================

// Notifier shows native notifications only when permission is granted.
// Platform failures are logged and never reach the caller.
type Notifier struct {
	platform     Platform
	bus          *Bus
	clock        Clock
	limiter      *rate.Limiter
	dismissAfter time.Duration
	log          zerolog.Logger
}

// NewNotifier wraps platform. A nil platform behaves as NoopPlatform; a nil
// limiter disables rate limiting.
func NewNotifier(platform Platform, bus *Bus, clock Clock, limiter *rate.Limiter, log zerolog.Logger) *Notifier {
	if platform == nil {
		platform = NoopPlatform{}
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Notifier{
		platform:     platform,
		bus:          bus,
		clock:        clock,
		limiter:      limiter,
		dismissAfter: DefaultDismissAfter,
		log:          log.With().Str("component", "native").Logger(),
	}
}

// RequestPermission asks the platform for permission. Unsupported or failing
// platforms report PermissionDenied.
func (n *Notifier) RequestPermission(ctx context.Context) (p Permission) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Str("panic", fmt.Sprint(r)).Msg("permission request panicked")
			p = PermissionDenied
		}
	}()

	if !n.platform.Supported() {
		return PermissionDenied
	}
	switch cur := n.platform.Permission(); cur {
	case PermissionGranted, PermissionDenied:
		return cur
	}
	got, err := n.platform.RequestPermission(ctx)
	if err != nil {
		n.log.Warn().Err(err).Msg("notification permission request failed")
		return PermissionDenied
	}
	if got == "" {
		return PermissionDefault
	}
	return got
}

// Show displays ev if permission is granted and reports whether it did.
func (n *Notifier) Show(ev NotificationEvent) (shown bool) {
	defer func() {
		if r := recover(); r != nil {
			NativeNotificationsTotal.WithLabelValues("failed").Inc()
			n.log.Error().Str("panic", fmt.Sprint(r)).Msg("native notification panicked")
			shown = false
		}
	}()

	if !n.platform.Supported() || n.platform.Permission() != PermissionGranted {
		NativeNotificationsTotal.WithLabelValues("denied").Inc()
		return false
	}
	if n.limiter != nil && !n.limiter.Allow() {
		NativeNotificationsTotal.WithLabelValues("suppressed").Inc()
		n.log.Debug().Str("id", string(ev.ID)).Msg("native notification rate limited")
		return false
	}

	d, err := n.platform.Display(NativeNotification{
		Title: ev.Title,
		Body:  ev.Body,
		Tag:   "notification-" + string(ev.ID),
	})
	if err != nil {
		NativeNotificationsTotal.WithLabelValues("failed").Inc()
		n.log.Warn().Err(err).Str("id", string(ev.ID)).Msg("native notification failed")
		return false
	}

	d.OnClick(func() {
		_ = d.Close()
		n.bus.Emit(TopicNotificationClick, ev)
	})
	n.clock.AfterFunc(n.dismissAfter, func() { _ = d.Close() })

	NativeNotificationsTotal.WithLabelValues("shown").Inc()
	return true
}

// ============================================================================
// Platforms
// ============================================================================

// NoopPlatform is for headless environments: unsupported, always denied.
type NoopPlatform struct{}

func (NoopPlatform) Supported() bool        { return false }
func (NoopPlatform) Permission() Permission { return PermissionDenied }
func (NoopPlatform) RequestPermission(context.Context) (Permission, error) {
	return PermissionDenied, nil
}
func (NoopPlatform) Display(NativeNotification) (Displayed, error) {
	return nil, fmt.Errorf("native notifications not supported")
}

// WriterPlatform prints notifications to a writer, e.g. a terminal.
// Permission starts as default and is granted on request.
type WriterPlatform struct {
	mu         sync.Mutex
	w          io.Writer
	permission Permission
}

// NewWriterPlatform creates a platform that writes to w.
func NewWriterPlatform(w io.Writer) *WriterPlatform {
	return &WriterPlatform{w: w, permission: PermissionDefault}
}

func (p *WriterPlatform) Supported() bool { return p.w != nil }

func (p *WriterPlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

func (p *WriterPlatform) RequestPermission(context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission = PermissionGranted
	return p.permission, nil
}

func (p *WriterPlatform) Display(n NativeNotification) (Displayed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.w, "🔔 %s: %s\n", n.Title, n.Body); err != nil {
		return nil, fmt.Errorf("write notification: %w", err)
	}
	return writerDisplayed{}, nil
}

// Terminal output cannot be clicked or dismissed.
type writerDisplayed struct{}

func (writerDisplayed) Close() error   { return nil }
func (writerDisplayed) OnClick(func()) {}
