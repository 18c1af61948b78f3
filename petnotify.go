// Package petnotify is the real-time notification client for the PawPal
// pet-care platform.
//
// It keeps one live connection to the notification server, reconnects with
// exponential backoff, deduplicates replayed notifications and fans events
// out to in-process subscribers.
//
// Example:
//
//	engine := petnotify.New("https://api.pawpal.example",
//		petnotify.WithLogger(logger),
//		petnotify.WithMaxReconnectAttempts(10),
//	)
//	defer engine.Destroy()
//
//	engine.OnNotification(func(n petnotify.NotificationEvent) {
//		fmt.Println("new:", n.Title)
//	})
//	engine.OnExhausted(func(e petnotify.ExhaustedEvent) {
//		fmt.Println("offline:", e.Reason)
//	})
//	engine.Connect(token)
package petnotify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ============================================================================
// Options
// ============================================================================

// Transport names accepted by WithTransport.
const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
)

type options struct {
	dialer      Dialer
	transport   string
	httpClient  *http.Client
	log         zerolog.Logger
	backoff     BackoffPolicy
	maxAttempts int
	heartbeat   time.Duration
	clock       Clock
	platform    Platform
	settings    Settings
	dedupSize   int
	nativeLimit rate.Limit
	nativeBurst int
}

func (o *options) defaults() {
	if o.dialer == nil {
		switch o.transport {
		case TransportSSE:
			o.dialer = SSEDialer{HTTPClient: o.httpClient}
		default:
			o.dialer = WSDialer{HTTPClient: o.httpClient}
		}
	}
	if o.backoff.Base == 0 && o.backoff.Cap == 0 {
		o.backoff = DefaultBackoff()
	}
	if o.maxAttempts == 0 {
		o.maxAttempts = DefaultMaxReconnectAttempts
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.platform == nil {
		o.platform = NoopPlatform{}
	}
	if o.dedupSize <= 0 {
		o.dedupSize = DefaultDedupSize
	}
}

// Option configures an Engine.
type Option func(*options)

// WithDialer overrides the transport dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTransport selects TransportWebSocket (default) or TransportSSE.
func WithTransport(name string) Option {
	return func(o *options) { o.transport = strings.ToLower(name) }
}

// WithHTTPClient sets the client used for handshakes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBackoff sets the reconnect delay policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(o *options) { o.backoff = p }
}

// WithMaxReconnectAttempts caps reconnects. Use UnlimitedReconnects to retry
// forever.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithHeartbeat enables keepalive pings on transports that support them.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPlatform enables native notifications through p.
func WithPlatform(p Platform) Option {
	return func(o *options) { o.platform = p }
}

// WithSettings supplies the user's native notification preferences.
func WithSettings(s Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithDedupSize sets how many recent notification ids are remembered.
func WithDedupSize(n int) Option {
	return func(o *options) { o.dedupSize = n }
}

// WithNativeRateLimit limits native notifications to r per second with the
// given burst.
func WithNativeRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) {
		o.nativeLimit = r
		o.nativeBurst = burst
	}
}

// ============================================================================
// Engine
// ============================================================================

// Engine is the UI-facing notification client. Each Engine owns its own
// listener registry; engines never share state.
type Engine struct {
	bus        *Bus
	notifier   *Notifier
	dispatcher *Dispatcher
	supervisor *Supervisor
	unread     *UnreadCounter
	log        zerolog.Logger

	mu        sync.Mutex
	destroyed bool
}

// New creates an Engine for the server at serverAddr. Nothing connects
// until Connect.
func New(serverAddr string, opts ...Option) *Engine {
	o := &options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	o.defaults()

	var limiter *rate.Limiter
	if o.nativeLimit > 0 {
		limiter = rate.NewLimiter(o.nativeLimit, max(o.nativeBurst, 1))
	}

	bus := NewBus(o.log)
	notifier := NewNotifier(o.platform, bus, o.clock, limiter, o.log)
	dispatcher := NewDispatcher(bus, notifier, o.settings, o.dedupSize, o.log)
	supervisor := NewSupervisor(SupervisorConfig{
		Addr:        strings.TrimRight(serverAddr, "/"),
		Dialer:      o.dialer,
		Backoff:     o.backoff,
		MaxAttempts: o.maxAttempts,
		Heartbeat:   o.heartbeat,
		Clock:       o.clock,
		Logger:      o.log,
	}, bus, dispatcher.DispatchIf)

	unread := NewUnreadCounter(bus)
	unread.live = func() bool { return supervisor.State() == StateOpen }

	return &Engine{
		bus:        bus,
		notifier:   notifier,
		dispatcher: dispatcher,
		supervisor: supervisor,
		unread:     unread,
		log:        o.log.With().Str("component", "engine").Logger(),
	}
}

// Connect starts (or restarts, for a new token) the live connection.
func (e *Engine) Connect(token string) {
	if e.isDestroyed() {
		return
	}
	e.supervisor.Start(token)
}

// Disconnect closes the connection and cancels any pending reconnect.
func (e *Engine) Disconnect() {
	e.supervisor.Stop()
}

// ConnectionState returns the current connection state.
func (e *Engine) ConnectionState() ConnectionState {
	return e.supervisor.State()
}

// On subscribes h to topic.
func (e *Engine) On(topic string, h Handler) SubscriptionID {
	return e.bus.On(topic, h)
}

// Off releases the subscription id on topic.
func (e *Engine) Off(topic string, id SubscriptionID) {
	e.bus.Off(topic, id)
}

// Unread returns the unread badge counter.
func (e *Engine) Unread() *UnreadCounter {
	return e.unread
}

// RequestNotificationPermission asks the platform for native notification
// permission. It never fails; unsupported platforms report denied.
func (e *Engine) RequestNotificationPermission(ctx context.Context) Permission {
	return e.notifier.RequestPermission(ctx)
}

// Destroy disconnects and tears down every subscription. The engine cannot
// be reused afterwards.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.mu.Unlock()

	e.supervisor.Stop()
	e.unread.Close()
	e.bus.Destroy()
	e.log.Debug().Msg("engine destroyed")
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// ── Typed subscriptions ─────────────────────────────────

// OnNotification registers a handler for new notifications.
func (e *Engine) OnNotification(h func(NotificationEvent)) SubscriptionID {
	return e.bus.On(TopicNotification, func(_ string, data any) {
		if ev, ok := data.(NotificationEvent); ok {
			h(ev)
		}
	})
}

// OnNotificationRead registers a handler for read acknowledgements.
func (e *Engine) OnNotificationRead(h func(NotificationID)) SubscriptionID {
	return e.bus.On(TopicNotificationRead, func(_ string, data any) {
		if id, ok := data.(NotificationID); ok {
			h(id)
		}
	})
}

// OnNotificationDeleted registers a handler for delete acknowledgements.
func (e *Engine) OnNotificationDeleted(h func(NotificationID)) SubscriptionID {
	return e.bus.On(TopicNotificationDeleted, func(_ string, data any) {
		if id, ok := data.(NotificationID); ok {
			h(id)
		}
	})
}

// OnConnected registers a handler for connectivity changes.
func (e *Engine) OnConnected(h func(bool)) SubscriptionID {
	return e.bus.On(TopicConnected, func(_ string, data any) {
		if b, ok := data.(bool); ok {
			h(b)
		}
	})
}

// OnReconnecting registers a handler for scheduled reconnects.
func (e *Engine) OnReconnecting(h func(ReconnectingEvent)) SubscriptionID {
	return e.bus.On(TopicReconnecting, func(_ string, data any) {
		if ev, ok := data.(ReconnectingEvent); ok {
			h(ev)
		}
	})
}

// OnExhausted registers a handler for when the engine stops retrying.
func (e *Engine) OnExhausted(h func(ExhaustedEvent)) SubscriptionID {
	return e.bus.On(TopicConnectionExhausted, func(_ string, data any) {
		if ev, ok := data.(ExhaustedEvent); ok {
			h(ev)
		}
	})
}

// OnUnauthorized registers a handler for token rejection.
func (e *Engine) OnUnauthorized(h func(CloseEvent)) SubscriptionID {
	return e.bus.On(TopicUnauthorized, func(_ string, data any) {
		if ev, ok := data.(CloseEvent); ok {
			h(ev)
		}
	})
}

// OnNotificationClick registers a handler for clicks on native notifications.
func (e *Engine) OnNotificationClick(h func(NotificationEvent)) SubscriptionID {
	return e.bus.On(TopicNotificationClick, func(_ string, data any) {
		if ev, ok := data.(NotificationEvent); ok {
			h(ev)
		}
	})
}

// OnUnreadCount registers a handler for unread count changes.
func (e *Engine) OnUnreadCount(h func(int)) SubscriptionID {
	return e.bus.On(TopicUnreadCount, func(_ string, data any) {
		if n, ok := data.(int); ok {
			h(n)
		}
	})
}
