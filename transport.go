package petnotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Transport Interfaces
// ============================================================================

// Conn is one live transport connection.
type Conn interface {
	// Read blocks until the next frame arrives. A close frame from the server
	// is reported as *RemoteCloseError.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(code StatusCode, reason string) error
}

// Pinger is implemented by conns that support keepalive probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dialer establishes conns to addr using token. Handshake rejections should
// be returned as *DialError carrying the HTTP status.
type Dialer interface {
	Dial(ctx context.Context, addr, token string) (Conn, error)
}

// RemoteCloseError reports a close initiated by the server.
type RemoteCloseError struct {
	Code   StatusCode
	Reason string
}

func (e *RemoteCloseError) Error() string {
	return fmt.Sprintf("connection closed by server: status=%d reason=%q", e.Code, e.Reason)
}

// Callbacks receives the lifecycle of one Connection. All callbacks run on
// the connection's own goroutine, in order.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(InboundMessage)
	OnClose   func(CloseEvent)
	OnError   func(error)
}

// ============================================================================
// Connection
// ============================================================================

// Connection owns exactly one underlying Conn for a single Open call.
type Connection struct {
	addr      string
	token     string
	dialer    Dialer
	heartbeat time.Duration
	log       zerolog.Logger

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	cancel     context.CancelFunc
	localClose *CloseEvent
	opened     bool

	closeOnce sync.Once
}

// NewConnection prepares a connection. Nothing is dialled until Open.
func NewConnection(addr, token string, dialer Dialer, heartbeat time.Duration, log zerolog.Logger) *Connection {
	return &Connection{
		addr:      addr,
		token:     token,
		dialer:    dialer,
		heartbeat: heartbeat,
		log:       log.With().Str("component", "transport").Logger(),
		state:     StateDisconnected,
	}
}

// State returns the transport-level state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts connecting in the background and returns immediately. A
// Connection can be opened once; later calls are ignored.
func (c *Connection) Open(ctx context.Context, cb Callbacks) {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return
	}
	c.opened = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if c.localClose != nil {
		cancel()
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.run(ctx, cb)
}

func (c *Connection) run(ctx context.Context, cb Callbacks) {
	defer c.cancel()

	if c.token == "" {
		c.report(cb, ErrMissingToken)
		c.finish(cb, CloseEvent{Code: StatusUnauthorized, Reason: "missing token", Err: ErrMissingToken})
		return
	}

	if ev, closed := c.closedLocally(); closed {
		c.finish(cb, ev)
		return
	}

	conn, err := c.dialer.Dial(ctx, c.addr, c.token)
	if err != nil {
		ev := c.dialFailure(err)
		if ev.Err != nil {
			c.report(cb, err)
		}
		c.finish(cb, ev)
		return
	}

	c.mu.Lock()
	if c.localClose != nil {
		ev := *c.localClose
		c.mu.Unlock()
		_ = conn.Close(ev.Code, ev.Reason)
		c.finish(cb, ev)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Debug().Str("addr", c.addr).Msg("transport open")
	if cb.OnOpen != nil {
		cb.OnOpen()
	}

	if p, ok := conn.(Pinger); ok && c.heartbeat > 0 {
		go c.heartbeatLoop(ctx, p)
	}

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			ev := c.readFailure(err)
			if ev.Err != nil {
				c.report(cb, err)
			}
			c.finish(cb, ev)
			return
		}

		msg, err := DecodeFrame(frame)
		if err != nil {
			incDropped("malformed")
			c.log.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping malformed frame")
			continue
		}
		FramesReceivedTotal.WithLabelValues(string(msg.Kind)).Inc()
		if cb.OnMessage != nil {
			cb.OnMessage(msg)
		}
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context, p Pinger) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.heartbeat)
			err := p.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("heartbeat failed, closing connection")
			c.Close(StatusGoingAway, "heartbeat timeout")
			return
		}
	}
}

// Send writes one frame. Frames are not queued while disconnected.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		c.log.Warn().Str("state", string(state)).Msg("send while not connected")
		return ErrNotConnected
	}
	if err := conn.Write(ctx, frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Close requests a graceful shutdown. OnClose reports code and reason.
// Repeated calls are ignored.
func (c *Connection) Close(code StatusCode, reason string) {
	c.mu.Lock()
	if c.localClose != nil {
		c.mu.Unlock()
		return
	}
	c.localClose = &CloseEvent{Code: code, Reason: reason}
	conn, cancel := c.conn, c.cancel
	if c.state == StateOpen || c.state == StateConnecting {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(code, reason); err != nil {
			c.log.Debug().Err(err).Msg("close handshake incomplete")
		}
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Connection) closedLocally() (CloseEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localClose != nil {
		return *c.localClose, true
	}
	return CloseEvent{}, false
}

func (c *Connection) dialFailure(err error) CloseEvent {
	if ev, closed := c.closedLocally(); closed {
		return ev
	}
	var de *DialError
	if errors.As(err, &de) && (de.StatusCode == http.StatusUnauthorized || de.StatusCode == http.StatusForbidden) {
		return CloseEvent{
			Code:   StatusUnauthorized,
			Reason: http.StatusText(de.StatusCode),
			Err:    fmt.Errorf("%w: %v", ErrUnauthorized, err),
		}
	}
	return CloseEvent{Code: StatusAbnormalClosure, Reason: "dial failed", Err: err}
}

func (c *Connection) readFailure(err error) CloseEvent {
	if ev, closed := c.closedLocally(); closed {
		return ev
	}
	var rc *RemoteCloseError
	if errors.As(err, &rc) {
		ev := CloseEvent{Code: rc.Code, Reason: rc.Reason}
		if rc.Code.IsAuthFailure() {
			ev.Err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return ev
	}
	return CloseEvent{Code: StatusAbnormalClosure, Reason: "connection lost", Err: err}
}

func (c *Connection) report(cb Callbacks, err error) {
	c.log.Debug().Err(err).Msg("transport error")
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (c *Connection) finish(cb Callbacks, ev CloseEvent) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.conn = nil
		c.mu.Unlock()

		c.log.Debug().Int("code", int(ev.Code)).Str("reason", ev.Reason).Msg("transport closed")
		if cb.OnClose != nil {
			cb.OnClose(ev)
		}
	})
}
