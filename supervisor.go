package petnotify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxReconnectAttempts matches the legacy notification client.
	DefaultMaxReconnectAttempts = 5

	// UnlimitedReconnects disables the retry budget.
	UnlimitedReconnects = -1
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Addr        string
	Dialer      Dialer
	Backoff     BackoffPolicy
	MaxAttempts int
	Heartbeat   time.Duration
	Clock       Clock
	Logger      zerolog.Logger
}

func (c *SupervisorConfig) defaults() {
	if c.Backoff.Base == 0 && c.Backoff.Cap == 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxReconnectAttempts
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Dialer == nil {
		c.Dialer = WSDialer{}
	}
}

// Supervisor drives one Connection at a time through
// connecting → open → failed → (retry) cycles.
type Supervisor struct {
	cfg       SupervisorConfig
	bus       *Bus
	onMessage func(m InboundMessage, live func() bool)
	log       zerolog.Logger

	mu       sync.Mutex
	state    ConnectionState
	token    string
	attempt  int
	conn     *Connection
	timer    Timer
	timerSeq uint64
	epoch    uint64
}

// NewSupervisor creates a supervisor in the disconnected state. Decoded
// frames from the live connection are passed to onMessage together with a
// live func that reports false once that connection has been stopped or
// replaced; onMessage must check it before every emission.
func NewSupervisor(cfg SupervisorConfig, bus *Bus, onMessage func(m InboundMessage, live func() bool)) *Supervisor {
	cfg.defaults()
	return &Supervisor{
		cfg:       cfg,
		bus:       bus,
		onMessage: onMessage,
		log:       cfg.Logger.With().Str("component", "supervisor").Logger(),
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the reconnect attempt counter.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Start connects with token. It is a no-op while connecting or open with the
// same token; a different token replaces the live connection. Starting from
// the failed state is a manual retry and resets the attempt counter.
func (s *Supervisor) Start(token string) {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		same := s.token == token
		s.mu.Unlock()
		if same {
			return
		}
		s.Stop()
		s.mu.Lock()
	}
	s.cancelTimerLocked()
	s.token = token
	s.attempt = 0
	c := s.connectLocked()
	s.mu.Unlock()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("connecting")
	s.open(c)
}

// Stop moves to disconnected from any state, cancels a pending retry and
// closes the live connection. Callbacks from that connection are ignored
// afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.epoch++
	s.cancelTimerLocked()
	c := s.conn
	s.conn = nil
	prev := s.state
	if c != nil {
		s.setStateLocked(StateClosing)
	} else if prev != StateDisconnected {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	c.Close(StatusNormalClosure, "client disconnect")

	s.mu.Lock()
	if s.state == StateClosing {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	s.log.Info().Str("from", string(prev)).Msg("disconnected")
	s.bus.Emit(TopicConnected, false)
}

func (s *Supervisor) connectLocked() *Connection {
	c := NewConnection(s.cfg.Addr, s.token, s.cfg.Dialer, s.cfg.Heartbeat, s.cfg.Logger)
	s.conn = c
	s.setStateLocked(StateConnecting)
	return c
}

func (s *Supervisor) open(c *Connection) {
	c.Open(context.Background(), Callbacks{
		OnOpen:    func() { s.handleOpen(c) },
		OnMessage: func(m InboundMessage) { s.handleMessage(c, m) },
		OnError:   func(err error) { s.handleError(c, err) },
		OnClose:   func(ev CloseEvent) { s.handleClose(c, ev) },
	})
}

func (s *Supervisor) handleOpen(c *Connection) {
	s.mu.Lock()
	if s.conn != c || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.attempt = 0
	s.setStateLocked(StateOpen)
	epoch := s.epoch
	s.mu.Unlock()

	s.log.Info().Msg("connected")
	s.emit(epoch, TopicConnected, true)
}

func (s *Supervisor) handleMessage(c *Connection, m InboundMessage) {
	s.mu.Lock()
	current := s.conn == c && s.state == StateOpen
	epoch := s.epoch
	s.mu.Unlock()
	if !current {
		return
	}
	s.onMessage(m, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn == c && s.epoch == epoch
	})
}

func (s *Supervisor) handleError(c *Connection, err error) {
	s.mu.Lock()
	current := s.conn == c
	s.mu.Unlock()
	if current {
		s.log.Warn().Err(err).Msg("transport error")
	}
}

func (s *Supervisor) handleClose(c *Connection, ev CloseEvent) {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	epoch := s.epoch

	var (
		exhausted    *ExhaustedEvent
		reconnecting *ReconnectingEvent
		unauthorized bool
	)
	switch {
	case ev.Code == StatusNormalClosure:
		s.setStateLocked(StateDisconnected)
	case ev.Code.IsAuthFailure() || errors.Is(ev.Err, ErrUnauthorized) || errors.Is(ev.Err, ErrMissingToken):
		s.setStateLocked(StateFailed)
		unauthorized = true
		exhausted = &ExhaustedEvent{Reason: ReasonUnauthorized, Attempts: s.attempt, Code: ev.Code}
	default:
		s.setStateLocked(StateFailed)
		if s.cfg.MaxAttempts != UnlimitedReconnects && s.attempt >= s.cfg.MaxAttempts {
			exhausted = &ExhaustedEvent{Reason: ReasonRetriesExhausted, Attempts: s.attempt, Code: ev.Code}
		} else {
			delay := s.cfg.Backoff.Delay(s.attempt)
			s.attempt++
			s.scheduleLocked(delay)
			reconnecting = &ReconnectingEvent{Attempt: s.attempt, Delay: delay}
		}
	}
	s.mu.Unlock()

	logEv := s.log.Info()
	if ev.Err != nil {
		logEv = s.log.Warn().Err(ev.Err)
	}
	logEv.Int("code", int(ev.Code)).Str("reason", ev.Reason).Msg("connection closed")

	s.emit(epoch, TopicConnected, false)
	if reconnecting != nil {
		ReconnectAttemptsTotal.Inc()
		s.log.Info().Int("attempt", reconnecting.Attempt).Dur("delay", reconnecting.Delay).Msg("reconnect scheduled")
		s.emit(epoch, TopicReconnecting, *reconnecting)
	}
	if unauthorized {
		s.emit(epoch, TopicUnauthorized, ev)
	}
	if exhausted != nil {
		ConnectionExhaustedTotal.WithLabelValues(string(exhausted.Reason)).Inc()
		s.log.Error().Str("reason", string(exhausted.Reason)).Int("attempts", exhausted.Attempts).Msg("giving up on connection")
		s.emit(epoch, TopicConnectionExhausted, *exhausted)
	}
}

func (s *Supervisor) scheduleLocked(delay time.Duration) {
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.cfg.Clock.AfterFunc(delay, func() { s.retry(seq) })
}

func (s *Supervisor) retry(seq uint64) {
	s.mu.Lock()
	if s.timerSeq != seq || s.timer == nil || s.state != StateFailed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	attempt := s.attempt
	c := s.connectLocked()
	s.mu.Unlock()

	s.log.Info().Int("attempt", attempt).Msg("reconnecting")
	s.open(c)
}

func (s *Supervisor) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// emit publishes only if Stop has not run since epoch was read.
func (s *Supervisor) emit(epoch uint64, topic string, data any) {
	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if current {
		s.bus.Emit(topic, data)
	}
}

func (s *Supervisor) setStateLocked(st ConnectionState) {
	if s.state == st {
		return
	}
	s.log.Debug().Str("from", string(s.state)).Str("to", string(st)).Msg("state transition")
	s.state = st
	observeState(st)
}
