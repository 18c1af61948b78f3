package petnotify

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultDedupSize is how many recent notification ids are remembered.
const DefaultDedupSize = 200

// Settings is the user's notification preferences, owned by an external
// settings store.
type Settings interface {
	NativeNotificationsEnabled(category string) bool
}

// SettingsFunc adapts a function to Settings.
type SettingsFunc func(category string) bool

func (f SettingsFunc) NativeNotificationsEnabled(category string) bool { return f(category) }

// Dispatcher routes decoded messages to bus topics.
type Dispatcher struct {
	bus      *Bus
	native   *Notifier
	settings Settings
	log      zerolog.Logger

	mu   sync.Mutex
	seen *recentSet
}

// NewDispatcher creates a dispatcher. native and settings may be nil.
func NewDispatcher(bus *Bus, native *Notifier, settings Settings, dedupSize int, log zerolog.Logger) *Dispatcher {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	return &Dispatcher{
		bus:      bus,
		native:   native,
		settings: settings,
		log:      log.With().Str("component", "dispatcher").Logger(),
		seen:     newRecentSet(dedupSize),
	}
}

// Dispatch publishes msg on the matching topic. Unknown kinds and
// undecodable payloads are dropped.
func (d *Dispatcher) Dispatch(msg InboundMessage) {
	d.DispatchIf(msg, nil)
}

// DispatchIf is Dispatch for a message from a connection that may be stopped
// mid-dispatch by a subscriber. live is checked before every emission and
// native display; once it reports false nothing more is published for msg.
// A nil live is always current.
func (d *Dispatcher) DispatchIf(msg InboundMessage, live func() bool) {
	if live == nil {
		live = func() bool { return true }
	}
	switch msg.Kind {
	case KindNotification:
		d.dispatchNotification(msg, live)

	case KindReadAck, KindDeleteAck:
		ids, err := decodeAckIDs(msg.Data)
		if err != nil {
			incDropped("bad_payload")
			d.log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("dropping ack")
			return
		}
		topic := TopicNotificationRead
		if msg.Kind == KindDeleteAck {
			topic = TopicNotificationDeleted
		}
		for _, id := range ids {
			if !live() {
				incDropped("stopped")
				return
			}
			d.bus.Emit(topic, id)
		}

	case KindConnectionStatus:
		connected, err := decodeConnectionStatus(msg.Data)
		if err != nil {
			incDropped("bad_payload")
			d.log.Warn().Err(err).Msg("dropping connection status")
			return
		}
		if live() {
			d.bus.Emit(TopicConnected, connected)
		}

	default:
		incDropped("unknown_kind")
		d.log.Warn().Str("kind", string(msg.Kind)).Msg("dropping message of unknown kind")
	}
}

func (d *Dispatcher) dispatchNotification(msg InboundMessage, live func() bool) {
	ev, err := decodeNotification(msg.Data)
	if err != nil {
		incDropped("bad_payload")
		d.log.Warn().Err(err).Msg("dropping notification")
		return
	}
	// Not marked seen, so a replay on the next connection still delivers it.
	if !live() {
		incDropped("stopped")
		return
	}

	d.mu.Lock()
	fresh := d.seen.add(ev.ID)
	d.mu.Unlock()
	if !fresh {
		incDropped("duplicate")
		d.log.Debug().Str("id", string(ev.ID)).Msg("duplicate notification")
		return
	}

	ev.IsNew = true
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = msg.Timestamp
	}
	d.bus.Emit(TopicNotification, ev)

	if d.native != nil && d.wantsNative(ev) && live() {
		d.native.Show(ev)
	}
}

// wantsNative: a disabled category in settings always wins, then the
// server's showToast hint, then the settings default.
func (d *Dispatcher) wantsNative(ev NotificationEvent) bool {
	if d.settings != nil && !d.settings.NativeNotificationsEnabled(ev.Category) {
		return false
	}
	if ev.ShowToast != nil {
		return *ev.ShowToast
	}
	return d.settings != nil
}

// recentSet remembers the last n ids in insertion order.
type recentSet struct {
	ring []NotificationID
	next int
	ids  map[NotificationID]struct{}
}

func newRecentSet(n int) *recentSet {
	return &recentSet{
		ring: make([]NotificationID, 0, n),
		ids:  make(map[NotificationID]struct{}, n),
	}
}

// add records id and reports whether it was absent.
func (s *recentSet) add(id NotificationID) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, id)
	} else {
		delete(s.ids, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % len(s.ring)
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *recentSet) len() int { return len(s.ring) }
