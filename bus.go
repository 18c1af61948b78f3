package petnotify

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler receives an emitted topic and its payload.
type Handler func(topic string, data any)

// SubscriptionID identifies one registered handler.
type SubscriptionID string

type listener struct {
	id      SubscriptionID
	handler Handler
}

// Bus is an in-process publish/subscribe registry. Dispatch is synchronous,
// in registration order, and isolated per handler: a panicking handler is
// recovered and logged without affecting the others.
type Bus struct {
	log zerolog.Logger

	mu        sync.RWMutex
	listeners map[string][]listener
	destroyed bool
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:       log.With().Str("component", "bus").Logger(),
		listeners: make(map[string][]listener),
	}
}

// On registers h for topic. It returns "" once the bus is destroyed.
func (b *Bus) On(topic string, h Handler) SubscriptionID {
	if h == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ""
	}
	id := SubscriptionID(uuid.NewString())
	b.listeners[topic] = append(b.listeners[topic], listener{id: id, handler: h})
	return id
}

// Off removes the handler registered under id. Unknown ids are ignored.
func (b *Bus) Off(topic string, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[topic]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		// Copy rather than splice in place: in-flight emits hold the old slice.
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, topic)
		} else {
			b.listeners[topic] = next
		}
		return
	}
}

// Emit invokes every handler registered for topic at the time of the call.
func (b *Bus) Emit(topic string, data any) {
	b.mu.RLock()
	if b.destroyed {
		b.mu.RUnlock()
		return
	}
	snapshot := b.listeners[topic]
	b.mu.RUnlock()

	for _, l := range snapshot {
		b.invoke(topic, l, data)
	}
}

func (b *Bus) invoke(topic string, l listener, data any) {
	defer func() {
		if r := recover(); r != nil {
			ListenerPanicsTotal.WithLabelValues(topic).Inc()
			b.log.Error().
				Str("topic", topic).
				Str("subscription", string(l.id)).
				Str("panic", fmt.Sprint(r)).
				Msg("event listener panicked")
		}
	}()
	l.handler(topic, data)
}

// Len returns the number of handlers registered for topic.
func (b *Bus) Len(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}

// Destroy drops every listener. No dispatch happens afterwards.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed = true
	b.listeners = make(map[string][]listener)
}
