package petnotify

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestUnreadCounter(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	u := NewUnreadCounter(bus)
	var counts []int
	bus.On(TopicUnreadCount, func(_ string, data any) { counts = append(counts, data.(int)) })

	bus.Emit(TopicNotification, NotificationEvent{ID: "a"})
	bus.Emit(TopicNotification, NotificationEvent{ID: "b"})
	bus.Emit(TopicNotification, NotificationEvent{ID: "a"})
	assert.Equal(t, 2, u.Count())

	bus.Emit(TopicNotificationRead, NotificationID("a"))
	bus.Emit(TopicNotificationRead, NotificationID("a"))
	bus.Emit(TopicNotificationDeleted, NotificationID("b"))
	assert.Equal(t, 0, u.Count())
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func TestUnreadCounter_Reconcile(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	u := NewUnreadCounter(bus)

	// Server reports 5 unread, only two ids fetched.
	u.Reconcile(5, "x", "y")
	assert.Equal(t, 5, u.Count())

	// Unknown ids consume the untracked remainder.
	bus.Emit(TopicNotificationRead, NotificationID("old-1"))
	bus.Emit(TopicNotificationRead, NotificationID("old-2"))
	bus.Emit(TopicNotificationRead, NotificationID("old-3"))
	assert.Equal(t, 2, u.Count())

	// Remainder exhausted: only tracked ids count now.
	bus.Emit(TopicNotificationRead, NotificationID("old-4"))
	assert.Equal(t, 2, u.Count())
	bus.Emit(TopicNotificationRead, NotificationID("x"))
	assert.Equal(t, 1, u.Count())

	t.Run("count never below tracked ids", func(t *testing.T) {
		u.Reconcile(0, "p", "q", "r")
		assert.Equal(t, 3, u.Count())
	})
}

func TestUnreadCounter_Close(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	u := NewUnreadCounter(bus)
	u.Close()

	bus.Emit(TopicNotification, NotificationEvent{ID: "a"})
	assert.Zero(t, u.Count())
	assert.Zero(t, bus.Len(TopicNotification))
}
