package petnotify

import "sync"

// TopicUnreadCount carries the unread count (int) after every change.
const TopicUnreadCount = "unread_count"

// UnreadCounter keeps an unread badge count consistent between real-time
// pushes and the count polled from the REST collaborator.
//
// count is never below the number of tracked unread ids; acks for ids that
// are not tracked only decrement the untracked remainder.
type UnreadCounter struct {
	bus *Bus
	// live gates pushed changes; when it reports false, arrivals and acks
	// are ignored. Reconcile is not gated.
	live func() bool

	mu     sync.Mutex
	count  int
	unread map[NotificationID]struct{}
	subs   map[string]SubscriptionID
}

// NewUnreadCounter subscribes to bus and starts from zero.
func NewUnreadCounter(bus *Bus) *UnreadCounter {
	u := &UnreadCounter{
		bus:    bus,
		unread: make(map[NotificationID]struct{}),
		subs:   make(map[string]SubscriptionID),
	}
	u.subs[TopicNotification] = bus.On(TopicNotification, func(_ string, data any) {
		if ev, ok := data.(NotificationEvent); ok {
			u.arrived(ev.ID)
		}
	})
	u.subs[TopicNotificationRead] = bus.On(TopicNotificationRead, func(_ string, data any) {
		if id, ok := data.(NotificationID); ok {
			u.cleared(id)
		}
	})
	u.subs[TopicNotificationDeleted] = bus.On(TopicNotificationDeleted, func(_ string, data any) {
		if id, ok := data.(NotificationID); ok {
			u.cleared(id)
		}
	})
	return u
}

// Count returns the current unread count.
func (u *UnreadCounter) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Reconcile replaces local state with a polled snapshot: the server's
// unread total and whichever unread ids the caller fetched.
func (u *UnreadCounter) Reconcile(count int, ids ...NotificationID) {
	u.mu.Lock()
	u.unread = make(map[NotificationID]struct{}, len(ids))
	for _, id := range ids {
		u.unread[id] = struct{}{}
	}
	u.count = max(count, len(u.unread))
	n := u.count
	u.mu.Unlock()

	u.bus.Emit(TopicUnreadCount, n)
}

// Close unsubscribes from the bus.
func (u *UnreadCounter) Close() {
	u.mu.Lock()
	subs := u.subs
	u.subs = make(map[string]SubscriptionID)
	u.mu.Unlock()
	for topic, id := range subs {
		u.bus.Off(topic, id)
	}
}

func (u *UnreadCounter) arrived(id NotificationID) {
	if u.live != nil && !u.live() {
		return
	}
	u.mu.Lock()
	if _, ok := u.unread[id]; ok {
		u.mu.Unlock()
		return
	}
	u.unread[id] = struct{}{}
	u.count++
	n := u.count
	u.mu.Unlock()

	u.bus.Emit(TopicUnreadCount, n)
}

func (u *UnreadCounter) cleared(id NotificationID) {
	if u.live != nil && !u.live() {
		return
	}
	u.mu.Lock()
	if _, ok := u.unread[id]; ok {
		delete(u.unread, id)
		u.count--
	} else if u.count > len(u.unread) {
		u.count--
	} else {
		u.mu.Unlock()
		return
	}
	n := u.count
	u.mu.Unlock()

	u.bus.Emit(TopicUnreadCount, n)
}
