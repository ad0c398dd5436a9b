package events

import "sync"

const subscriberBuffer = 100

// Hub is an in-process publish-subscribe [Notifier].
//
// Subscribers receive notifications via buffered channels (buffer size 100).
// Sends are non-blocking; if a subscriber's buffer is full, the notification
// is dropped for that subscriber so one slow reader cannot stall the
// scheduler.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}
}

var _ Notifier = (*Hub)(nil)

// NewHub creates an empty [Hub].
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Notification]struct{}),
	}
}

// Notify publishes n to all current subscribers.
func (h *Hub) Notify(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- n:
		default:
			// subscriber is slow, drop the message
		}
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// notifications.
//
// Caller must call [Hub.Unsubscribe] when done to prevent resource leaks.
func (h *Hub) Subscribe() <-chan Notification {
	ch := make(chan Notification, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (h *Hub) Unsubscribe(ch <-chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for subCh := range h.subscribers {
		if subCh == ch {
			delete(h.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
