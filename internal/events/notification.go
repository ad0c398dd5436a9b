package events

import "time"

// TypeConditionMet is the message type emitted when a probe reports the
// awaited condition.
const TypeConditionMet = "CONDITION_MET"

// Notification is the message emitted on a session's Completed transition.
type Notification struct {
	// Type is always [TypeConditionMet].
	Type string `json:"type"`

	// ID is the identifier of the completed session.
	ID string `json:"id"`

	// MatchedAt is the instant the remote service reported for the event.
	MatchedAt time.Time `json:"matchedAt"`
}

// ConditionMet builds a [Notification] for id.
func ConditionMet(id string, matchedAt time.Time) Notification {
	return Notification{Type: TypeConditionMet, ID: id, MatchedAt: matchedAt}
}

// Notifier receives notifications.
//
// Implementations must not block for long: Notify is called from the
// scheduler's probe path. Failures are handled (logged, dropped) inside the
// implementation.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the [Notifier] interface.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// Fanout delivers every notification to each notifier in order.
// Nil entries are skipped.
type Fanout []Notifier

// Notify implements [Notifier].
func (f Fanout) Notify(n Notification) {
	for _, notifier := range f {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
