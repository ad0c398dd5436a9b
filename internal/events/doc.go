// Package events delivers "condition met" notifications to interested parties.
//
// This package is internal to trackpoll. When the scheduler observes the
// awaited condition for a session it emits a [Notification] through a
// [Notifier]. Delivery is best-effort: a notifier never reports failure back
// to the scheduler and nothing is retried.
//
// The main components are:
//
//   - [Notification]: The CONDITION_MET message
//   - [Hub]: In-process publish-subscribe fanout (used for Server-Sent Events)
//   - [NATSPublisher]: Publishes notifications to a NATS subject
//   - [Fanout]: Delivers one notification to several notifiers
package events
