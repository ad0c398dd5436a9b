package trackpoll

import (
	"context"
	"time"

	"github.com/jpalmerr/trackpoll/internal/poller"
)

// SessionState is the lifecycle state of a poll session.
//
// A session starts as [StateRegistered], moves to [StatePolling] once it is
// queued, and ends in exactly one of [StateCompleted], [StateExpired] or
// [StateCancelled].
type SessionState string

const (
	// StateRegistered is a session that has been created but not yet queued.
	StateRegistered SessionState = "registered"

	// StatePolling is a session waiting for, or running, its next probe.
	StatePolling SessionState = "polling"

	// StateCompleted is a session whose probe reported the awaited condition.
	StateCompleted SessionState = "completed"

	// StateExpired is a session that reached its maximum lifetime.
	StateExpired SessionState = "expired"

	// StateCancelled is a session removed by [Tracker.Cancel].
	StateCancelled SessionState = "cancelled"
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	return string(s)
}

// Session is a read-only view of a poll session.
type Session struct {
	// ID is the tracking identifier being polled.
	ID string

	// State is the session's lifecycle state.
	State SessionState

	// StartTime is when the session was first registered. It survives
	// restarts.
	StartTime time.Time

	// LastPollTime is when the most recent probe was issued; zero before the
	// first probe.
	LastPollTime time.Time

	// PollCount is the number of probes issued so far.
	PollCount int

	// CurrentInterval is the wait before the next probe.
	CurrentInterval time.Duration

	// NextPollAt is when the next probe is due; zero while a probe is in
	// flight.
	NextPollAt time.Time
}

// RegisterResult describes what [Tracker.Register] did.
type RegisterResult int

const (
	// Registered means a new session was created.
	Registered RegisterResult = iota

	// AlreadyActive means the identifier was already being polled; the
	// existing session is unchanged.
	AlreadyActive

	// AlreadyCompleted means the identifier's condition was met earlier and
	// it was not re-armed. See [WithReregisterCompleted].
	AlreadyCompleted
)

// String returns the string representation of the result.
func (r RegisterResult) String() string {
	return poller.RegisterResult(r).String()
}

// ProbeResult is what an [Extractor] or [Prober] reports for one check.
type ProbeResult struct {
	// Matched is true when the awaited condition has been observed.
	Matched bool

	// MatchedAt is when the condition happened. If zero, the time the
	// tracker observed the match is used.
	MatchedAt time.Time
}

// Extractor is a function type that decides from a tracking API response
// body whether the awaited condition has been met.
//
// Returning an error marks the probe as failed; the session backs off and is
// retried later. Several built-in extractors are provided:
// [OpenEventExtractor], [JSONFieldExtractor], and [FirstMatch] for
// composition.
//
// # Panic Safety
//
// Extractors run within a panic recovery boundary. A panicking extractor is
// treated as a failed probe and its stack is logged under a correlation ID.
type Extractor func(body []byte) (ProbeResult, error)

// Prober checks an identifier's status. Use [WithProber] to replace the
// built-in HTTP probe, for example to query a database or a different API.
type Prober interface {
	Check(ctx context.Context, id string) (ProbeResult, error)
}

// ProberFunc adapts a function to the [Prober] interface.
type ProberFunc func(ctx context.Context, id string) (ProbeResult, error)

// Check calls f(ctx, id).
func (f ProberFunc) Check(ctx context.Context, id string) (ProbeResult, error) {
	return f(ctx, id)
}

// Notification reports that an identifier's awaited condition was met.
type Notification struct {
	// ID is the tracking identifier whose session completed.
	ID string

	// MatchedAt is when the condition happened.
	MatchedAt time.Time
}

func sessionFromSnapshot(snap poller.Snapshot) Session {
	return Session{
		ID:              snap.ID,
		State:           SessionState(snap.State),
		StartTime:       snap.StartTime,
		LastPollTime:    snap.LastPollTime,
		PollCount:       snap.PollCount,
		CurrentInterval: snap.CurrentInterval,
		NextPollAt:      snap.NextPollAt,
	}
}
