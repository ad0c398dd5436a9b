package poller

import (
	"time"

	"github.com/jpalmerr/trackpoll/internal/store"
)

// State is the lifecycle state of a poll session.
type State string

const (
	// StateRegistered is a session that has been created but not yet queued.
	StateRegistered State = "registered"

	// StatePolling is a session waiting for, or running, its next probe.
	StatePolling State = "polling"

	// StateCompleted is a session whose probe reported the awaited condition.
	StateCompleted State = "completed"

	// StateExpired is a session that reached its maximum lifetime.
	StateExpired State = "expired"

	// StateCancelled is a session removed by an explicit cancel.
	StateCancelled State = "cancelled"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether no transitions leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateCancelled
}

// session is the scheduler's mutable record of one tracked identifier.
// All fields are guarded by Scheduler.mu.
type session struct {
	id              string
	startTime       time.Time
	lastPollTime    time.Time
	pollCount       int
	currentInterval time.Duration
	state           State

	// next probe time and position in the queue; index is -1 while the
	// session is not queued (probe in flight, or terminated)
	nextFire time.Time
	index    int
}

func newSession(id string, now time.Time, interval time.Duration) *session {
	return &session{
		id:              id,
		startTime:       now,
		currentInterval: interval,
		state:           StateRegistered,
		index:           -1,
	}
}

// restoredSession rebuilds a session from storage. The start time and poll
// count survive; the interval restarts at initial.
func restoredSession(rec store.Record, initial time.Duration) *session {
	sess := newSession(rec.ID, rec.Started(), initial)
	sess.pollCount = rec.PollCount
	if rec.LastPollTime > 0 {
		sess.lastPollTime = time.UnixMilli(rec.LastPollTime)
	}
	return sess
}

func (s *session) record() store.Record {
	rec := store.Record{
		ID:              s.id,
		StartTime:       s.startTime.UnixMilli(),
		PollCount:       s.pollCount,
		CurrentInterval: s.currentInterval.Milliseconds(),
	}
	if !s.lastPollTime.IsZero() {
		rec.LastPollTime = s.lastPollTime.UnixMilli()
	}
	return rec
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		ID:              s.id,
		State:           s.state,
		StartTime:       s.startTime,
		LastPollTime:    s.lastPollTime,
		PollCount:       s.pollCount,
		CurrentInterval: s.currentInterval,
		NextPollAt:      s.nextFire,
	}
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID              string
	State           State
	StartTime       time.Time
	LastPollTime    time.Time
	PollCount       int
	CurrentInterval time.Duration

	// NextPollAt is zero while a probe is in flight.
	NextPollAt time.Time
}
