package store

import (
	"context"
	"time"
)

// Record is the persisted form of a poll session.
//
// Record is the storage representation of a session, minus the process-local
// timer state. Instants are stored as epoch milliseconds and the interval as
// milliseconds so the document stays readable and language-neutral.
type Record struct {
	// ID is the tracked identifier and the storage key.
	ID string `json:"id"`

	// StartTime is when the session was created, in epoch milliseconds.
	StartTime int64 `json:"startTime"`

	// LastPollTime is when the most recent probe was issued, in epoch
	// milliseconds. Zero if the session was never probed.
	LastPollTime int64 `json:"lastPollTime"`

	// PollCount is the number of probes issued so far.
	PollCount int `json:"pollCount"`

	// CurrentInterval is the wait before the next probe, in milliseconds.
	CurrentInterval int64 `json:"currentInterval"`
}

// Started returns StartTime as a [time.Time].
func (r Record) Started() time.Time {
	return time.UnixMilli(r.StartTime)
}

// Interval returns CurrentInterval as a [time.Duration].
func (r Record) Interval() time.Duration {
	return time.Duration(r.CurrentInterval) * time.Millisecond
}

// Store defines the persistence contract for poll sessions.
//
// Store implementations must be safe for concurrent access. Every method may
// perform I/O and honours ctx cancellation where the backend supports it.
type Store interface {
	// Get returns the record for id. The boolean is false if no record exists.
	Get(ctx context.Context, id string) (Record, bool, error)

	// Set stores rec under rec.ID, replacing any previous value.
	Set(ctx context.Context, rec Record) error

	// Remove deletes the record for id. Removing a missing id is not an error.
	Remove(ctx context.Context, id string) error

	// GetAll returns every stored record keyed by id.
	// The returned map is a snapshot; modifications do not affect the store.
	GetAll(ctx context.Context) (map[string]Record, error)
}
