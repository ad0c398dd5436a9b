package poller

import (
	"errors"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultInitialInterval     = 5 * time.Second
	DefaultMaxInterval         = 5 * time.Minute
	DefaultMaxLifetime         = 24 * time.Hour
	DefaultBackoffThreshold    = 10
	DefaultSuccessGrowthFactor = 1.5
	DefaultFailureGrowthFactor = 2.0
)

// Policy controls how a session's probe interval grows and when it expires.
type Policy struct {
	// InitialInterval is the wait before the first probe, and after a restore.
	InitialInterval time.Duration

	// MaxInterval caps the wait between probes.
	MaxInterval time.Duration

	// MaxLifetime bounds how long a session may poll, measured from its
	// start time.
	MaxLifetime time.Duration

	// BackoffThreshold is the number of initial probes that keep the
	// interval unchanged when the condition is not yet met.
	BackoffThreshold int

	// SuccessGrowthFactor multiplies the interval after a "not yet" answer
	// once the threshold has been passed.
	SuccessGrowthFactor float64

	// FailureGrowthFactor multiplies the interval after a failed probe.
	FailureGrowthFactor float64
}

// DefaultPolicy returns the policy used when none is configured:
// 5s initial, 5m cap, 24h lifetime, 10 fast polls, ×1.5 growth, ×2 on failure.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		MaxLifetime:         DefaultMaxLifetime,
		BackoffThreshold:    DefaultBackoffThreshold,
		SuccessGrowthFactor: DefaultSuccessGrowthFactor,
		FailureGrowthFactor: DefaultFailureGrowthFactor,
	}
}

// Validate reports whether the policy is usable.
//
// Growth factors below 1 are rejected because they would shrink the
// interval, and InitialInterval may not exceed MaxInterval.
func (p Policy) Validate() error {
	if p.InitialInterval <= 0 {
		return errors.New("initial interval must be positive")
	}
	if p.MaxInterval <= 0 {
		return errors.New("max interval must be positive")
	}
	if p.InitialInterval > p.MaxInterval {
		return fmt.Errorf("initial interval %s exceeds max interval %s", p.InitialInterval, p.MaxInterval)
	}
	if p.MaxLifetime <= 0 {
		return errors.New("max lifetime must be positive")
	}
	if p.BackoffThreshold < 0 {
		return errors.New("backoff threshold cannot be negative")
	}
	if p.SuccessGrowthFactor < 1 {
		return fmt.Errorf("success growth factor must be at least 1, got %g", p.SuccessGrowthFactor)
	}
	if p.FailureGrowthFactor < 1 {
		return fmt.Errorf("failure growth factor must be at least 1, got %g", p.FailureGrowthFactor)
	}
	return nil
}

// AfterPending returns the interval to use after a probe that answered
// "not yet". pollCount is the number of probes issued including this one.
func (p Policy) AfterPending(current time.Duration, pollCount int) time.Duration {
	if pollCount <= p.BackoffThreshold {
		return current
	}
	return p.grow(current, p.SuccessGrowthFactor)
}

// AfterFailure returns the interval to use after a failed probe.
func (p Policy) AfterFailure(current time.Duration) time.Duration {
	return p.grow(current, p.FailureGrowthFactor)
}

// Expired reports whether a session started at start has reached its
// lifetime at now.
func (p Policy) Expired(start, now time.Time) bool {
	return now.Sub(start) >= p.MaxLifetime
}

// grow multiplies current by factor, capped at MaxInterval. The result is
// never smaller than current.
func (p Policy) grow(current time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > p.MaxInterval {
		next = p.MaxInterval
	}
	if next < current {
		// float rounding, or current already above a lowered cap
		return current
	}
	return next
}
