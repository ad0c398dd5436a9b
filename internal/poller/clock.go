package poller

import "time"

// Clock supplies the current time to the [Scheduler].
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a [Clock] backed by [time.Now].
func SystemClock() Clock {
	return systemClock{}
}
