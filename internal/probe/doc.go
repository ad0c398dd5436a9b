// Package probe provides the HTTP status check used by the trackpoll
// scheduler.
//
// This package is internal to trackpoll. A [Client] asks the tracking API
// whether an identifier has reached its awaited state by issuing
// GET {base}/api/tracking/{id} and handing the body to an [Extractor].
// It performs no retries of its own: a failed check is reported to the
// scheduler, which backs off and tries again later.
package probe
