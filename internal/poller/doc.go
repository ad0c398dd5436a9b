// Package poller runs the adaptive open-detection poll loop for trackpoll.
//
// This package is internal to trackpoll. A [Scheduler] owns one session per
// tracked identifier and drives it through probe → backoff → reschedule until
// the probe reports the awaited condition, the session outlives its maximum
// lifetime, or the caller cancels it.
//
// The main components are:
//
//   - [Scheduler]: Session map, next-fire priority queue and the tick loop
//   - [Policy]: Interval growth and lifetime rules
//   - [Prober]: The remote status check the scheduler treats as a black box
//   - [CompletedSet]: Bounded memory of identifiers that already completed
//   - [Clock]: Time source, replaced by a fake in tests
//
// Every session mutation is written through to a store.Store so that
// [Scheduler.RestoreAll] can resume in-flight polls after a restart.
package poller
