// Package trackpoll provides an embeddable adaptive poller for mail-open
// tracking.
//
// A caller registers tracking identifiers. For each one, trackpoll probes a
// tracking API on a schedule that starts fast and backs off, and reports
// when the recipient opens the message. Polling stops when the condition
// is met, when the session reaches its maximum lifetime, or when the caller
// cancels it. Sessions are persisted, so a restarted process picks up where
// the previous one stopped.
//
// # Quick Start
//
//	tr, _ := trackpoll.New(
//	    trackpoll.WithProbeURL("https://tracker.example.com"),
//	    trackpoll.WithNotificationCallback(func(n trackpoll.Notification) {
//	        log.Printf("%s opened at %s", n.ID, n.MatchedAt)
//	    }),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	tr.Register(ctx, "msg-42")
//	tr.Start(ctx) // blocks until context is cancelled
//
// # Backoff
//
// Each session starts at the initial interval (5s by default). While the
// tracking API reports nothing, the interval stays flat for the first
// [WithBackoffThreshold] polls and then grows by the success factor after
// each poll. Failed probes grow it by the failure factor. The interval
// never exceeds [WithMaxInterval]:
//
//	tr, err := trackpoll.New(
//	    trackpoll.WithProbeURL(url),
//	    trackpoll.WithInitialInterval(2 * time.Second),
//	    trackpoll.WithMaxInterval(10 * time.Minute),
//	    trackpoll.WithMaxLifetime(48 * time.Hour),
//	    trackpoll.WithGrowthFactors(1.5, 2),
//	)
//
// # Extractors
//
// The built-in probe issues GET {base}/api/tracking/{id} and hands the
// response body to an [Extractor]:
//
//   - [OpenEventExtractor]: Matches {"opened": true, "events": [...]} (the default)
//   - [JSONFieldExtractor]: Matches a truthy JSON field using dot notation
//   - [FirstMatch]: Tries multiple extractors in order
//
// A custom [Prober] replaces the HTTP probe entirely.
//
// # Persistence and Notifications
//
// Sessions are stored in memory by default. [WithFileStore] and
// [WithRedisStore] survive restarts. Completed sessions are announced to
// [WithNotificationCallback] callbacks, to the "/api/events" SSE stream
// and, with [WithNATS], to a NATS subject.
//
// # Architecture
//
// trackpoll consists of several internal packages (under internal/):
//
//   - internal/poller: Session scheduler, backoff policy and completed set
//   - internal/probe: HTTP client for the tracking API
//   - internal/store: Memory, file and Redis session persistence
//   - internal/events: Notification fan-out to SSE and NATS
//   - internal/metrics: Prometheus instrumentation
//   - internal/server: HTTP session API with Server-Sent Events
//
// The internal packages are not part of the public API and may change
// without notice.
package trackpoll
