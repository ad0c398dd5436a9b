// Package server provides the HTTP API for a running trackpoll instance.
//
// This package is internal to trackpoll and handles all HTTP concerns:
//
//   - Session API: register, list, inspect and cancel poll sessions under
//     "/api/sessions"
//   - Server-Sent Events: condition-met notifications at "/api/events"
//   - Metrics: Prometheus exposition at "/metrics"
//   - Health: liveness probe at "/healthz"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the trackpoll library should not need to interact with this
// package directly. The server is started by [trackpoll.Tracker.Start] when
// a port is configured.
package server
