// Package store provides durable storage for active poll sessions.
//
// This package is internal to trackpoll. The scheduler writes a [Record]
// through to a [Store] on every session mutation so that a restarted process
// can resume in-flight polls instead of losing them.
//
// The main components are:
//
//   - [Store]: Interface defining the key-value persistence contract
//   - [Record]: JSON-serializable snapshot of one poll session
//   - [MemoryStore]: In-memory implementation, useful for tests and ephemeral runs
//   - [FileStore]: Single JSON document rewritten atomically on every change
//   - [RedisStore]: Redis hash keyed by session identifier
//
// All implementations are safe for concurrent access. Conflicting writes to
// the same key resolve last-write-wins; a single writer process per key is
// assumed.
package store
