package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps records in a map guarded by a read-write mutex. Nothing
// survives the process, so it only provides restart recovery inside tests or
// when the scheduler itself is recreated within one process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get returns the record stored for id.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	return rec, ok, nil
}

// Set stores rec, replacing any previous record with the same ID.
func (m *MemoryStore) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

// Remove deletes the record for id. Safe to call with an unknown id.
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// GetAll returns a copy of all stored records.
func (m *MemoryStore) GetAll(_ context.Context) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Record, len(m.records))
	for id, rec := range m.records {
		out[id] = rec
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
