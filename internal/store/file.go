package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileDocument is the on-disk layout of a [FileStore].
type fileDocument struct {
	Sessions map[string]Record `json:"activeTrackingSessions"`
}

// FileStore is a [Store] backed by a single JSON file.
//
// The whole session collection lives in one document and is rewritten on
// every mutation. Writes go to a temporary file in the same directory that is
// then renamed over the target, so a crash mid-write leaves either the old or
// the new document, never a truncated one.
//
// FileStore caches the document in memory after [NewFileStore] reads it; it
// assumes it is the only writer of the file.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or prepares to create) the session file at path.
//
// A missing file is treated as an empty store; the file and its parent
// directory are created on the first write. Returns an error if an existing
// file cannot be read or is not valid JSON.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path cannot be empty")
	}

	fs := &FileStore{
		path:    path,
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return fs, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	for id, rec := range doc.Sessions {
		// the map key is authoritative if an older document omitted the id field
		rec.ID = id
		fs.records[id] = rec
	}

	return fs, nil
}

// Path returns the location of the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Get returns the record stored for id.
func (f *FileStore) Get(_ context.Context, id string) (Record, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, ok := f.records[id]
	return rec, ok, nil
}

// Set stores rec and rewrites the backing file.
//
// If the write fails the in-memory copy is rolled back so that a later
// GetAll reflects what is actually on disk.
func (f *FileStore) Set(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.records[rec.ID]
	f.records[rec.ID] = rec

	if err := f.flushLocked(); err != nil {
		if existed {
			f.records[rec.ID] = prev
		} else {
			delete(f.records, rec.ID)
		}
		return err
	}
	return nil
}

// Remove deletes the record for id and rewrites the backing file.
// Removing an unknown id does not touch the file.
func (f *FileStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.records[id]
	if !existed {
		return nil
	}
	delete(f.records, id)

	if err := f.flushLocked(); err != nil {
		f.records[id] = prev
		return err
	}
	return nil
}

// GetAll returns a copy of all stored records.
func (f *FileStore) GetAll(_ context.Context) (map[string]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]Record, len(f.records))
	for id, rec := range f.records {
		out[id] = rec
	}
	return out, nil
}

// flushLocked writes the current records atomically. Caller must hold f.mu.
func (f *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fileDocument{Sessions: f.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "sessions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
