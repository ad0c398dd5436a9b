package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileStore_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	all, _ := store.GetAll(context.Background())
	if len(all) != 0 {
		t.Errorf("GetAll() = %d items, want 0", len(all))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("NewFileStore() should not create the file before the first write")
	}
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") error = nil, want error")
	}
}

func TestNewFileStore_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := NewFileStore(path)
	if err == nil {
		t.Fatal("NewFileStore() error = nil, want parse error")
	}
	if !strings.Contains(err.Error(), "parse session file") {
		t.Errorf("error = %q, want to contain 'parse session file'", err.Error())
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "sessions.json")

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	recA := Record{ID: "track_a", StartTime: 1700000000000, LastPollTime: 1700000005000, PollCount: 1, CurrentInterval: 5000}
	recB := Record{ID: "track_b", StartTime: 1700000001000, CurrentInterval: 5000}
	if err := first.Set(ctx, recA); err != nil {
		t.Fatalf("Set(a) error = %v", err)
	}
	if err := first.Set(ctx, recB); err != nil {
		t.Fatalf("Set(b) error = %v", err)
	}
	if err := first.Remove(ctx, "track_b"); err != nil {
		t.Fatalf("Remove(b) error = %v", err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	all, _ := second.GetAll(ctx)
	if len(all) != 1 {
		t.Fatalf("GetAll() after reopen = %d items, want 1", len(all))
	}
	if all["track_a"] != recA {
		t.Errorf("track_a = %+v, want %+v", all["track_a"], recA)
	}
}

func TestFileStore_DocumentLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, _ := NewFileStore(path)
	_ = store.Set(ctx, Record{ID: "x", StartTime: 42, CurrentInterval: 5000})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var raw map[string]map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
	sess, ok := raw["activeTrackingSessions"]["x"]
	if !ok {
		t.Fatalf("document = %s, want activeTrackingSessions.x", data)
	}
	if sess["startTime"] != float64(42) {
		t.Errorf("startTime = %v, want 42", sess["startTime"])
	}
	if sess["currentInterval"] != float64(5000) {
		t.Errorf("currentInterval = %v, want 5000", sess["currentInterval"])
	}
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "sessions.json"))

	for i := 0; i < 5; i++ {
		_ = store.Set(ctx, Record{ID: "a", PollCount: i})
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contains %v, want only sessions.json", names)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	store, _ := NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, Record{ID: "a"}); err == nil {
		t.Error("Set() with cancelled context error = nil, want error")
	}
	all, _ := store.GetAll(context.Background())
	if len(all) != 0 {
		t.Error("Set() with cancelled context should not store the record")
	}
}
