package store

import (
	"context"
	"sync"
	"testing"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	all, err := store.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("GetAll() = %v items, want 0", len(all))
	}
}

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := Record{ID: "track_1", StartTime: 1000, PollCount: 3, CurrentInterval: 5000}
	if err := store.Set(ctx, rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "track_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != rec {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
}

func TestMemoryStore_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Set(ctx, Record{ID: "a", PollCount: 1})
	_ = store.Set(ctx, Record{ID: "a", PollCount: 2})

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	got, _, _ := store.Get(ctx, "a")
	if got.PollCount != 2 {
		t.Errorf("PollCount = %d, want 2 (last write wins)", got.PollCount)
	}
}

func TestMemoryStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Set(ctx, Record{ID: "a"})
	if err := store.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after Remove, want 0", store.Len())
	}

	// removing an unknown id is a no-op
	if err := store.Remove(ctx, "never-stored"); err != nil {
		t.Errorf("Remove(unknown) error = %v, want nil", err)
	}
}

func TestMemoryStore_GetAllReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, Record{ID: "a"})

	all, _ := store.GetAll(ctx)
	delete(all, "a")
	all["b"] = Record{ID: "b"}

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	if _, ok, _ := store.Get(ctx, "a"); !ok {
		t.Error("mutating GetAll() result affected the store")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	numGoroutines := 10
	numOps := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				_ = store.Set(ctx, Record{ID: "shared", PollCount: j})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				_, _ = store.GetAll(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				_ = store.Remove(ctx, "shared")
			}
		}()
	}

	wg.Wait()
}
