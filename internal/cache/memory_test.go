package cache

import (
	"context"
	"testing"
	"time"

	"github.com/makereels/sync/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if snap, err := store.Load(ctx); err != nil || snap != nil {
		t.Fatalf("expected empty store, got %+v, %v", snap, err)
	}

	saved := &Snapshot{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now(),
		Jobs: []model.ProcessingJob{
			{ID: "a", Title: "Video a", Status: model.JobStatusProcessing},
		},
	}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded == nil || len(loaded.Jobs) != 1 || loaded.Jobs[0].ID != "a" {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}

	// Mutating the loaded copy must not leak into the store
	loaded.Jobs[0].ID = "mutated"
	again, _ := store.Load(ctx)
	if again.Jobs[0].ID != "a" {
		t.Fatal("store returned a shared slice")
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if snap, _ := store.Load(ctx); snap != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestMemoryStoreUnknownVersionTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Save(ctx, &Snapshot{
		SchemaVersion: SchemaVersion + 1,
		SavedAt:       time.Now(),
		Jobs:          []model.ProcessingJob{{ID: "a"}},
	})

	if snap, err := store.Load(ctx); err != nil || snap != nil {
		t.Fatalf("expected unknown version to read as absent, got %+v, %v", snap, err)
	}
}
