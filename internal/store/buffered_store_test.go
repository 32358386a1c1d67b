package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

func TestBufferedStore_UpsertAndFetch(t *testing.T) {
	bs := store.NewBufferedStore(store.NewMemoryStore(), 10, 20*time.Millisecond)
	defer bs.Close(context.Background())

	ctx := context.Background()
	if err := bs.Upsert(ctx, "/foo", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc, err := bs.Fetch(ctx, "/foo")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Data["a"] != 1 {
		t.Errorf("got Data[a]=%v, want 1", doc.Data["a"])
	}
}

func TestBufferedStore_RejectsReservedKey(t *testing.T) {
	bs := store.NewBufferedStore(store.NewMemoryStore(), 10, time.Hour)
	defer bs.Close(context.Background())

	if err := bs.Upsert(context.Background(), "_reserved", map[string]any{}); err != store.ErrReservedKey {
		t.Errorf("got %v, want ErrReservedKey", err)
	}
}

func TestBufferedStore_Delete(t *testing.T) {
	bs := store.NewBufferedStore(store.NewMemoryStore(), 10, 10*time.Millisecond)
	defer bs.Close(context.Background())

	ctx := context.Background()
	if err := bs.Upsert(ctx, "/foo", map[string]any{}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := bs.Delete(ctx, "/foo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := bs.Fetch(ctx, "/foo"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBufferedStore_ConcurrentUpsertsToSameKeySerialised(t *testing.T) {
	bs := store.NewBufferedStore(store.NewMemoryStore(), 10, 10*time.Millisecond)
	defer bs.Close(context.Background())

	ctx := context.Background()
	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errs <- bs.Upsert(ctx, "/shared", map[string]any{"i": i})
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Upsert error: %v", err)
		}
	}

	if _, err := bs.Fetch(ctx, "/shared"); err != nil {
		t.Errorf("expected document to exist, got %v", err)
	}
}
