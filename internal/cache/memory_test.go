package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("expected v, got %q ok=%v err=%v", value, ok, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key to be gone after delete")
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("expected key alive before TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key expired after TTL")
	}
}
