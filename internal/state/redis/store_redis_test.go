package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatalf("expected ping error")
	}
	if !strings.HasPrefix(err.Error(), "redis: ping") {
		t.Fatalf("unexpected error %v", err)
	}
}

// Runs against a real server when PERP_EDGE_REDIS_ADDR is set.
func TestStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("PERP_EDGE_REDIS_ADDR")
	if addr == "" {
		t.Skip("PERP_EDGE_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := New(ctx, Config{Addr: addr, Prefix: "perp-edge-test:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("get: %q ok=%v err=%v", val, ok, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key deleted")
	}
}
