package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

type cacheEntry struct {
	Reference float64   `msgpack:"reference"`
	Inverse   float64   `msgpack:"inverse"`
	FetchedAt time.Time `msgpack:"fetched_at"`
	Source    string    `msgpack:"source"`
}

func TestLoadSaveRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	entry := cacheEntry{
		Reference: 10.5,
		Inverse:   -2.25,
		FetchedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Source:    "live",
	}
	if err := Save(ctx, store, "ttm:averages", entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	var loaded cacheEntry
	ok, err := Load(ctx, store, "ttm:averages", &loaded)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.Reference != entry.Reference || loaded.Inverse != entry.Inverse || loaded.Source != entry.Source {
		t.Fatalf("unexpected entry %+v", loaded)
	}
	if !loaded.FetchedAt.Equal(entry.FetchedAt) {
		t.Fatalf("expected fetched at %v, got %v", entry.FetchedAt, loaded.FetchedAt)
	}
}

func TestLoadMissingKey(t *testing.T) {
	var loaded cacheEntry
	ok, err := Load(context.Background(), NewMemory(), "missing", &loaded)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	ok, err = Load(context.Background(), nil, "missing", &loaded)
	if err != nil || ok {
		t.Fatalf("nil store should miss, got ok=%v err=%v", ok, err)
	}
}

func TestLoadCorruptValue(t *testing.T) {
	store := NewMemory()
	_ = store.Set(context.Background(), "bad", []byte{0xc1})
	var loaded cacheEntry
	if _, err := Load(context.Background(), store, "bad", &loaded); err == nil {
		t.Fatalf("expected decode error")
	}
}

type failingStore struct{ Memory }

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("boom")
}

func TestLoadWrapsStoreError(t *testing.T) {
	var loaded cacheEntry
	_, err := Load(context.Background(), &failingStore{}, "key", &loaded)
	if err == nil || err.Error() != "state get key: boom" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	store := NewMemory()
	value := []byte("abc")
	_ = store.Set(context.Background(), "k", value)
	value[0] = 'x'
	got, _, _ := store.Get(context.Background(), "k")
	if string(got) != "abc" {
		t.Fatalf("memory store must copy values, got %q", got)
	}
}
