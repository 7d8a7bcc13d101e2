package state

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Load decodes a msgpack value stored under key into v.
func Load(ctx context.Context, store Store, key string, v any) (bool, error) {
	if store == nil {
		return false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("state get %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("state decode %s: %w", key, err)
	}
	return true, nil
}

func Save(ctx context.Context, store Store, key string, v any) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("state encode %s: %w", key, err)
	}
	if err := store.Set(ctx, key, payload); err != nil {
		return fmt.Errorf("state set %s: %w", key, err)
	}
	return nil
}
