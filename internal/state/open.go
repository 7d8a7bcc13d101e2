package state

import (
	"context"
	"fmt"

	"perp-edge/internal/config"
	"perp-edge/internal/state/redis"
	"perp-edge/internal/state/sqlite"
)

// Open returns the configured backend. "none" yields an in-memory store.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return NewMemory(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite state: %w", err)
		}
		return store, nil
	case "redis":
		store, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis state: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
