package timescale

import (
	"context"
	"testing"
	"time"

	"perp-edge/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer, got %v %v", w, err)
	}
	// nil writer is inert
	w.Start(context.Background())
	w.EnqueueMarket(MarketSample{})
	w.EnqueueStrategy(StrategySample{})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected dsn error")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, zap.NewNop(), "public", 1)
	w.EnqueueMarket(MarketSample{Time: time.Now()})
	w.EnqueueMarket(MarketSample{Time: time.Now()})
	w.EnqueueStrategy(StrategySample{Key: "a"})
	w.EnqueueStrategy(StrategySample{Key: "b"})
	w.EnqueueStrategy(StrategySample{Key: "c"})
	markets, strategies := w.Dropped()
	if markets != 1 || strategies != 2 {
		t.Fatalf("expected 1/2 drops, got %d/%d", markets, strategies)
	}
}

func TestTableQualifiesSchema(t *testing.T) {
	w := newWriter(nil, zap.NewNop(), "edge", 0)
	if got := w.table("market_samples"); got != "edge.market_samples" {
		t.Fatalf("unexpected table %s", got)
	}
}
