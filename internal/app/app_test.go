package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"perp-edge/internal/config"
	"perp-edge/internal/market"
	"perp-edge/internal/state"
	"perp-edge/internal/strategy"

	"go.uber.org/zap"
)

type recordingStore struct {
	*state.Memory
	mu   sync.Mutex
	keys []string
}

func (r *recordingStore) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return r.Memory.Set(ctx, key, value)
}

func (r *recordingStore) keysWithPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode = config.ModeManual
	cfg.Manual = config.ManualConfig{
		SpotPrice:            84695,
		FuturesPrice:         84720,
		ReferenceFundingRate: 0.0001,
		InverseFundingRate:   0.00005,
	}
	cfg.Pool = config.PoolConfig{TotalUSD: 10_000_000, Skew: 0.7}
	cfg.State.Backend = "none"
	disabled := false
	cfg.Metrics.Enabled = &disabled
	cfg.Catalog.MinInterval = 10 * time.Millisecond
	cfg.History.MinInterval = 0
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunBuildsCatalogInManualMode(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "catalog", func() bool { return len(a.Catalog().Strategies) > 0 })
	cat := a.Catalog()
	if len(cat.Strategies) != 20 {
		t.Fatalf("expected 20 strategies, got %d", len(cat.Strategies))
	}
	if cat.BuildID == "" {
		t.Fatalf("expected build id")
	}
	for i := 1; i < len(cat.Strategies); i++ {
		if cat.Strategies[i].Metrics.APYPct > cat.Strategies[i-1].Metrics.APYPct {
			t.Fatalf("catalog not ranked by apy at %d", i)
		}
	}
	if len(a.History()) == 0 {
		t.Fatalf("expected a history sample")
	}
	if got := a.History()[0].RateA; got != cat.VenueRate {
		t.Fatalf("expected venue rate %v in history, got %v", cat.VenueRate, got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if a.feeds.Mode() != market.ModeManual {
		t.Fatalf("expected manual mode")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "paper"
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestManualCommandTriggersRebuild(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	waitFor(t, "catalog", func() bool { return len(a.Catalog().Strategies) > 0 })

	resp, err := a.handleOperatorCommand(ctx, "manual", []string{"spot=90000"}, operatorMeta{Raw: "/manual spot=90000"})
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if resp != "manual prices updated" {
		t.Fatalf("unexpected response %q", resp)
	}
	if got := a.feeds.Snapshot().SpotPrice; got != 90000 {
		t.Fatalf("expected spot 90000, got %v", got)
	}
	waitFor(t, "rebuild at new price", func() bool {
		s, ok := a.Catalog().Find(1)
		return ok && s.Metrics.Venue.EntryPrice == 90000
	})
}

func TestTTMRatesAfterFirstBuildTriggerRebuild(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	waitFor(t, "catalog", func() bool { return len(a.Catalog().Strategies) > 0 })
	first := a.Catalog().BuildID
	for _, s := range a.Catalog().Strategies {
		if s.Metrics.TTMAPYPct != nil {
			t.Fatalf("expected no ttm apy before averages arrive, got one on %s", s.Key)
		}
	}

	a.setTTMRates(strategy.TTMRates{ReferenceAPR: 10.95, InverseAPR: 5.475})
	waitFor(t, "rebuild with ttm apy", func() bool {
		cat := a.Catalog()
		if cat.BuildID == first {
			return false
		}
		for _, s := range cat.Strategies {
			if s.Metrics.TTMAPYPct != nil {
				return true
			}
		}
		return false
	})
}

func TestRebuildWithoutPricesKeepsEmptyCatalog(t *testing.T) {
	a := newTestApp(t)
	a.rebuild()
	if len(a.Catalog().Strategies) != 0 {
		t.Fatalf("expected no catalog before prices")
	}
	if a.topText(3) != "catalog: not built" {
		t.Fatalf("unexpected top text %q", a.topText(3))
	}
}
