package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFeedDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Feeds.Spot.ReconnectDelay != 3*time.Second {
		t.Fatalf("expected spot reconnect 3s, got %v", cfg.Feeds.Spot.ReconnectDelay)
	}
	if cfg.Feeds.Inverse.ReconnectDelay != 5*time.Second {
		t.Fatalf("expected inverse reconnect 5s, got %v", cfg.Feeds.Inverse.ReconnectDelay)
	}
	if cfg.Feeds.Inverse.PingInterval != 20*time.Second {
		t.Fatalf("expected inverse ping 20s, got %v", cfg.Feeds.Inverse.PingInterval)
	}
	if cfg.Feeds.Futures.Throttle != 100*time.Millisecond {
		t.Fatalf("expected futures throttle 100ms, got %v", cfg.Feeds.Futures.Throttle)
	}
	if cfg.Feeds.Mark.Throttle != 3*time.Second {
		t.Fatalf("expected mark throttle 3s, got %v", cfg.Feeds.Mark.Throttle)
	}
	if cfg.Mode != ModeLive {
		t.Fatalf("expected live mode default, got %q", cfg.Mode)
	}
}

func TestFundingDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Funding.Sensitivity != 1 || cfg.Funding.Scale != 100 {
		t.Fatalf("unexpected funding defaults: %+v", cfg.Funding)
	}
	if cfg.Funding.PeriodsPerDay != 3 {
		t.Fatalf("expected 3 periods per day, got %v", cfg.Funding.PeriodsPerDay)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Metrics.Enabled == nil || !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestPoolLongShortSumToTotal(t *testing.T) {
	pool := PoolConfig{TotalUSD: 10_000_000, Skew: 0.7}
	if got := pool.Long() + pool.Short(); got != pool.TotalUSD {
		t.Fatalf("expected long+short %v, got %v", pool.TotalUSD, got)
	}
	if pool.Long() != 7_000_000 {
		t.Fatalf("expected long 7m, got %v", pool.Long())
	}
}

func TestMaxNotionalCappedByTVL(t *testing.T) {
	capital := CapitalConfig{TVLUSD: 50_000, TradeSizeUSD: 1000, MaxTVLShare: 0.01}
	if got := capital.MaxNotionalUSD(); got != 500 {
		t.Fatalf("expected 500, got %v", got)
	}
	capital.TVLUSD = 1_000_000
	if got := capital.MaxNotionalUSD(); got != 1000 {
		t.Fatalf("expected trade size 1000, got %v", got)
	}
}

func TestVenueBaseMarginedDefaultsTrue(t *testing.T) {
	if !(VenueConfig{}).BaseMargined() {
		t.Fatalf("expected base margined default")
	}
	off := false
	if (VenueConfig{VenueBaseMargined: &off}).BaseMargined() {
		t.Fatalf("expected explicit false to win")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := &Config{Mode: "paper"}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestValidateManualRequiresSpotPrice(t *testing.T) {
	cfg := &Config{Mode: ModeManual}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for manual mode without spot price")
	}
	cfg.Manual.SpotPrice = 84695
	if err := validate(cfg); err != nil {
		t.Fatalf("expected manual config valid, got %v", err)
	}
}

func TestValidateRejectsSkewOutOfRange(t *testing.T) {
	cfg := &Config{Pool: PoolConfig{TotalUSD: 1, Skew: 1.2}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for skew > 1")
	}
}

func TestValidateRejectsCapAbove100(t *testing.T) {
	cfg := &Config{Pool: PoolConfig{CapPct: 150}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for cap_pct > 100")
	}
}

func TestValidateRedisRequiresAddr(t *testing.T) {
	cfg := &Config{State: StateConfig{Backend: "redis"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for redis backend without address")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"mode: manual\n" +
		"manual:\n" +
		"  spot_price: 84695\n" +
		"pool:\n" +
		"  total_usd: 10000000\n" +
		"  skew: 0.7\n" +
		"feeds:\n" +
		"  inverse:\n" +
		"    reconnect_delay: 7s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeManual || cfg.Manual.SpotPrice != 84695 {
		t.Fatalf("unexpected manual config: %+v", cfg.Manual)
	}
	if cfg.Pool.Skew != 0.7 {
		t.Fatalf("expected skew 0.7, got %v", cfg.Pool.Skew)
	}
	if cfg.Feeds.Inverse.ReconnectDelay != 7*time.Second {
		t.Fatalf("expected inverse reconnect 7s, got %v", cfg.Feeds.Inverse.ReconnectDelay)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "" +
		"mode = \"live\"\n" +
		"[pool]\n" +
		"total_usd = 2000000.0\n" +
		"skew = 0.4\n" +
		"cap_pct = 50.0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.TotalUSD != 2_000_000 || cfg.Pool.Skew != 0.4 || cfg.Pool.CapPct != 50 {
		t.Fatalf("unexpected pool config: %+v", cfg.Pool)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDefaultAppliesDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Mode != ModeLive {
		t.Fatalf("expected live mode, got %q", cfg.Mode)
	}
	if cfg.Catalog.TopN != 5 || len(cfg.Catalog.LeverageTiers) != 3 {
		t.Fatalf("unexpected catalog defaults %+v", cfg.Catalog)
	}
	if cfg.Telegram.OperatorPollInterval != 3*time.Second {
		t.Fatalf("unexpected operator poll interval %s", cfg.Telegram.OperatorPollInterval)
	}
	if cfg.Pool.Skew != 0.5 {
		t.Fatalf("expected balanced default skew, got %v", cfg.Pool.Skew)
	}
}

func TestLoadKeepsZeroSkew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"pool:\n" +
		"  total_usd: 10000000\n" +
		"  skew: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Skew != 0 {
		t.Fatalf("expected skew 0, got %v", cfg.Pool.Skew)
	}
	if cfg.Pool.Long() != 0 || cfg.Pool.Short() != 10_000_000 {
		t.Fatalf("expected fully short pool, long=%v short=%v", cfg.Pool.Long(), cfg.Pool.Short())
	}
}
