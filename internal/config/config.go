package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	ModeLive   = "live"
	ModeManual = "manual"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log" toml:"log"`
	Mode      string          `yaml:"mode" toml:"mode"`
	Manual    ManualConfig    `yaml:"manual" toml:"manual"`
	Feeds     FeedsConfig     `yaml:"feeds" toml:"feeds"`
	Pool      PoolConfig      `yaml:"pool" toml:"pool"`
	Funding   FundingConfig   `yaml:"funding" toml:"funding"`
	Capital   CapitalConfig   `yaml:"capital" toml:"capital"`
	Venue     VenueConfig     `yaml:"venue" toml:"venue"`
	Catalog   CatalogConfig   `yaml:"catalog" toml:"catalog"`
	History   HistoryConfig   `yaml:"history" toml:"history"`
	TTM       TTMConfig       `yaml:"ttm" toml:"ttm"`
	State     StateConfig     `yaml:"state" toml:"state"`
	Timescale TimescaleConfig `yaml:"timescale" toml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// ManualConfig holds the override prices used when mode is manual.
type ManualConfig struct {
	SpotPrice            float64 `yaml:"spot_price" toml:"spot_price"`
	FuturesPrice         float64 `yaml:"futures_price" toml:"futures_price"`
	MarkPrice            float64 `yaml:"mark_price" toml:"mark_price"`
	ReferenceFundingRate float64 `yaml:"reference_funding_rate" toml:"reference_funding_rate"`
	InversePrice         float64 `yaml:"inverse_price" toml:"inverse_price"`
	InverseFundingRate   float64 `yaml:"inverse_funding_rate" toml:"inverse_funding_rate"`
}

type FeedConfig struct {
	URL            string        `yaml:"url" toml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	Throttle       time.Duration `yaml:"throttle" toml:"throttle"`
	PingInterval   time.Duration `yaml:"ping_interval" toml:"ping_interval"`
	Symbol         string        `yaml:"symbol" toml:"symbol"`
}

type FeedsConfig struct {
	Spot    FeedConfig `yaml:"spot" toml:"spot"`
	Futures FeedConfig `yaml:"futures" toml:"futures"`
	Mark    FeedConfig `yaml:"mark" toml:"mark"`
	Inverse FeedConfig `yaml:"inverse" toml:"inverse"`
}

// PoolConfig describes the venue pool. Skew is the long share of TotalUSD;
// a loaded file keeps it as written, so 0 is a fully short pool.
type PoolConfig struct {
	TotalUSD float64 `yaml:"total_usd" toml:"total_usd"`
	Skew     float64 `yaml:"skew" toml:"skew"`
	CapPct   float64 `yaml:"cap_pct" toml:"cap_pct"`
}

// Long returns the long side of the pool. Short is derived from it so the
// two always sum to TotalUSD.
func (p PoolConfig) Long() float64 {
	return p.TotalUSD * p.Skew
}

func (p PoolConfig) Short() float64 {
	return p.TotalUSD - p.Long()
}

type FundingConfig struct {
	Sensitivity   float64 `yaml:"sensitivity" toml:"sensitivity"`
	Scale         float64 `yaml:"scale" toml:"scale"`
	PeriodsPerDay float64 `yaml:"periods_per_day" toml:"periods_per_day"`
}

type CapitalConfig struct {
	TVLUSD          float64 `yaml:"tvl_usd" toml:"tvl_usd"`
	TradeSizeUSD    float64 `yaml:"trade_size_usd" toml:"trade_size_usd"`
	MaxTVLShare     float64 `yaml:"max_tvl_share" toml:"max_tvl_share"`
	BorrowRateBase  float64 `yaml:"borrow_rate_base" toml:"borrow_rate_base"`
	BorrowRateQuote float64 `yaml:"borrow_rate_quote" toml:"borrow_rate_quote"`
	UseCustomBorrow bool    `yaml:"use_custom_borrow" toml:"use_custom_borrow"`
}

// MaxNotionalUSD is the notional any single strategy leg may use.
func (c CapitalConfig) MaxNotionalUSD() float64 {
	limit := c.TradeSizeUSD
	if c.TVLUSD > 0 && c.MaxTVLShare > 0 {
		if share := c.TVLUSD * c.MaxTVLShare; limit <= 0 || share < limit {
			limit = share
		}
	}
	if limit < 0 {
		return 0
	}
	return limit
}

type VenueConfig struct {
	ReferenceTakerFee   float64 `yaml:"reference_taker_fee" toml:"reference_taker_fee"`
	InverseTakerFee     float64 `yaml:"inverse_taker_fee" toml:"inverse_taker_fee"`
	LinearMaintMargin   float64 `yaml:"linear_maint_margin" toml:"linear_maint_margin"`
	InverseMaintMargin  float64 `yaml:"inverse_maint_margin" toml:"inverse_maint_margin"`
	VenueBaseMargined   *bool   `yaml:"venue_base_margined" toml:"venue_base_margined"`
	ReferencePeriodsDay float64 `yaml:"reference_periods_per_day" toml:"reference_periods_per_day"`
	InversePeriodsDay   float64 `yaml:"inverse_periods_per_day" toml:"inverse_periods_per_day"`
}

func (v VenueConfig) BaseMargined() bool {
	if v.VenueBaseMargined == nil {
		return true
	}
	return *v.VenueBaseMargined
}

type CatalogConfig struct {
	MinInterval        time.Duration `yaml:"min_interval" toml:"min_interval"`
	LeverageTiers      []float64     `yaml:"leverage_tiers" toml:"leverage_tiers"`
	ConservativeLev    float64       `yaml:"conservative_leverage" toml:"conservative_leverage"`
	EfficientLev       float64       `yaml:"capital_efficient_leverage" toml:"capital_efficient_leverage"`
	ExtremeDistancePct float64       `yaml:"extreme_distance_pct" toml:"extreme_distance_pct"`
	HighDistancePct    float64       `yaml:"high_distance_pct" toml:"high_distance_pct"`
	MediumDistancePct  float64       `yaml:"medium_distance_pct" toml:"medium_distance_pct"`
	TopN               int           `yaml:"top_n" toml:"top_n"`
}

type HistoryConfig struct {
	Capacity    int           `yaml:"capacity" toml:"capacity"`
	MinInterval time.Duration `yaml:"min_interval" toml:"min_interval"`
}

type TTMConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	TTL             time.Duration `yaml:"ttl" toml:"ttl"`
	Lookback        time.Duration `yaml:"lookback" toml:"lookback"`
	MaxSamples      int           `yaml:"max_samples" toml:"max_samples"`
	BinanceBaseURL  string        `yaml:"binance_base_url" toml:"binance_base_url"`
	BybitBaseURL    string        `yaml:"bybit_base_url" toml:"bybit_base_url"`
	ReferenceSymbol string        `yaml:"reference_symbol" toml:"reference_symbol"`
	InverseSymbol   string        `yaml:"inverse_symbol" toml:"inverse_symbol"`
	RequestsPerSec  float64       `yaml:"requests_per_sec" toml:"requests_per_sec"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	ReferencePerDay float64       `yaml:"reference_periods_per_day" toml:"reference_periods_per_day"`
	InversePerDay   float64       `yaml:"inverse_periods_per_day" toml:"inverse_periods_per_day"`
}

type StateConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	SQLitePath    string `yaml:"sqlite_path" toml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" toml:"redis_prefix"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	DSN             string        `yaml:"dsn" toml:"dsn"`
	Schema          string        `yaml:"schema" toml:"schema"`
	QueueSize       int           `yaml:"queue_size" toml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
	Path    string `yaml:"path" toml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled == nil || *m.Enabled
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled" toml:"enabled"`
	Token                  string        `yaml:"token" toml:"token"`
	ChatID                 string        `yaml:"chat_id" toml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled" toml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval" toml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids" toml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a config with every default applied, as if loaded from an
// empty file.
// Default is the configuration used without a file: a balanced pool and
// every section's defaults.
func Default() *Config {
	cfg := Config{Pool: PoolConfig{Skew: 0.5}}
	applyDefaults(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.State.RedisPassword = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 7
		}
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	applyFeedDefaults(&cfg.Feeds)
	if cfg.Funding.Sensitivity == 0 {
		cfg.Funding.Sensitivity = 1.0
	}
	if cfg.Funding.Scale == 0 {
		cfg.Funding.Scale = 100
	}
	if cfg.Funding.PeriodsPerDay == 0 {
		cfg.Funding.PeriodsPerDay = 3
	}
	if cfg.Capital.TradeSizeUSD == 0 {
		cfg.Capital.TradeSizeUSD = 1000
	}
	if cfg.Capital.MaxTVLShare == 0 {
		cfg.Capital.MaxTVLShare = 0.01
	}
	if cfg.Venue.ReferenceTakerFee == 0 {
		cfg.Venue.ReferenceTakerFee = 0.0005
	}
	if cfg.Venue.InverseTakerFee == 0 {
		cfg.Venue.InverseTakerFee = 0.00055
	}
	if cfg.Venue.LinearMaintMargin == 0 {
		cfg.Venue.LinearMaintMargin = 0.004
	}
	if cfg.Venue.InverseMaintMargin == 0 {
		cfg.Venue.InverseMaintMargin = 0.005
	}
	if cfg.Venue.ReferencePeriodsDay == 0 {
		cfg.Venue.ReferencePeriodsDay = 3
	}
	if cfg.Venue.InversePeriodsDay == 0 {
		cfg.Venue.InversePeriodsDay = 3
	}
	if cfg.Catalog.MinInterval == 0 {
		cfg.Catalog.MinInterval = time.Second
	}
	if len(cfg.Catalog.LeverageTiers) == 0 {
		cfg.Catalog.LeverageTiers = []float64{2, 5, 10}
	}
	if cfg.Catalog.ConservativeLev == 0 {
		cfg.Catalog.ConservativeLev = 1
	}
	if cfg.Catalog.EfficientLev == 0 {
		cfg.Catalog.EfficientLev = 20
	}
	if cfg.Catalog.ExtremeDistancePct == 0 {
		cfg.Catalog.ExtremeDistancePct = 5
	}
	if cfg.Catalog.HighDistancePct == 0 {
		cfg.Catalog.HighDistancePct = 10
	}
	if cfg.Catalog.MediumDistancePct == 0 {
		cfg.Catalog.MediumDistancePct = 20
	}
	if cfg.Catalog.TopN == 0 {
		cfg.Catalog.TopN = 5
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = 720
	}
	if cfg.History.MinInterval == 0 {
		cfg.History.MinInterval = 5 * time.Second
	}
	applyTTMDefaults(&cfg.TTM)
	if cfg.State.Backend == "" {
		cfg.State.Backend = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/perp-edge.db"
	}
	if cfg.State.RedisPrefix == "" {
		cfg.State.RedisPrefix = "perp-edge:"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func applyFeedDefaults(feeds *FeedsConfig) {
	if feeds.Spot.URL == "" {
		feeds.Spot.URL = "wss://stream.binance.com:9443/ws/btcusdt@trade"
	}
	if feeds.Spot.ReconnectDelay == 0 {
		feeds.Spot.ReconnectDelay = 3 * time.Second
	}
	if feeds.Spot.Throttle == 0 {
		feeds.Spot.Throttle = 100 * time.Millisecond
	}
	if feeds.Futures.URL == "" {
		feeds.Futures.URL = "wss://fstream.binance.com/ws/btcusdt@trade"
	}
	if feeds.Futures.ReconnectDelay == 0 {
		feeds.Futures.ReconnectDelay = 3 * time.Second
	}
	if feeds.Futures.Throttle == 0 {
		feeds.Futures.Throttle = 100 * time.Millisecond
	}
	if feeds.Mark.URL == "" {
		feeds.Mark.URL = "wss://fstream.binance.com/ws/btcusdt@markPrice@1s"
	}
	if feeds.Mark.ReconnectDelay == 0 {
		feeds.Mark.ReconnectDelay = 3 * time.Second
	}
	if feeds.Mark.Throttle == 0 {
		feeds.Mark.Throttle = 3 * time.Second
	}
	if feeds.Inverse.URL == "" {
		feeds.Inverse.URL = "wss://stream.bybit.com/v5/public/inverse"
	}
	if feeds.Inverse.ReconnectDelay == 0 {
		feeds.Inverse.ReconnectDelay = 5 * time.Second
	}
	if feeds.Inverse.Throttle == 0 {
		feeds.Inverse.Throttle = 100 * time.Millisecond
	}
	if feeds.Inverse.PingInterval == 0 {
		feeds.Inverse.PingInterval = 20 * time.Second
	}
	if feeds.Inverse.Symbol == "" {
		feeds.Inverse.Symbol = "BTCUSD"
	}
}

func applyTTMDefaults(ttm *TTMConfig) {
	if ttm.TTL == 0 {
		ttm.TTL = 24 * time.Hour
	}
	if ttm.Lookback == 0 {
		ttm.Lookback = 365 * 24 * time.Hour
	}
	if ttm.MaxSamples == 0 {
		ttm.MaxSamples = 1100
	}
	if ttm.BinanceBaseURL == "" {
		ttm.BinanceBaseURL = "https://fapi.binance.com"
	}
	if ttm.BybitBaseURL == "" {
		ttm.BybitBaseURL = "https://api.bybit.com"
	}
	if ttm.ReferenceSymbol == "" {
		ttm.ReferenceSymbol = "BTCUSDT"
	}
	if ttm.InverseSymbol == "" {
		ttm.InverseSymbol = "BTCUSD"
	}
	if ttm.RequestsPerSec == 0 {
		ttm.RequestsPerSec = 5
	}
	if ttm.Timeout == 0 {
		ttm.Timeout = 10 * time.Second
	}
	if ttm.RefreshInterval == 0 {
		ttm.RefreshInterval = time.Hour
	}
	if ttm.ReferencePerDay == 0 {
		ttm.ReferencePerDay = 3
	}
	if ttm.InversePerDay == 0 {
		ttm.InversePerDay = 3
	}
}

func validate(cfg *Config) error {
	if cfg.Mode != ModeLive && cfg.Mode != ModeManual {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeLive, ModeManual, cfg.Mode)
	}
	if cfg.Pool.TotalUSD < 0 {
		return errors.New("pool.total_usd must be >= 0")
	}
	if cfg.Pool.Skew < 0 || cfg.Pool.Skew > 1 {
		return errors.New("pool.skew must be within [0, 1]")
	}
	if cfg.Pool.CapPct < 0 || cfg.Pool.CapPct > 100 {
		return errors.New("pool.cap_pct must be within [0, 100]")
	}
	if cfg.Funding.Sensitivity <= 0 {
		return errors.New("funding.sensitivity must be > 0")
	}
	if cfg.Funding.Scale <= 0 {
		return errors.New("funding.scale must be > 0")
	}
	if cfg.Capital.TVLUSD < 0 {
		return errors.New("capital.tvl_usd must be >= 0")
	}
	if cfg.Capital.MaxTVLShare < 0 || cfg.Capital.MaxTVLShare > 1 {
		return errors.New("capital.max_tvl_share must be within [0, 1]")
	}
	for _, lev := range cfg.Catalog.LeverageTiers {
		if lev <= 0 {
			return errors.New("catalog.leverage_tiers must be > 0")
		}
	}
	if cfg.Mode == ModeManual && cfg.Manual.SpotPrice <= 0 {
		return errors.New("manual.spot_price is required in manual mode")
	}
	switch cfg.State.Backend {
	case "sqlite", "redis", "none":
	default:
		return fmt.Errorf("state.backend %q is not supported", cfg.State.Backend)
	}
	if cfg.State.Backend == "redis" && cfg.State.RedisAddr == "" {
		return errors.New("state.redis_addr is required for redis backend")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
