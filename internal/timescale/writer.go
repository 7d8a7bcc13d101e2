package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"perp-edge/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// MarketSample is one recorded view of the feeds and the derived venue rate.
type MarketSample struct {
	Time          time.Time
	Mode          string
	SpotPrice     float64
	FuturesPrice  float64
	MarkPrice     float64
	InversePrice  float64
	VenueRate     float64
	ReferenceRate float64
	InverseRate   float64
}

// StrategySample records one ranked catalog entry of a build.
type StrategySample struct {
	Time       time.Time
	BuildID    string
	Rank       int
	StrategyID int
	Key        string
	Category   string
	Risk       string
	APYPct     float64
	TTMAPYPct  *float64
	MaxLossUSD float64
}

type Writer struct {
	db           *sql.DB
	log          *zap.Logger
	schema       string
	markets      chan MarketSample
	strategies   chan StrategySample
	started      atomic.Bool
	dropMarket   atomic.Uint64
	dropStrategy atomic.Uint64
}

// New returns a nil Writer when disabled; every method is safe on nil.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, log, schema, cfg.QueueSize)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, log *zap.Logger, schema string, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		markets:    make(chan MarketSample, queueSize),
		strategies: make(chan StrategySample, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueMarket(sample MarketSample) {
	if w == nil {
		return
	}
	select {
	case w.markets <- sample:
	default:
		if w.dropMarket.Add(1) == 1 {
			w.log.Warn("timescale market queue full")
		}
	}
}

func (w *Writer) EnqueueStrategy(sample StrategySample) {
	if w == nil {
		return
	}
	select {
	case w.strategies <- sample:
	default:
		if w.dropStrategy.Add(1) == 1 {
			w.log.Warn("timescale strategy queue full")
		}
	}
}

// Dropped reports samples discarded because a queue was full.
func (w *Writer) Dropped() (markets, strategies uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropMarket.Load(), w.dropStrategy.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-w.markets:
			w.writeMarket(ctx, sample)
		case sample := <-w.strategies:
			w.writeStrategy(ctx, sample)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		mode TEXT NOT NULL,
		spot_price DOUBLE PRECISION NOT NULL,
		futures_price DOUBLE PRECISION NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL,
		inverse_price DOUBLE PRECISION NOT NULL,
		venue_rate DOUBLE PRECISION NOT NULL,
		reference_rate DOUBLE PRECISION NOT NULL,
		inverse_rate DOUBLE PRECISION NOT NULL
	)`, w.table("market_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		build_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		strategy_id INTEGER NOT NULL,
		strategy_key TEXT NOT NULL,
		category TEXT NOT NULL,
		risk TEXT NOT NULL,
		apy_pct DOUBLE PRECISION NOT NULL,
		ttm_apy_pct DOUBLE PRECISION,
		max_loss_usd DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, build_id, strategy_id)
	)`, w.table("strategy_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"market_samples", "strategy_samples"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeMarket(ctx context.Context, s MarketSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, mode, spot_price, futures_price, mark_price, inverse_price,
		venue_rate, reference_rate, inverse_rate
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("market_samples"))
	if _, err := w.db.ExecContext(ctx, query,
		s.Time,
		s.Mode,
		s.SpotPrice,
		s.FuturesPrice,
		s.MarkPrice,
		s.InversePrice,
		s.VenueRate,
		s.ReferenceRate,
		s.InverseRate,
	); err != nil {
		w.log.Warn("timescale market insert failed", zap.Error(err))
	}
}

func (w *Writer) writeStrategy(ctx context.Context, s StrategySample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, build_id, rank, strategy_id, strategy_key, category, risk,
		apy_pct, ttm_apy_pct, max_loss_usd
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (ts, build_id, strategy_id) DO NOTHING`, w.table("strategy_samples"))
	var ttm sql.NullFloat64
	if s.TTMAPYPct != nil {
		ttm = sql.NullFloat64{Float64: *s.TTMAPYPct, Valid: true}
	}
	if _, err := w.db.ExecContext(ctx, query,
		s.Time,
		s.BuildID,
		s.Rank,
		s.StrategyID,
		s.Key,
		s.Category,
		s.Risk,
		s.APYPct,
		ttm,
		s.MaxLossUSD,
	); err != nil {
		w.log.Warn("timescale strategy insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
