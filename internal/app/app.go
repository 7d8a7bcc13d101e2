package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"perp-edge/internal/alerts"
	"perp-edge/internal/config"
	"perp-edge/internal/history"
	"perp-edge/internal/market"
	"perp-edge/internal/metrics"
	"perp-edge/internal/state"
	"perp-edge/internal/strategy"
	"perp-edge/internal/timescale"
	"perp-edge/internal/ttm"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const alertTimeout = 10 * time.Second

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	feeds     *market.FeedManager
	history   *history.Ring
	ttm       *ttm.Service
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	watch     *alerts.FeedWatch
	timescale *timescale.Writer
	now       func() time.Time
	refresh   chan struct{}

	mu       sync.RWMutex
	catalog  strategy.Catalog
	ttmRates *strategy.TTMRates
	topKey   string

	opsMu          sync.Mutex
	manual         config.ManualConfig
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := state.Open(context.Background(), cfg.State)
	if err != nil {
		return nil, err
	}
	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		feeds:     market.NewFeedManager(cfg.Feeds, cfg.Manual, m, log),
		history:   history.New(cfg.History.Capacity, cfg.History.MinInterval),
		metrics:   m,
		prom:      prom,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		watch:     alerts.NewFeedWatch(),
		timescale: writer,
		now:       time.Now,
		refresh:   make(chan struct{}, 1),
		manual:    cfg.Manual,
	}
	if cfg.TTM.Enabled {
		a.ttm = ttm.NewService(cfg.TTM, store, m, log)
	}
	return a, nil
}

// Run blocks until ctx ends or a component fails. Feeds, the catalog loop,
// the historical-average refresh and the metrics endpoint share one group.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()
	mode, err := market.ParseMode(a.cfg.Mode)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	a.timescale.Start(gctx)
	g.Go(func() error {
		return a.feeds.Run(gctx, mode)
	})
	g.Go(func() error {
		return a.catalogLoop(gctx)
	})
	if a.ttm != nil {
		g.Go(func() error {
			return a.ttmLoop(gctx)
		})
	}
	if a.prom != nil {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}
	if a.cfg.Telegram.OperatorEnabled && a.alerts.Enabled() {
		g.Go(func() error {
			a.runOperator(gctx)
			return nil
		})
	}
	a.log.Info("scanner started", zap.String("mode", string(mode)))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (a *App) Catalog() strategy.Catalog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.catalog
}

func (a *App) History() []history.Sample {
	return a.history.Samples()
}

// catalogLoop rebuilds on every market or input change signal, at most once
// per catalog.min_interval; a signal inside the interval schedules one
// trailing rebuild.
func (a *App) catalogLoop(ctx context.Context) error {
	var last time.Time
	var pending <-chan time.Time
	for {
		changed := false
		select {
		case <-ctx.Done():
			return nil
		case <-a.feeds.Updates():
			a.observeFeeds(ctx)
			changed = true
		case <-a.refresh:
			changed = true
		case <-pending:
			pending = nil
			a.rebuild()
			last = a.now()
		}
		if !changed || pending != nil {
			continue
		}
		if wait := a.cfg.Catalog.MinInterval - a.now().Sub(last); wait > 0 {
			pending = time.After(wait)
			continue
		}
		a.rebuild()
		last = a.now()
	}
}

// requestRebuild asks the catalog loop for a rebuild. Requests coalesce.
func (a *App) requestRebuild() {
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}

func (a *App) rebuild() {
	now := a.now()
	snap := a.feeds.Snapshot()
	a.mu.RLock()
	rates := a.ttmRates
	a.mu.RUnlock()
	cat, err := strategy.Build(strategy.Input{
		Market:  snap,
		Pool:    a.cfg.Pool,
		Funding: a.cfg.Funding,
		Capital: a.cfg.Capital,
		Venue:   a.cfg.Venue,
		Catalog: a.cfg.Catalog,
		TTM:     rates,
		Now:     now,
	})
	if err != nil {
		if errors.Is(err, strategy.ErrNoMarketData) {
			a.log.Debug("catalog skipped, waiting for prices")
			return
		}
		a.log.Warn("catalog build failed", zap.Error(err))
		return
	}
	a.metrics.CatalogBuilds.Inc()
	if len(cat.Strategies) > 0 {
		a.metrics.TopAPY.Set(cat.Strategies[0].Metrics.APYPct)
	}
	a.mu.Lock()
	a.catalog = cat
	topChanged := len(cat.Strategies) > 0 && cat.Strategies[0].Key != a.topKey
	if topChanged {
		a.topKey = cat.Strategies[0].Key
	}
	a.mu.Unlock()
	if topChanged {
		a.logTop(cat)
	}
	if a.history.Append(history.Sample{Time: now, RateA: cat.VenueRate, RateB: cat.ReferenceRate}) {
		a.recordTimescale(snap, cat)
	}
}

func (a *App) logTop(cat strategy.Catalog) {
	for i, s := range cat.Top(a.cfg.Catalog.TopN) {
		a.log.Info("top strategy",
			zap.Int("rank", i+1),
			zap.Int("id", s.ID),
			zap.String("key", s.Key),
			zap.String("risk", s.Risk.String()),
			zap.Float64("apy_pct", s.Metrics.APYPct),
			zap.Float64("daily_funding_usd", s.Metrics.DailyFundingUSD),
		)
	}
}

func (a *App) observeFeeds(ctx context.Context) {
	for _, feed := range market.Feeds() {
		change, ok := a.watch.Observe(feed.String(), a.feeds.Connected(feed))
		if !ok {
			continue
		}
		a.log.Info("feed connectivity changed", zap.String("feed", change.Feed), zap.Bool("connected", change.Connected))
		go a.notify(ctx, change.String())
	}
}

func (a *App) notify(ctx context.Context, msg string) {
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	if err := a.alerts.Send(ctx, msg); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) ttmLoop(ctx context.Context) error {
	a.refreshTTM(ctx)
	ticker := time.NewTicker(a.cfg.TTM.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.refreshTTM(ctx)
		}
	}
}

func (a *App) refreshTTM(ctx context.Context) {
	avg, err := a.ttm.Get(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Warn("ttm averages unavailable", zap.Error(err))
		}
		return
	}
	a.setTTMRates(avg.Rates())
	a.log.Debug("ttm averages applied", zap.String("source", avg.Source), zap.Time("fetched_at", avg.FetchedAt))
}

func (a *App) setTTMRates(rates strategy.TTMRates) {
	a.mu.Lock()
	a.ttmRates = &rates
	a.mu.Unlock()
	a.requestRebuild()
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.log.Info("metrics listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
