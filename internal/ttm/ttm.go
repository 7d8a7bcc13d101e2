package ttm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perp-edge/internal/config"
	"perp-edge/internal/funding"
	"perp-edge/internal/metrics"
	"perp-edge/internal/state"
	"perp-edge/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const cacheKey = "ttm:averages"

const (
	SourceStatic = "static"
	SourceCache  = "cache"
	SourceLive   = "live"
)

var (
	ErrStale             = errors.New("averages are stale")
	ErrAllSourcesFailed  = errors.New("historical averages unavailable")
	errNoSamples         = errors.New("no funding samples")
	errLiveNotConfigured = errors.New("live aggregation not configured")
)

// Averages are trailing-twelve-month funding averages in annual percent.
type Averages struct {
	ReferenceAvg1y float64       `json:"reference_avg_1y" msgpack:"reference_avg_1y"`
	InverseAvg1y   float64       `json:"inverse_avg_1y" msgpack:"inverse_avg_1y"`
	FetchedAt      time.Time     `json:"fetched_at" msgpack:"fetched_at"`
	TTL            time.Duration `json:"ttl" msgpack:"ttl"`
	Source         string        `json:"source" msgpack:"source"`
}

func (a Averages) Fresh(now time.Time) bool {
	if a.FetchedAt.IsZero() || a.TTL <= 0 {
		return false
	}
	return now.Sub(a.FetchedAt) < a.TTL
}

func (a Averages) Rates() strategy.TTMRates {
	return strategy.TTMRates{
		ReferenceAPR: a.ReferenceAvg1y,
		InverseAPR:   a.InverseAvg1y,
	}
}

// RateHistory returns per-period funding rates newer than since, at most
// maxSamples of them.
type RateHistory interface {
	FundingRates(ctx context.Context, since time.Time, maxSamples int) ([]float64, error)
}

// Service resolves averages from the bundled snapshot, then the state store
// cache, then live venue history. Live results are written back to the cache.
type Service struct {
	cfg       config.TTMConfig
	store     state.Store
	static    Averages
	staticErr error
	reference RateHistory
	inverse   RateHistory
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewService(cfg config.TTMConfig, store state.Store, m *metrics.Metrics, log *zap.Logger) *Service {
	svc := newService(cfg, store, m, log)
	svc.reference = NewBinanceHistory(cfg.BinanceBaseURL, cfg.ReferenceSymbol, cfg.ReferencePerDay, cfg.Timeout, cfg.RequestsPerSec)
	svc.inverse = NewBybitHistory(cfg.BybitBaseURL, cfg.InverseSymbol, cfg.Timeout, cfg.RequestsPerSec, svc.log)
	return svc
}

func newService(cfg config.TTMConfig, store state.Store, m *metrics.Metrics, log *zap.Logger) *Service {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	static, err := loadSnapshot()
	if err == nil {
		static.TTL = cfg.TTL
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		static:    static,
		staticErr: err,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) Get(ctx context.Context) (Averages, error) {
	now := s.now()
	var errs []error

	switch {
	case s.staticErr != nil:
		errs = append(errs, fmt.Errorf("static snapshot: %w", s.staticErr))
	case s.static.Fresh(now):
		return s.static, nil
	default:
		errs = append(errs, fmt.Errorf("static snapshot: %w", ErrStale))
	}

	var cached Averages
	ok, err := state.Load(ctx, s.store, cacheKey, &cached)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("cache: %w", err))
	case !ok:
		errs = append(errs, errors.New("cache: empty"))
	case cached.Fresh(now):
		cached.Source = SourceCache
		return cached, nil
	default:
		errs = append(errs, fmt.Errorf("cache: %w", ErrStale))
	}

	live, err := s.aggregate(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("live: %w", err))
		s.metrics.TTMLookupFailed.Inc()
		return Averages{}, errors.Join(append([]error{ErrAllSourcesFailed}, errs...)...)
	}
	if err := state.Save(ctx, s.store, cacheKey, live); err != nil {
		s.log.Warn("ttm cache write failed", zap.Error(err))
	}
	s.log.Info("ttm averages refreshed",
		zap.Float64("reference_avg_1y", live.ReferenceAvg1y),
		zap.Float64("inverse_avg_1y", live.InverseAvg1y),
	)
	return live, nil
}

func (s *Service) aggregate(ctx context.Context, now time.Time) (Averages, error) {
	if s.reference == nil || s.inverse == nil {
		return Averages{}, errLiveNotConfigured
	}
	since := now.Add(-s.cfg.Lookback)
	var refRates, invRates []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rates, err := s.reference.FundingRates(gctx, since, s.cfg.MaxSamples)
		if err != nil {
			return fmt.Errorf("reference history: %w", err)
		}
		refRates = rates
		return nil
	})
	g.Go(func() error {
		rates, err := s.inverse.FundingRates(gctx, since, s.cfg.MaxSamples)
		if err != nil {
			return fmt.Errorf("inverse history: %w", err)
		}
		invRates = rates
		return nil
	})
	if err := g.Wait(); err != nil {
		return Averages{}, err
	}
	refMean, err := mean(refRates)
	if err != nil {
		return Averages{}, fmt.Errorf("reference history: %w", err)
	}
	invMean, err := mean(invRates)
	if err != nil {
		return Averages{}, fmt.Errorf("inverse history: %w", err)
	}
	return Averages{
		ReferenceAvg1y: funding.Annualize(refMean, s.cfg.ReferencePerDay),
		InverseAvg1y:   funding.Annualize(invMean, s.cfg.InversePerDay),
		FetchedAt:      now,
		TTL:            s.cfg.TTL,
		Source:         SourceLive,
	}, nil
}

func mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, errNoSamples
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}
