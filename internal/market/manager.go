package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"perp-edge/internal/config"
	"perp-edge/internal/metrics"
	"perp-edge/internal/stream"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeLive   Mode = config.ModeLive
	ModeManual Mode = config.ModeManual
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeLive, ModeManual:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

type throttle struct {
	window      time.Duration
	last        time.Time
	lastRounded float64
	seen        bool
}

// allowPrice accepts a price if its rounded value changed and the window
// since the last accepted price has elapsed. Rejected prices are dropped.
func (t *throttle) allowPrice(price float64, now time.Time) bool {
	rounded := roundPrice(price)
	if t.seen && rounded == t.lastRounded {
		return false
	}
	if t.seen && now.Sub(t.last) < t.window {
		return false
	}
	t.seen = true
	t.last = now
	t.lastRounded = rounded
	return true
}

func (t *throttle) allowWindow(now time.Time) bool {
	if t.seen && now.Sub(t.last) < t.window {
		return false
	}
	t.seen = true
	t.last = now
	return true
}

func roundPrice(price float64) float64 {
	return math.Round(price*100) / 100
}

// FeedManager owns the feed connections and the MarketState they write to.
// Each feed only touches its own fields.
type FeedManager struct {
	feeds   config.FeedsConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	dialer  stream.Dialer
	now     func() time.Time

	modeMu sync.Mutex
	conns  []*stream.Connection

	mu        sync.RWMutex
	mode      Mode
	manual    config.ManualConfig
	state     MarketState
	throttles [feedCount]throttle

	updates chan struct{}
}

func NewFeedManager(feeds config.FeedsConfig, manual config.ManualConfig, m *metrics.Metrics, log *zap.Logger) *FeedManager {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	fm := &FeedManager{
		feeds:   feeds,
		log:     log,
		metrics: m,
		dialer:  stream.WebsocketDialer,
		now:     time.Now,
		manual:  manual,
		updates: make(chan struct{}, 1),
	}
	fm.resetThrottlesLocked()
	return fm
}

// Run switches to the given mode and tears every connection down when ctx
// ends.
func (m *FeedManager) Run(ctx context.Context, mode Mode) error {
	if err := m.SetMode(mode); err != nil {
		return err
	}
	<-ctx.Done()
	m.Close()
	return nil
}

// SetMode closes every connection before anything else happens, so no feed
// from the previous mode can write afterwards. Live mode then opens fresh
// connections; manual mode applies the override prices and stays offline.
func (m *FeedManager) SetMode(mode Mode) error {
	if mode != ModeLive && mode != ModeManual {
		return fmt.Errorf("unknown mode %q", mode)
	}
	m.modeMu.Lock()
	defer m.modeMu.Unlock()

	m.closeConnectionsLocked()

	m.mu.Lock()
	m.mode = mode
	m.state = MarketState{Manual: mode == ModeManual}
	m.resetThrottlesLocked()
	if mode == ModeManual {
		m.applyManualLocked()
	}
	m.mu.Unlock()
	for _, feed := range Feeds() {
		m.metrics.FeedConnected.With(feed.String()).Set(0)
	}
	m.metrics.ModeSwitches.Inc()
	m.log.Info("feed mode set", zap.String("mode", string(mode)))
	m.notify()

	if mode == ModeLive {
		m.conns = m.newConnections()
		for _, conn := range m.conns {
			conn.Open()
		}
	}
	return nil
}

// SetManual replaces the override prices and applies them when the manager is
// in manual mode.
func (m *FeedManager) SetManual(manual config.ManualConfig) {
	m.mu.Lock()
	m.manual = manual
	applied := m.mode == ModeManual
	if applied {
		m.applyManualLocked()
	}
	m.mu.Unlock()
	if applied {
		m.notify()
	}
}

func (m *FeedManager) Close() {
	m.modeMu.Lock()
	defer m.modeMu.Unlock()
	m.closeConnectionsLocked()
	m.mu.Lock()
	m.state.Connected = [feedCount]bool{}
	m.mu.Unlock()
}

func (m *FeedManager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *FeedManager) Snapshot() MarketState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *FeedManager) Connected(feed Feed) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsConnected(feed)
}

func (m *FeedManager) TimeToFunding() FundingCountdown {
	return m.Snapshot().TimeToFunding(m.now())
}

// Updates signals that the snapshot changed. Signals coalesce.
func (m *FeedManager) Updates() <-chan struct{} {
	return m.updates
}

// Connections returns the live connections, empty in manual mode.
func (m *FeedManager) Connections() []*stream.Connection {
	m.modeMu.Lock()
	defer m.modeMu.Unlock()
	return append([]*stream.Connection(nil), m.conns...)
}

func (m *FeedManager) closeConnectionsLocked() {
	for _, conn := range m.conns {
		conn.Close()
	}
	m.conns = nil
}

func (m *FeedManager) newConnections() []*stream.Connection {
	conns := make([]*stream.Connection, 0, feedCount)
	for _, feed := range Feeds() {
		cfg := m.feedConfig(feed)
		if cfg.URL == "" {
			m.log.Warn("feed disabled, no url", zap.String("feed", feed.String()))
			continue
		}
		opts := stream.Options{
			Name:           feed.String(),
			URL:            cfg.URL,
			ReconnectDelay: cfg.ReconnectDelay,
			Dialer:         m.dialer,
			Reconnects:     m.metrics.Reconnects.With(feed.String()),
			OnStatus: func(connected bool) {
				m.setConnected(feed, connected)
			},
			OnMessage: func(data []byte) {
				m.handle(feed, data)
			},
		}
		switch feed {
		case FeedMark:
			opts.DeferConnected = true
		case FeedInverse:
			if cfg.Symbol != "" {
				opts.Subscribe = map[string]any{"op": "subscribe", "args": []string{"tickers." + cfg.Symbol}}
			}
			opts.PingInterval = cfg.PingInterval
			opts.PingMessage = map[string]string{"op": "ping"}
		}
		conns = append(conns, stream.New(opts, m.log))
	}
	return conns
}

func (m *FeedManager) feedConfig(feed Feed) config.FeedConfig {
	switch feed {
	case FeedSpot:
		return m.feeds.Spot
	case FeedFutures:
		return m.feeds.Futures
	case FeedMark:
		return m.feeds.Mark
	default:
		return m.feeds.Inverse
	}
}

func (m *FeedManager) setConnected(feed Feed, connected bool) {
	m.mu.Lock()
	changed := m.state.Connected[feed] != connected
	m.state.Connected[feed] = connected
	m.mu.Unlock()
	if !changed {
		return
	}
	m.metrics.FeedConnected.With(feed.String()).Set(boolGauge(connected))
	m.notify()
}

func (m *FeedManager) handle(feed Feed, data []byte) {
	upd, err := parserFor(feed)(data)
	if err != nil {
		if !errors.Is(err, errNotData) {
			m.metrics.MessagesDropped.With(feed.String()).Inc()
			m.log.Debug("feed message dropped", zap.String("feed", feed.String()), zap.Error(err))
		}
		return
	}
	applied, changed := m.apply(feed, upd, m.now())
	if applied {
		m.metrics.UpdatesApplied.With(feed.String()).Inc()
	} else {
		m.metrics.UpdatesThrottled.With(feed.String()).Inc()
	}
	if changed {
		m.notify()
	}
}

// apply reports whether the update was accepted and whether the snapshot
// changed (the mark feed may flip connectivity without applying data).
func (m *FeedManager) apply(feed Feed, upd update, now time.Time) (applied bool, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if feed == FeedMark && !m.state.Connected[FeedMark] {
		m.state.Connected[FeedMark] = true
		m.metrics.FeedConnected.With(feed.String()).Set(1)
		changed = true
	}
	t := &m.throttles[feed]
	switch feed {
	case FeedSpot:
		if upd.HasPrice && t.allowPrice(upd.Price, now) {
			m.state.SpotPrice = upd.Price
			applied = true
		}
	case FeedFutures:
		if upd.HasPrice && t.allowPrice(upd.Price, now) {
			m.state.FuturesPrice = upd.Price
			applied = true
		}
	case FeedMark:
		if t.allowWindow(now) {
			if upd.HasPrice {
				m.state.MarkPrice = upd.Price
			}
			if upd.HasRate {
				m.state.ReferenceFunding.Rate = upd.Rate
			}
			if upd.HasNext {
				m.state.ReferenceFunding.NextFunding = upd.NextFunding
			}
			applied = true
		}
	case FeedInverse:
		if upd.HasPrice && t.allowPrice(upd.Price, now) {
			m.state.InversePrice = upd.Price
			applied = true
		}
		if upd.HasRate && m.state.InverseFunding.Rate != upd.Rate {
			m.state.InverseFunding.Rate = upd.Rate
			applied = true
		}
		if upd.HasNext && !m.state.InverseFunding.NextFunding.Equal(upd.NextFunding) {
			m.state.InverseFunding.NextFunding = upd.NextFunding
			applied = true
		}
	}
	if applied {
		m.state.UpdatedAt[feed] = now
		changed = true
	}
	return applied, changed
}

func (m *FeedManager) applyManualLocked() {
	manual := m.manual
	spot := manual.SpotPrice
	futures := firstPositive(manual.FuturesPrice, spot)
	now := m.now()
	m.state.SpotPrice = spot
	m.state.FuturesPrice = futures
	m.state.MarkPrice = firstPositive(manual.MarkPrice, futures)
	m.state.ReferenceFunding = FundingInfo{Rate: manual.ReferenceFundingRate}
	m.state.InversePrice = firstPositive(manual.InversePrice, spot)
	m.state.InverseFunding = FundingInfo{Rate: manual.InverseFundingRate}
	for _, feed := range Feeds() {
		m.state.UpdatedAt[feed] = now
	}
}

func (m *FeedManager) resetThrottlesLocked() {
	for _, feed := range Feeds() {
		m.throttles[feed] = throttle{window: m.feedConfig(feed).Throttle}
	}
}

func (m *FeedManager) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
