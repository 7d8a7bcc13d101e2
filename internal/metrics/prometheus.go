package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "perp_edge"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type promCounterVec struct {
	vec *prometheus.CounterVec
}

func (p promCounterVec) With(label string) Counter {
	return promCounter{p.vec.WithLabelValues(label)}
}

type promGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p promGaugeVec) With(label string) Gauge {
	return promGauge{p.vec.WithLabelValues(label)}
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	reconnects       *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	updatesApplied   *prometheus.CounterVec
	updatesThrottled *prometheus.CounterVec
	feedConnected    *prometheus.GaugeVec
	modeSwitches     prometheus.Counter
	catalogBuilds    prometheus.Counter
	topAPY           prometheus.Gauge
	ttmFailed        prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	reconnects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_reconnects_total",
		Help:      "Total number of scheduled feed reconnects.",
	}, []string{"feed"})
	messagesDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_messages_dropped_total",
		Help:      "Total number of unparseable or non-data feed messages.",
	}, []string{"feed"})
	updatesApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_updates_applied_total",
		Help:      "Total number of feed updates applied to market state.",
	}, []string{"feed"})
	updatesThrottled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_updates_throttled_total",
		Help:      "Total number of feed updates dropped by throttling.",
	}, []string{"feed"})
	feedConnected := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "feed_connected",
		Help:      "Feed connectivity (1 connected, 0 disconnected).",
	}, []string{"feed"})
	modeSwitches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "mode_switches_total",
		Help:      "Total number of live/manual mode switches.",
	})
	catalogBuilds := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "catalog_builds_total",
		Help:      "Total number of strategy catalog rebuilds.",
	})
	topAPY := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "catalog_top_apy_percent",
		Help:      "Flat-price APY of the highest ranked strategy.",
	})
	ttmFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ttm_lookup_failed_total",
		Help:      "Total number of historical average lookups where every source failed.",
	})

	registry.MustRegister(reconnects, messagesDropped, updatesApplied, updatesThrottled, feedConnected, modeSwitches, catalogBuilds, topAPY, ttmFailed)

	m := &Metrics{
		Reconnects:       promCounterVec{reconnects},
		MessagesDropped:  promCounterVec{messagesDropped},
		UpdatesApplied:   promCounterVec{updatesApplied},
		UpdatesThrottled: promCounterVec{updatesThrottled},
		FeedConnected:    promGaugeVec{feedConnected},
		ModeSwitches:     promCounter{modeSwitches},
		CatalogBuilds:    promCounter{catalogBuilds},
		TopAPY:           promGauge{topAPY},
		TTMLookupFailed:  promCounter{ttmFailed},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		reconnects:       reconnects,
		messagesDropped:  messagesDropped,
		updatesApplied:   updatesApplied,
		updatesThrottled: updatesThrottled,
		feedConnected:    feedConnected,
		modeSwitches:     modeSwitches,
		catalogBuilds:    catalogBuilds,
		topAPY:           topAPY,
		ttmFailed:        ttmFailed,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
