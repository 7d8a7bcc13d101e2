package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Reconnects.With("spot").Inc()
	prom.Metrics.Reconnects.With("spot").Inc()
	prom.Metrics.MessagesDropped.With("inverse").Inc()
	prom.Metrics.UpdatesApplied.With("mark").Inc()
	prom.Metrics.UpdatesThrottled.With("futures").Inc()
	prom.Metrics.ModeSwitches.Inc()
	prom.Metrics.CatalogBuilds.Inc()
	prom.Metrics.TTMLookupFailed.Inc()

	assertCounter(t, prom.reconnects.WithLabelValues("spot"), 2)
	assertCounter(t, prom.messagesDropped.WithLabelValues("inverse"), 1)
	assertCounter(t, prom.updatesApplied.WithLabelValues("mark"), 1)
	assertCounter(t, prom.updatesThrottled.WithLabelValues("futures"), 1)
	assertCounter(t, prom.modeSwitches, 1)
	assertCounter(t, prom.catalogBuilds, 1)
	assertCounter(t, prom.ttmFailed, 1)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.FeedConnected.With("mark").Set(1)
	prom.Metrics.TopAPY.Set(42.5)
	if got := testutil.ToFloat64(prom.feedConnected.WithLabelValues("mark")); got != 1 {
		t.Fatalf("expected connected gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(prom.topAPY); got != 42.5 {
		t.Fatalf("expected top apy 42.5, got %v", got)
	}
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.CatalogBuilds.Inc()
	srv := httptest.NewServer(prom.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "perp_edge_catalog_builds_total 1") {
		t.Fatalf("expected catalog builds counter in output")
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.Reconnects.With("spot").Inc()
	m.FeedConnected.With("spot").Set(1)
	m.TopAPY.Set(1)
	m.CatalogBuilds.Inc()
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
