package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// CounterVec and GaugeVec resolve a child for a single label value (the feed name).
type CounterVec interface {
	With(label string) Counter
}

type GaugeVec interface {
	With(label string) Gauge
}

type Metrics struct {
	Reconnects       CounterVec
	MessagesDropped  CounterVec
	UpdatesApplied   CounterVec
	UpdatesThrottled CounterVec
	FeedConnected    GaugeVec
	ModeSwitches     Counter
	CatalogBuilds    Counter
	TopAPY           Gauge
	TTMLookupFailed  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopVec struct{}

func (noopVec) With(string) Counter { return noopCounter{} }

type noopGaugeVec struct{}

func (noopGaugeVec) With(string) Gauge { return noopGauge{} }

func NewNoop() *Metrics {
	return &Metrics{
		Reconnects:       noopVec{},
		MessagesDropped:  noopVec{},
		UpdatesApplied:   noopVec{},
		UpdatesThrottled: noopVec{},
		FeedConnected:    noopGaugeVec{},
		ModeSwitches:     noopCounter{},
		CatalogBuilds:    noopCounter{},
		TopAPY:           noopGauge{},
		TTMLookupFailed:  noopCounter{},
	}
}

func NoopCounter() Counter {
	return noopCounter{}
}
