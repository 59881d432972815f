// Package metrics records Prometheus metrics about test runs.
package metrics

import (
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "statlight"
)

// Metrics holds the collectors. They are registered with the registerer given to New.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	casesTotal     *prometheus.CounterVec
	runDuration    prometheus.Histogram
	runsInProgress prometheus.Gauge
}

// New creates and registers the collectors.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_total",
			Help:      "Count of completed test runs",
		}, []string{
			"result",
		}),
		casesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "cases_total",
			Help:      "Count of reported test cases",
		}, []string{
			"outcome",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of completed test runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		runsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_in_progress",
			Help:      "1 while a test run is active",
		}),
	}
}

// Attach records metrics from the events on the bus. The returned function detaches it.
func (m *Metrics) Attach(bus *eventbus.Bus) (detach func()) {
	tokens := []eventbus.Token{
		eventbus.Subscribe(bus, func(events.TestRunStarting) {
			m.runsInProgress.Set(1)
		}),
		eventbus.Subscribe(bus, func(e events.TestCaseCompleted) {
			m.casesTotal.WithLabelValues(string(e.Result.Outcome)).Inc()
		}),
		eventbus.Subscribe(bus, func(e events.OtherMessage) {
			if e.IsIgnore {
				m.casesTotal.WithLabelValues("Ignored").Inc()
			}
		}),
		eventbus.Subscribe(bus, func(e events.ReportSealed) {
			m.runsInProgress.Set(0)
			m.runsTotal.WithLabelValues(e.Report.FinalResult().String()).Inc()
			m.runDuration.Observe(e.Report.Duration.Seconds())
		}),
	}
	return func() {
		for _, t := range tokens {
			t.Unsubscribe()
		}
	}
}
