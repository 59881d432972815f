package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	rr := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	return rr.Body.String()
}

func TestMetricsFromEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	bus := eventbus.New(nil)
	detach := m.Attach(bus)

	require.NoError(t, bus.Publish(events.TestRunStarting{RunID: "1"}))
	assert.Contains(t, scrape(t, registry), "statlight_runs_in_progress 1")

	for _, outcome := range []results.OutcomeKind{results.Passed, results.Passed, results.Timeout} {
		require.NoError(t, bus.Publish(events.TestCaseCompleted{Result: results.TestCaseResult{Outcome: outcome}}))
	}
	require.NoError(t, bus.Publish(events.OtherMessage{Message: "C.Skipped", IsIgnore: true}))
	require.NoError(t, bus.Publish(events.OtherMessage{Message: "log"}))

	report := results.NewTestReport("Tests.xap", "1", time.Now())
	report.Add(results.TestCaseResult{Outcome: results.Timeout})
	report.Duration = 3 * time.Second
	require.NoError(t, bus.Publish(events.ReportSealed{Report: report}))

	out := scrape(t, registry)
	assert.Contains(t, out, `statlight_cases_total{outcome="Passed"} 2`)
	assert.Contains(t, out, `statlight_cases_total{outcome="Timeout"} 1`)
	assert.Contains(t, out, `statlight_cases_total{outcome="Ignored"} 1`)
	assert.Contains(t, out, `statlight_runs_total{result="Failure"} 1`)
	assert.Contains(t, out, "statlight_run_duration_seconds_count 1")
	assert.Contains(t, out, "statlight_runs_in_progress 0")

	detach()
	require.NoError(t, bus.Publish(events.ReportSealed{Report: report}))
	assert.Contains(t, scrape(t, registry), `statlight_runs_total{result="Failure"} 1`)
}
