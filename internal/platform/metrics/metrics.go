package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for headless players and the
// probe API. All methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	sessionsStarted   prometheus.Counter
	activeSessions    prometheus.Gauge
	fatalErrors       *prometheus.CounterVec
	networkRetries    prometheus.Counter
	mediaRecoveries   prometheus.Counter
	qualitySwitches   prometheus.Counter
	autoplayBlocked   prometheus.Counter
	captureSignals    *prometheus.CounterVec
	previewPrompts    prometheus.Counter
	bestEffortFailure *prometheus.CounterVec
}

// New creates and registers the player metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_http_requests_total",
			Help: "Total number of probe API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_http_errors_total",
			Help: "Total number of probe API responses with status >= 400",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_sessions_started_total",
			Help: "Stream sessions started, including retries after a fatal error",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_active_sessions",
			Help: "Mounted players",
		}),
		fatalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_fatal_errors_total",
			Help: "Stream sessions that reached a fatal state, by error kind",
		}, []string{"kind"}),
		networkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_network_retries_total",
			Help: "Load restarts scheduled after a fatal network error",
		}),
		mediaRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_media_recoveries_total",
			Help: "In-place media error recoveries attempted",
		}),
		qualitySwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_quality_switches_total",
			Help: "Level switches confirmed by the engine",
		}),
		autoplayBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_autoplay_blocked_total",
			Help: "Autoplay attempts rejected by the element's policy",
		}),
		captureSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_capture_signals_total",
			Help: "Capture-intent key signals observed, by signal",
		}, []string{"signal"}),
		previewPrompts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_preview_prompts_total",
			Help: "Subscription prompts raised for previews",
		}),
		bestEffortFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_best_effort_failures_total",
			Help: "Logged-and-swallowed failures of best-effort operations",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsStarted,
		m.activeSessions,
		m.fatalErrors,
		m.networkRetries,
		m.mediaRecoveries,
		m.qualitySwitches,
		m.autoplayBlocked,
		m.captureSignals,
		m.previewPrompts,
		m.bestEffortFailure,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

func (m *Metrics) IncSessionsStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

// SetActiveSessions sets the mounted players gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

func (m *Metrics) IncFatalErrors(kind string) {
	if m != nil {
		m.fatalErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncNetworkRetries() {
	if m != nil {
		m.networkRetries.Inc()
	}
}

func (m *Metrics) IncMediaRecoveries() {
	if m != nil {
		m.mediaRecoveries.Inc()
	}
}

func (m *Metrics) IncQualitySwitches() {
	if m != nil {
		m.qualitySwitches.Inc()
	}
}

func (m *Metrics) IncAutoplayBlocked() {
	if m != nil {
		m.autoplayBlocked.Inc()
	}
}

func (m *Metrics) IncCaptureSignals(signal string) {
	if m != nil {
		m.captureSignals.WithLabelValues(signal).Inc()
	}
}

func (m *Metrics) IncPreviewPrompts() {
	if m != nil {
		m.previewPrompts.Inc()
	}
}

// IncBestEffortFailures counts a swallowed failure of op ("play", "fullscreen", ...).
func (m *Metrics) IncBestEffortFailures(op string) {
	if m != nil {
		m.bestEffortFailure.WithLabelValues(op).Inc()
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
