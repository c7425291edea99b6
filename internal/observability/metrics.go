package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
//
// All helper methods are nil-safe so components can be constructed without
// metrics in tests.
type Metrics struct {
	EventsIngested    *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	StaleStatuses     prometheus.Counter
	FanoutDeliveries  *prometheus.CounterVec
	FanoutDropped     prometheus.Counter
	ActiveCalls       prometheus.Gauge
	ConnectedClients  prometheus.Gauge
	AnalysisOutcomes  *prometheus.CounterVec
	AnalysisLatencyMS prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return newMetrics(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsFor registers on a caller-owned registry, used by tests.
func NewMetricsFor(namespace string, reg prometheus.Registerer) *Metrics {
	return newMetrics(namespace, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Webhook events applied, by kind.",
		}, []string{"kind"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Webhook events rejected, by reason.",
		}, []string{"reason"}),
		StaleStatuses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_statuses_total",
			Help:      "Out-of-order status events ignored by the regression guard.",
		}),
		FanoutDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Events enqueued to subscribers, by topic family.",
		}, []string{"family"}),
		FanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Deliveries dropped because a subscriber buffer was full.",
		}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of live call sessions.",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of connected dashboard viewers.",
		}),
		AnalysisOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcomes_total",
			Help:      "Coaching/strategy analysis results, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		AnalysisLatencyMS: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_ms",
			Help:      "External analysis call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000},
		}),
	}
}

func (m *Metrics) IncIngested(kind string) {
	if m != nil {
		m.EventsIngested.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncStaleStatus() {
	if m != nil {
		m.StaleStatuses.Inc()
	}
}

func (m *Metrics) IncFanout(family string) {
	if m != nil {
		m.FanoutDeliveries.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) IncFanoutDropped() {
	if m != nil {
		m.FanoutDropped.Inc()
	}
}

func (m *Metrics) SetActiveCalls(n int) {
	if m != nil {
		m.ActiveCalls.Set(float64(n))
	}
}

func (m *Metrics) SetConnectedClients(n int) {
	if m != nil {
		m.ConnectedClients.Set(float64(n))
	}
}

func (m *Metrics) IncAnalysis(stage, outcome string) {
	if m != nil {
		m.AnalysisOutcomes.WithLabelValues(stage, outcome).Inc()
	}
}

func (m *Metrics) ObserveAnalysisLatency(d time.Duration) {
	if m != nil {
		m.AnalysisLatencyMS.Observe(float64(d.Milliseconds()))
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
