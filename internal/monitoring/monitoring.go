// Package monitoring provides the engine's statistics sink. The sink is
// pluggable: a no-op implementation when monitoring is disabled, and a
// Prometheus-backed one when enabled.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink receives execution statistics from the engine.
type Sink interface {
	// QueryStarted records the start of a query evaluation.
	QueryStarted(queryID uint64)

	// QueryFinished records a finished query with its outcome:
	// "success", "error" or "cancelled".
	QueryFinished(queryID uint64, outcome string, elapsed time.Duration)

	// ProbeIssued records one source selection probe against a member.
	ProbeIssued(endpointID string, hit bool)

	// RemoteRequest records one remote sub-query against a member.
	RemoteRequest(endpointID string, elapsed time.Duration, err error)

	// SourceSelectionDone records the duration of one selection pass.
	SourceSelectionDone(elapsed time.Duration, patterns, probes int)
}

// NopSink discards all statistics.
type NopSink struct{}

func (NopSink) QueryStarted(uint64)                         {}
func (NopSink) QueryFinished(uint64, string, time.Duration) {}
func (NopSink) ProbeIssued(string, bool)                    {}
func (NopSink) RemoteRequest(string, time.Duration, error)  {}
func (NopSink) SourceSelectionDone(time.Duration, int, int) {}

// PromSink exports statistics as Prometheus metrics.
type PromSink struct {
	queriesTotal    *prometheus.CounterVec
	queriesInFlight prometheus.Gauge
	queryDuration   prometheus.Histogram
	probesTotal     *prometheus.CounterVec
	remoteRequests  *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	selectionTime   prometheus.Histogram
}

// NewPromSink creates a sink registered with the given registerer.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	s := &PromSink{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fedra", Name: "queries_total",
			Help: "Number of federated queries by outcome",
		}, []string{"outcome"}),
		queriesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fedra", Name: "queries_in_flight",
			Help: "Number of currently evaluating queries",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fedra", Name: "query_duration_seconds",
			Help:    "Federated query evaluation time",
			Buckets: prometheus.DefBuckets,
		}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fedra", Name: "source_probes_total",
			Help: "Source selection probes by member and outcome",
		}, []string{"member", "outcome"}),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fedra", Name: "remote_requests_total",
			Help: "Remote sub-queries by member and status",
		}, []string{"member", "status"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fedra", Name: "remote_request_duration_seconds",
			Help:    "Remote sub-query round trip time",
			Buckets: prometheus.DefBuckets,
		}, []string{"member"}),
		selectionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fedra", Name: "source_selection_duration_seconds",
			Help:    "Source selection pass duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		s.queriesTotal, s.queriesInFlight, s.queryDuration,
		s.probesTotal, s.remoteRequests, s.remoteDuration, s.selectionTime,
	)
	return s
}

// QueryStarted implements Sink.
func (s *PromSink) QueryStarted(uint64) {
	s.queriesInFlight.Inc()
}

// QueryFinished implements Sink.
func (s *PromSink) QueryFinished(_ uint64, outcome string, elapsed time.Duration) {
	s.queriesInFlight.Dec()
	s.queriesTotal.WithLabelValues(outcome).Inc()
	s.queryDuration.Observe(elapsed.Seconds())
}

// ProbeIssued implements Sink.
func (s *PromSink) ProbeIssued(endpointID string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	s.probesTotal.WithLabelValues(endpointID, outcome).Inc()
}

// RemoteRequest implements Sink.
func (s *PromSink) RemoteRequest(endpointID string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.remoteRequests.WithLabelValues(endpointID, status).Inc()
	s.remoteDuration.WithLabelValues(endpointID).Observe(elapsed.Seconds())
}

// SourceSelectionDone implements Sink.
func (s *PromSink) SourceSelectionDone(elapsed time.Duration, patterns, probes int) {
	s.selectionTime.Observe(elapsed.Seconds())
}

// ForConfig returns the sink matching the monitoring switch.
func ForConfig(enabled bool, reg prometheus.Registerer) Sink {
	if !enabled {
		return NopSink{}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return NewPromSink(reg)
}
