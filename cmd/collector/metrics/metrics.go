// Package metrics provides Prometheus instrumentation for the collector.
//
// Metrics exposed:
//   - hawkeye_actor_messages_total: Counter of mailbox messages processed, by kind
//   - hawkeye_actor_store_failures_total: Counter of history writes that failed
//   - hawkeye_actor_abandoned_replies_total: Counter of fetch replies nobody waited for
//   - hawkeye_actor_mailbox_depth: Gauge of messages waiting in the mailbox
//   - hawkeye_history_samples: Gauge of samples currently buffered
//   - hawkeye_poll_duration_seconds: Histogram of peer read duration, by peer
//   - hawkeye_poll_failures_total: Counter of failed polls, by peer and reason
//   - hawkeye_poll_ticks_skipped_total: Counter of ticks dropped by the skip policy, by peer
//   - hawkeye_peer_value: Gauge of the last value read, by peer
//   - hawkeye_frontend_requests_total: Counter of front-end requests, by protocol, operation and outcome
//
// Metrics implements both actor.Recorder and poller.Recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the collector.
type Metrics struct {
	ActorMessagesTotal    *prometheus.CounterVec
	StoreFailuresTotal    prometheus.Counter
	AbandonedRepliesTotal prometheus.Counter
	MailboxPending        prometheus.Gauge
	HistorySamples        prometheus.Gauge

	PollDurationSeconds *prometheus.HistogramVec
	PollFailuresTotal   *prometheus.CounterVec
	TicksSkippedTotal   *prometheus.CounterVec
	PeerValue           *prometheus.GaugeVec

	FrontendRequestsTotal *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ActorMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hawkeye_actor_messages_total",
			Help: "Total number of mailbox messages processed by the storage actor",
		}, []string{"kind"}),

		StoreFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hawkeye_actor_store_failures_total",
			Help: "Total number of samples the history backend failed to store",
		}),

		AbandonedRepliesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hawkeye_actor_abandoned_replies_total",
			Help: "Total number of fetch requests whose caller was gone before the reply",
		}),

		MailboxPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "hawkeye_actor_mailbox_depth",
			Help: "Number of messages waiting in the storage actor mailbox",
		}),

		HistorySamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "hawkeye_history_samples",
			Help: "Number of samples currently buffered in the history",
		}),

		PollDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hawkeye_poll_duration_seconds",
			Help:    "Time spent reading a peer",
			Buckets: prometheus.DefBuckets,
		}, []string{"peer"}),

		PollFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hawkeye_poll_failures_total",
			Help: "Total number of failed polls by peer and reason",
		}, []string{"peer", "reason"}),

		TicksSkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hawkeye_poll_ticks_skipped_total",
			Help: "Total number of polling ticks skipped because the previous read overran",
		}, []string{"peer"}),

		PeerValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hawkeye_peer_value",
			Help: "Last value read from each peer",
		}, []string{"peer"}),

		FrontendRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hawkeye_frontend_requests_total",
			Help: "Total number of front-end requests by protocol, operation and outcome",
		}, []string{"protocol", "operation", "outcome"}),
	}
}

func (m *Metrics) MessageProcessed(kind string) {
	m.ActorMessagesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) StoreFailed() {
	m.StoreFailuresTotal.Inc()
}

func (m *Metrics) ReplyAbandoned() {
	m.AbandonedRepliesTotal.Inc()
}

func (m *Metrics) MailboxDepth(n int) {
	m.MailboxPending.Set(float64(n))
}

func (m *Metrics) HistoryLength(n int) {
	m.HistorySamples.Set(float64(n))
}

func (m *Metrics) ReadCompleted(peer string, d time.Duration) {
	m.PollDurationSeconds.WithLabelValues(peer).Observe(d.Seconds())
}

func (m *Metrics) ReadFailed(peer, reason string) {
	m.PollFailuresTotal.WithLabelValues(peer, reason).Inc()
}

func (m *Metrics) TickSkipped(peer string) {
	m.TicksSkippedTotal.WithLabelValues(peer).Inc()
}

func (m *Metrics) LastValue(peer string, v float32) {
	m.PeerValue.WithLabelValues(peer).Set(float64(v))
}

// RecordRequest counts one front-end request.
func (m *Metrics) RecordRequest(protocol, operation, outcome string) {
	m.FrontendRequestsTotal.WithLabelValues(protocol, operation, outcome).Inc()
}
