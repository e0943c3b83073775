package gree

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for protocol traffic. One Metrics
// value can be shared by any number of devices. A nil *Metrics records
// nothing.
type Metrics struct {
	datagramsSent     prometheus.Counter
	datagramsReceived prometheus.Counter
	decryptErrors     prometheus.Counter
	unknownPackets    prometheus.Counter
	responses         *prometheus.CounterVec
	bindAttempts      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg under the "gree" namespace.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	const ns = "gree"

	return &Metrics{
		datagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "datagrams_sent_total",
			Help:      "Total number of datagrams written to devices",
		}),
		datagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "datagrams_received_total",
			Help:      "Total number of datagrams received from devices",
		}),
		decryptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "decrypt_errors_total",
			Help:      "Total number of packs that failed to decrypt",
		}),
		unknownPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "unknown_packets_total",
			Help:      "Total number of packets with an unknown or malformed pack",
		}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "responses_total",
			Help:      "Total number of dispatched responses by type",
		}, []string{"type"}),
		bindAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bind_attempts_total",
			Help:      "Total number of bind attempts by cipher and outcome",
		}, []string{"cipher", "outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to receiving its response",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.datagramsSent.Inc()
	}
}

func (m *Metrics) received() {
	if m != nil {
		m.datagramsReceived.Inc()
	}
}

func (m *Metrics) decryptFailed() {
	if m != nil {
		m.decryptErrors.Inc()
	}
}

func (m *Metrics) unknownPacket() {
	if m != nil {
		m.unknownPackets.Inc()
	}
}

func (m *Metrics) response(t ResponseType) {
	if m != nil {
		m.responses.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) bindAttempt(cipher, outcome string) {
	if m != nil {
		m.bindAttempts.WithLabelValues(cipher, outcome).Inc()
	}
}

func (m *Metrics) observeRequest(cmd Command, start time.Time) {
	if m != nil {
		m.requestDuration.WithLabelValues(string(cmd)).Observe(time.Since(start).Seconds())
	}
}
