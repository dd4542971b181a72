// Package metrics provides Prometheus metrics for Redola channels.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "redola"
)

// Metrics contains all Prometheus metrics for the channel layer.
type Metrics struct {
	// Channel lifecycle
	ChannelsActive prometheus.Gauge
	ChannelsOpened *prometheus.CounterVec
	ChannelsClosed *prometheus.CounterVec

	// Handshake
	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec

	// Keep-alive
	KeepalivesSent    prometheus.Counter
	KeepalivesRecv    prometheus.Counter
	KeepaliveTimeouts prometheus.Counter
	KeepaliveRTT      prometheus.Histogram

	// Traffic
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	SendRejects    *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Number of channels currently in the active state",
		}),
		ChannelsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_opened_total",
			Help:      "Total channels that completed a handshake, by direction",
		}, []string{"direction"}),
		ChannelsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_closed_total",
			Help:      "Total channels closed, by reason",
		}, []string{"reason"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of handshake latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake failures by type",
		}, []string{"error_type"}),

		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total keep-alive probes sent",
		}),
		KeepalivesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_received_total",
			Help:      "Total keep-alive probes received",
		}),
		KeepaliveTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_timeouts_total",
			Help:      "Total sessions closed by a missing keep-alive response",
		}),
		KeepaliveRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "keepalive_rtt_seconds",
			Help:      "Histogram of keep-alive round-trip time",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames sent by opcode",
		}, []string{"opcode"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames received by opcode",
		}, []string{"opcode"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes handed to the transport",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes delivered by the transport",
		}),
		SendRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_rejects_total",
			Help:      "Total sends rejected by precondition checks",
		}, []string{"reason"}),
	}
}

// RecordChannelOpen records a successful handshake.
func (m *Metrics) RecordChannelOpen(direction string, latencySeconds float64) {
	m.ChannelsActive.Inc()
	m.ChannelsOpened.WithLabelValues(direction).Inc()
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordChannelClose records a channel leaving the active state.
func (m *Metrics) RecordChannelClose(reason string) {
	m.ChannelsActive.Dec()
	m.ChannelsClosed.WithLabelValues(reason).Inc()
}

// RecordHandshakeError records a failed handshake.
func (m *Metrics) RecordHandshakeError(errorType string) {
	m.HandshakeErrors.WithLabelValues(errorType).Inc()
}

// RecordFrameSent records an outbound frame.
func (m *Metrics) RecordFrameSent(opcode string, bytes int) {
	m.FramesSent.WithLabelValues(opcode).Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordFrameReceived records an inbound frame.
func (m *Metrics) RecordFrameReceived(opcode string, bytes int) {
	m.FramesReceived.WithLabelValues(opcode).Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordSendReject records a send refused by a precondition.
func (m *Metrics) RecordSendReject(reason string) {
	m.SendRejects.WithLabelValues(reason).Inc()
}
