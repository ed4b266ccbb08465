package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons, used as the "reason" label.
const (
	ReasonUnresolved  = "unresolved"
	ReasonUndecodable = "undecodable"
	ReasonInvalid     = "invalid"
	ReasonStorage     = "storage"
	ReasonPanic       = "panic"
)

// Metrics groups the bridge's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	received   prometheus.Counter
	dropped    *prometheus.CounterVec
	stored     *prometheus.CounterVec
	strategies *prometheus.CounterVec
	appendDur  prometheus.Histogram
	connected  prometheus.Gauge
	queueLen   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "messages_received_total",
			Help:      "Messages delivered by the broker.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "messages_dropped_total",
			Help:      "Messages discarded, by reason.",
		}, []string{"reason"}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "readings_stored_total",
			Help:      "Rows appended to the store, by destination.",
		}, []string{"destination"}),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "decode_strategy_total",
			Help:      "Successful payload decodes, by strategy.",
		}, []string{"strategy"}),
		appendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensorbridge",
			Name:      "store_append_seconds",
			Help:      "Latency of a single store append.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorbridge",
			Name:      "broker_connected",
			Help:      "1 while the broker connection is up.",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorbridge",
			Name:      "queue_length",
			Help:      "Messages waiting for a worker.",
		}),
	}
	reg.MustRegister(m.received, m.dropped, m.stored, m.strategies, m.appendDur, m.connected, m.queueLen)
	for _, r := range []string{ReasonUnresolved, ReasonUndecodable, ReasonInvalid, ReasonStorage, ReasonPanic} {
		m.dropped.WithLabelValues(r)
	}
	return m
}

func (m *Metrics) Received() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Stored(destination string) {
	if m != nil {
		m.stored.WithLabelValues(destination).Inc()
	}
}

func (m *Metrics) Decoded(strategy string) {
	if m != nil {
		m.strategies.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) AppendLatency(secs float64) {
	if m != nil {
		m.appendDur.Observe(secs)
	}
}

func (m *Metrics) QueueLength(n int) {
	if m != nil {
		m.queueLen.Set(float64(n))
	}
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
