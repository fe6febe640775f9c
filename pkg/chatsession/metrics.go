package chatsession

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	sends           *prometheus.CounterVec
	expiryRetries   prometheus.Counter
	deltas          prometheus.Counter
	firstDelay      prometheus.Histogram
	sessionsStarted prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vrin_chat",
			Name:      "sends_total",
			Help:      "Messages sent, by path and outcome.",
		}, []string{"path", "outcome"}),
		expiryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrin_chat",
			Name:      "session_expiry_retries_total",
			Help:      "Sends retried without a session id after the backend reported it expired.",
		}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrin_chat",
			Name:      "stream_deltas_total",
			Help:      "Content deltas received from streamed replies.",
		}),
		firstDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vrin_chat",
			Name:      "first_delta_seconds",
			Help:      "Time from send until the first streamed content delta.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrin_chat",
			Name:      "sessions_started_total",
			Help:      "Sessions explicitly started.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.expiryRetries, m.deltas, m.firstDelay, m.sessionsStarted)
	}
	return m
}

func (m *Metrics) send(streaming bool, outcome string) {
	if m == nil {
		return
	}
	path := "sync"
	if streaming {
		path = "stream"
	}
	m.sends.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) expiryRetry() {
	if m == nil {
		return
	}
	m.expiryRetries.Inc()
}

func (m *Metrics) delta(first bool, since time.Duration) {
	if m == nil {
		return
	}
	m.deltas.Inc()
	if first {
		m.firstDelay.Observe(since.Seconds())
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}
