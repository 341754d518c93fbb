package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sessionAccepted       = "accepted"
	sessionRejectedOrigin = "rejected_origin"
	sessionRejectedKey    = "rejected_key"
	sessionUpstreamFailed = "upstream_failed"

	frameForwarded   = "forwarded"
	frameInvalid     = "invalid"
	frameSendFailed  = "send_failed"
	frameRateLimited = "rate_limited"
)

// Metrics are the relay collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions *prometheus.CounterVec
	active   prometheus.Gauge
	frames   *prometheus.CounterVec
	journal  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtbridge",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Relay sessions by admission result.",
		}, []string{"result"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtbridge",
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Browser sessions currently relayed.",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtbridge",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames seen by the relay.",
		}, []string{"direction", "result"}),
		journal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rtbridge",
			Subsystem: "relay",
			Name:      "journal_errors_total",
			Help:      "Journal appends that failed.",
		}),
	}
}

func (m *Metrics) session(result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result).Inc()
}

func (m *Metrics) opened() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.active.Dec()
	}
}

func (m *Metrics) frame(dir Direction, result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(string(dir), result).Inc()
}

func (m *Metrics) journalError() {
	if m != nil {
		m.journal.Inc()
	}
}
