package socket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK       = "ok"
	resultError    = "error"
	resultRejected = "rejected"
)

// Metrics holds Bridge collectors. A nil *Metrics is valid and records nothing,
// so a Bridge never has to check whether metrics are wired.
type Metrics struct {
	connections     *prometheus.CounterVec
	active          prometheus.Gauge
	frames          *prometheus.CounterVec
	transportErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtbridge",
			Subsystem: "bridge",
			Name:      "connections_total",
			Help:      "Connect attempts by result.",
		}, []string{"result"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtbridge",
			Subsystem: "bridge",
			Name:      "active",
			Help:      "Bridges that are open and not yet closed.",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtbridge",
			Subsystem: "bridge",
			Name:      "frames_total",
			Help:      "Frames by direction and result.",
		}, []string{"direction", "result"}),
		transportErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rtbridge",
			Subsystem: "bridge",
			Name:      "transport_errors_total",
			Help:      "Transport failures after open.",
		}),
	}
}

func (m *Metrics) connection(result string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(result).Inc()
	if result == resultOK {
		m.active.Inc()
	}
}

func (m *Metrics) closed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) frameIn(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("in", result).Inc()
}

func (m *Metrics) frameOut(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("out", result).Inc()
}

func (m *Metrics) transportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}
