package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results, the values of the "result" label.
const (
	resultMessage  = "message"
	resultCanceled = "canceled"
	resultClosed   = "closed"
	resultError    = "error"
)

// Metrics are the prometheus collectors of a [Subsystem]. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
	dropped    prometheus.Counter
	resubmits  prometheus.Counter
	contexts   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, if reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gojanng",
			Subsystem: "receive",
			Name:      "deliveries_total",
			Help:      "Completed receives handed to subscribers, by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gojanng",
			Subsystem: "receive",
			Name:      "dropped_total",
			Help:      "Deliveries discarded because the callback bridge rejected them.",
		}),
		resubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gojanng",
			Subsystem: "receive",
			Name:      "resubmits_total",
			Help:      "Receives submitted by the receive loop after a completion.",
		}),
		contexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gojanng",
			Subsystem: "receive",
			Name:      "contexts",
			Help:      "Sockets with a receive context.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.deliveries, m.dropped, m.resubmits, m.contexts} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) delivered(result string) {
	if m != nil {
		m.deliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) resubmit() {
	if m != nil {
		m.resubmits.Inc()
	}
}

func (m *Metrics) contextAdded() {
	if m != nil {
		m.contexts.Inc()
	}
}

func (m *Metrics) contextRemoved() {
	if m != nil {
		m.contexts.Dec()
	}
}
