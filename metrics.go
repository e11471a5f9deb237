package fault

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	reached   *prometheus.CounterVec
	triggered *prometheus.CounterVec
	failed    *prometheus.CounterVec
	armed     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		reached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fault",
			Name:      "point_reached_total",
			Help:      "Reaches of an armed fault point that matched its scope.",
		}, []string{"point"}),
		triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fault",
			Name:      "point_triggered_total",
			Help:      "Times a fault point fired its action.",
		}, []string{"point", "type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fault",
			Name:      "point_failed_total",
			Help:      "Times a fault point's action reported failure.",
		}, []string{"point"}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fault",
			Name:      "points_armed",
			Help:      "Fault points currently waiting or triggered.",
		}),
	}
	if reg == nil {
		return m
	}
	m.reached = register(reg, m.reached).(*prometheus.CounterVec)
	m.triggered = register(reg, m.triggered).(*prometheus.CounterVec)
	m.failed = register(reg, m.failed).(*prometheus.CounterVec)
	m.armed = register(reg, m.armed).(prometheus.Gauge)
	return m
}

// register c, or return the collector already registered under
// the same description. Injectors sharing a registerer share
// their metrics.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}
	panic(err)
}

func (m *metrics) hit(h Hit) {
	if h.Occurrence == 0 {
		return
	}
	m.reached.WithLabelValues(h.Point).Inc()
	if h.Fired {
		m.triggered.WithLabelValues(h.Point, h.Type.String()).Inc()
	}
}

func (m *metrics) fail(point string) {
	m.failed.WithLabelValues(point).Inc()
}

func (m *metrics) armedDelta(delta int) {
	if delta != 0 {
		m.armed.Add(float64(delta))
	}
}
