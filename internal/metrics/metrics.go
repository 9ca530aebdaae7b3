// Package metrics exposes dispatch counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry. A nil *Metrics is safe to call.
type Metrics struct {
	reg *prometheus.Registry

	blasts *prometheus.CounterVec
	sent   prometheus.Counter
	failed prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		blasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "areacast_blasts_total",
			Help: "Live send requests dispatched, by channel and backend.",
		}, []string{"channel", "backend"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "areacast_messages_sent_total",
			Help: "Per-recipient sends that succeeded.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "areacast_messages_failed_total",
			Help: "Per-recipient sends that failed.",
		}),
	}
	reg.MustRegister(m.blasts, m.sent, m.failed)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

func (m *Metrics) ObserveBlast(channel, backend string, sent, failed int) {
	if m == nil {
		return
	}
	m.blasts.WithLabelValues(channel, backend).Inc()
	m.sent.Add(float64(sent))
	m.failed.Add(float64(failed))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
