// Package metrics holds the prometheus collectors for dispatch, rebuilds
// and sessions. Each Metrics owns its registry so tests and multiple
// registries in one process never collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modnet"

type Metrics struct {
	reg *prometheus.Registry

	Dispatched     *prometheus.CounterVec
	NoHandler      *prometheus.CounterVec
	DispatchErrors *prometheus.CounterVec
	SystemMessages *prometheus.CounterVec
	Rebuilds       *prometheus.CounterVec
	RebuildTime    prometheus.Histogram
	Sessions       prometheus.Gauge
	Frames         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "dispatched_total", Help: "messages delivered to a handler"},
			[]string{"side"},
		),
		NoHandler: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "no_handler_total", Help: "messages dropped for lack of a handler"},
			[]string{"side"},
		),
		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_errors_total", Help: "header or payload decode failures"},
			[]string{"side"},
		),
		SystemMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "system_messages_total", Help: "messages carrying a reserved system tag"},
			[]string{"tag"},
		),
		Rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rebuilds_total", Help: "handler registry rebuilds"},
			[]string{"result"},
		),
		RebuildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_seconds",
			Help:      "handler registry rebuild time.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		Sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "sessions", Help: "open connections"},
		),
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "frames_total", Help: "frames moved through connections"},
			[]string{"direction"},
		),
	}
	m.reg.MustRegister(
		m.Dispatched,
		m.NoHandler,
		m.DispatchErrors,
		m.SystemMessages,
		m.Rebuilds,
		m.RebuildTime,
		m.Sessions,
		m.Frames,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRebuild records one rebuild and how long it took.
func (m *Metrics) ObserveRebuild(start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Rebuilds.WithLabelValues(result).Inc()
	m.RebuildTime.Observe(time.Since(start).Seconds())
}
