// Package metrics holds the prometheus instrumentation for the
// admission pipeline, served by the ops HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Admitted  prometheus.Counter
	Denied    *prometheus.CounterVec
	Succeeded prometheus.Counter
	Refunded  prometheus.Counter
	Active    prometheus.Gauge
}

// New registers the ambot metric set on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Admitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ambot_jobs_admitted_total",
			Help: "Conversion requests that passed admission and were debited.",
		}),
		Denied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ambot_jobs_denied_total",
			Help: "Conversion requests denied at admission, by reason.",
		}, []string{"reason"}),
		Succeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ambot_jobs_succeeded_total",
			Help: "Jobs that converted and delivered successfully.",
		}),
		Refunded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ambot_jobs_refunded_total",
			Help: "Failed jobs whose charge was refunded.",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ambot_jobs_active",
			Help: "Jobs currently holding a per-user slot.",
		}),
	}
}
