package dal

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ops           *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	subscriptions *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentbench",
			Subsystem: "dal",
			Name:      "operations_total",
			Help:      "Data-access operations by name and outcome.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentbench",
			Subsystem: "dal",
			Name:      "operation_duration_seconds",
			Help:      "Latency of data-access operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentbench",
			Subsystem: "dal",
			Name:      "active_subscriptions",
			Help:      "Live subscriptions that have not been cancelled.",
		}, []string{"kind"}),
	}
	if reg != nil {
		m.ops = register(reg, m.ops)
		m.duration = register(reg, m.duration)
		m.subscriptions = register(reg, m.subscriptions)
	}
	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered (several DAL instances may share one registry).
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// track records one operation. Use with a named error result:
//
//	defer d.track("createModel")(&err)
func (d *DAL) track(op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		status := "ok"
		if errp != nil && *errp != nil {
			status = "error"
		}
		d.metrics.ops.WithLabelValues(op, status).Inc()
		d.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
