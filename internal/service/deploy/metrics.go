package deploy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	attemptsTotal *prometheus.CounterVec
	compensations prometheus.Counter
	buildDuration prometheus.Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forma",
			Subsystem: "deploy",
			Name:      "attempts_total",
			Help:      "Deployment attempts by terminal result",
		}, []string{"result"})
		attemptsTotal = register(counter).(*prometheus.CounterVec)

		compensations = register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forma",
			Subsystem: "deploy",
			Name:      "compensation_runs_total",
			Help:      "Compensation passes executed after failed attempts",
		})).(prometheus.Counter)

		buildDuration = register(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forma",
			Subsystem: "deploy",
			Name:      "build_duration_seconds",
			Help:      "Remote build duration of successful deployments",
			Buckets:   []float64{15, 30, 60, 120, 180, 240, 300},
		})).(prometheus.Histogram)
	})
}

// register tolerates duplicate registration so tests can construct several
// services in one process.
func register(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
