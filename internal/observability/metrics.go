package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the reward/governance pipeline.
type Metrics struct {
	StepsRecordedTotal     *prometheus.CounterVec
	ViolationsTotal        *prometheus.CounterVec
	HardStopsTotal         *prometheus.CounterVec
	EvaluateDuration       *prometheus.HistogramVec
	SinkErrorsTotal        *prometheus.CounterVec
	EpisodesFinalizedTotal prometheus.Counter
	AsyncQueueDepth        prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics. sync.Once guards
// against duplicate registration panics; all metrics share the "rubric_"
// namespace.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			StepsRecordedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rubric_steps_recorded_total",
					Help: "Total steps recorded per environment",
				},
				[]string{"environment"},
			),
			ViolationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rubric_violations_total",
					Help: "Total compliance violations by severity",
				},
				[]string{"severity"},
			),
			HardStopsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rubric_hard_stops_total",
					Help: "Total governance hard stops per environment",
				},
				[]string{"environment"},
			),
			EvaluateDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "rubric_evaluate_duration_seconds",
					Help:    "Duration of ensemble evaluation",
					Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~0.4s
				},
				[]string{"environment"},
			),
			SinkErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rubric_sink_errors_total",
					Help: "Total sink write failures by sink",
				},
				[]string{"sink"},
			),
			EpisodesFinalizedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "rubric_episodes_finalized_total",
					Help: "Total episodes finalized",
				},
			),
			AsyncQueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "rubric_async_queue_depth",
					Help: "Records waiting in the async store queue",
				},
			),
		}
	})
	return globalMetrics
}
