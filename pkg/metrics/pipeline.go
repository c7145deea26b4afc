package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics tracks reconciliation pipeline throughput and the
// adaptive throttle's live state.
//
// Metrics:
//   - bam_reconciler_pipeline_operations_total: Operations by object_type, operation_type, outcome
//   - bam_reconciler_pipeline_operation_duration_seconds: Per-operation handler dispatch duration
//   - bam_reconciler_pipeline_throttle_limit: Current adaptive concurrency limit
//   - bam_reconciler_pipeline_throttle_active: In-flight operation count
type PipelineMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ThrottleLimit     prometheus.Gauge
	ThrottleActive    prometheus.Gauge
}

var (
	pipelineMetricsOnce     sync.Once
	pipelineMetricsInstance *PipelineMetrics
)

// NewPipelineMetrics creates and registers pipeline metrics with
// Prometheus. Uses a singleton, matching NewRetryMetrics.
func NewPipelineMetrics() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetricsInstance = &PipelineMetrics{
			OperationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "bam_reconciler",
					Subsystem: "pipeline",
					Name:      "operations_total",
					Help:      "Total operations dispatched by object_type, operation_type, and outcome",
				},
				[]string{"object_type", "operation_type", "outcome"},
			),

			OperationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "bam_reconciler",
					Subsystem: "pipeline",
					Name:      "operation_duration_seconds",
					Help:      "Duration of a single operation's handler dispatch",
					Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"object_type", "operation_type"},
			),

			ThrottleLimit: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "bam_reconciler",
					Subsystem: "pipeline",
					Name:      "throttle_limit",
					Help:      "Current adaptive concurrency limit",
				},
			),

			ThrottleActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "bam_reconciler",
					Subsystem: "pipeline",
					Name:      "throttle_active",
					Help:      "Currently in-flight operation count",
				},
			),
		}
	})
	return pipelineMetricsInstance
}
