package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalSteps atomic.Int64

var (
	TrainStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "train_steps_total",
		Help: "The total number of forward/backward steps executed",
	})

	StepDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "train_step_duration_seconds",
		Help: "Duration of single forward/backward steps",
	})

	EpochDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "train_epoch_duration_seconds",
		Help:    "Histogram of epoch wall-clock durations",
		Buckets: prometheus.DefBuckets,
	})

	OptimizerUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_updates_total",
		Help: "The total number of parameter updates applied",
	})

	SkippedUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_skipped_updates_total",
		Help: "Updates skipped because gradients were not finite",
	})

	NonFiniteGradsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "non_finite_grads_total",
		Help: "Total number of NaN/Inf gradient tensors detected",
	}, []string{"param"})

	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "train_loss",
		Help: "Most recent unscaled training loss",
	})

	LossScale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loss_scale",
		Help: "Current loss scaling factor",
	})

	BatchesGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataset_batches_generated_total",
		Help: "Synthetic batches generated for training",
	})

	TelemetryPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_publish_errors_total",
		Help: "Failed Arrow Flight publish attempts",
	})
)

// RecordStep records one completed forward/backward step.
func RecordStep(loss float32, duration time.Duration) {
	totalSteps.Add(1)
	TrainStepsTotal.Inc()
	StepDuration.Observe(duration.Seconds())
	TrainLoss.Set(float64(loss))
}

// RecordEpoch records a completed epoch.
func RecordEpoch(duration time.Duration) {
	EpochDuration.Observe(duration.Seconds())
}

// RecordOptimizerUpdate records one applied parameter update.
func RecordOptimizerUpdate() {
	OptimizerUpdatesTotal.Inc()
}

// RecordSkippedUpdate records an update skipped due to non-finite gradients.
func RecordSkippedUpdate() {
	SkippedUpdatesTotal.Inc()
}

// RecordNonFiniteGrad records a NaN/Inf gradient detection for a parameter.
func RecordNonFiniteGrad(param string) {
	NonFiniteGradsTotal.WithLabelValues(param).Inc()
}

// SetLossScale publishes the active loss scaling factor.
func SetLossScale(scale float32) {
	LossScale.Set(float64(scale))
}

// RecordBatches records generated dataset batches.
func RecordBatches(n int) {
	BatchesGeneratedTotal.Add(float64(n))
}

// RecordTelemetryError records a failed telemetry publish.
func RecordTelemetryError() {
	TelemetryPublishErrors.Inc()
}

// TotalSteps returns the process-wide step count.
func TotalSteps() int64 {
	return totalSteps.Load()
}
