// Package telemetry exposes engine execution metrics through prometheus.
// The HTTP server serves them on /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments plan execution.
type Metrics struct {
	planDuration *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec
	stageSize    prometheus.Histogram
}

// New registers engine metrics on the given registerer. Passing nil uses the
// default registry, which is what the server does.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		planDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insight",
			Subsystem: "engine",
			Name:      "plan_duration_seconds",
			Help:      "Wall time of full plan executions by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insight",
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Wall time of analysis steps by kind and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind", "outcome"}),
		stageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "insight",
			Subsystem: "engine",
			Name:      "stage_subquestions",
			Help:      "Number of sub-questions fanned out per stage.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
}

// ObservePlan records one full plan execution.
func (m *Metrics) ObservePlan(outcome string, d time.Duration) {
	m.planDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveStep records one analysis step.
func (m *Metrics) ObserveStep(kind, outcome string, d time.Duration) {
	m.stepDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// ObserveStage records the fan-out width of one stage.
func (m *Metrics) ObserveStage(subQuestions int) {
	m.stageSize.Observe(float64(subQuestions))
}
