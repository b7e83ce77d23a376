// Package prometheus provides the concrete Prometheus collectors for
// pkg/metrics's nil-safe interfaces, grounded on dittofs's
// pkg/metrics/prometheus/s3.go: promauto.With(reg) construction, one
// CounterVec/HistogramVec per concern, labels kept low-cardinality
// (backend name and error class, never FileStorage ID).
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnzeLovse/resolwe/pkg/lifecycle"
	"github.com/AnzeLovse/resolwe/pkg/metrics"
)

func init() {
	metrics.RegisterLifecycleMetricsConstructor(func() lifecycle.Metrics {
		return newLifecycleMetrics(metrics.Registry())
	})
}

type lifecycleMetrics struct {
	sweepDuration prometheus.Histogram
	copies        *prometheus.CounterVec
	deletes       *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

var _ lifecycle.Metrics = (*lifecycleMetrics)(nil)

func newLifecycleMetrics(reg prometheus.Registerer) *lifecycleMetrics {
	return &lifecycleMetrics{
		sweepDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "storelife_sweep_duration_seconds",
			Help:    "Duration of a full lifecycle manager sweep.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		}),
		copies: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storelife_replicas_copied_total",
			Help: "Replicas successfully copied to a backend during a sweep.",
		}, []string{"backend"}),
		deletes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storelife_replicas_deleted_total",
			Help: "Replicas successfully deleted from a backend during a sweep.",
		}, []string{"backend"}),
		errors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storelife_sweep_errors_total",
			Help: "Errors encountered while copying or deleting replicas.",
		}, []string{"backend", "operation"}),
	}
}

func (m *lifecycleMetrics) ObserveSweepDuration(d time.Duration) {
	m.sweepDuration.Observe(d.Seconds())
}

func (m *lifecycleMetrics) IncCopies(backend string) {
	m.copies.WithLabelValues(backend).Inc()
}

func (m *lifecycleMetrics) IncDeletes(backend string) {
	m.deletes.WithLabelValues(backend).Inc()
}

func (m *lifecycleMetrics) IncErrors(backend, op string) {
	m.errors.WithLabelValues(backend, op).Inc()
}
