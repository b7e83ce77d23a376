package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnzeLovse/resolwe/pkg/metrics"
	"github.com/AnzeLovse/resolwe/pkg/transfer"
)

func init() {
	metrics.RegisterTransferMetricsConstructor(func() transfer.Metrics {
		return newTransferMetrics(metrics.Registry())
	})
}

type transferMetrics struct {
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

var _ transfer.Metrics = (*transferMetrics)(nil)

func newTransferMetrics(reg prometheus.Registerer) *transferMetrics {
	return &transferMetrics{
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storelife_transfer_duration_seconds",
			Help:    "Duration of a single-object transfer between two backends.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"from_backend", "to_backend"}),
		bytes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storelife_transfer_bytes_total",
			Help: "Bytes transferred between two backends.",
		}, []string{"from_backend", "to_backend"}),
		retries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storelife_transfer_retries_total",
			Help: "Transfer retry attempts, labeled by the error class that triggered them.",
		}, []string{"from_backend", "to_backend", "error_class"}),
	}
}

func (m *transferMetrics) ObserveTransferDuration(fromBackend, toBackend string, d time.Duration) {
	m.duration.WithLabelValues(fromBackend, toBackend).Observe(d.Seconds())
}

func (m *transferMetrics) AddBytesTransferred(fromBackend, toBackend string, n int64) {
	m.bytes.WithLabelValues(fromBackend, toBackend).Add(float64(n))
}

func (m *transferMetrics) IncRetries(fromBackend, toBackend, errorClass string) {
	m.retries.WithLabelValues(fromBackend, toBackend, errorClass).Inc()
}
