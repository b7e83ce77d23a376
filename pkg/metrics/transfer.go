package metrics

import "github.com/AnzeLovse/resolwe/pkg/transfer"

var newTransferMetrics func() transfer.Metrics

// RegisterTransferMetricsConstructor lets pkg/metrics/prometheus register
// its concrete constructor without creating an import cycle.
func RegisterTransferMetricsConstructor(constructor func() transfer.Metrics) {
	newTransferMetrics = constructor
}

// NewTransferMetrics returns a concrete transfer.Metrics collector, or nil
// if metrics are disabled.
func NewTransferMetrics() transfer.Metrics {
	if !IsEnabled() || newTransferMetrics == nil {
		return nil
	}
	return newTransferMetrics()
}
