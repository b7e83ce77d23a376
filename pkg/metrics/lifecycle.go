package metrics

import "github.com/AnzeLovse/resolwe/pkg/lifecycle"

// newLifecycleMetrics is set by pkg/metrics/prometheus's init, mirroring
// dittofs's RegisterS3MetricsConstructor indirection: pkg/metrics must not
// import pkg/metrics/prometheus directly, since prometheus imports back into
// this package for IsEnabled/Registry.
var newLifecycleMetrics func() lifecycle.Metrics

// RegisterLifecycleMetricsConstructor lets pkg/metrics/prometheus register
// its concrete constructor without creating an import cycle.
func RegisterLifecycleMetricsConstructor(constructor func() lifecycle.Metrics) {
	newLifecycleMetrics = constructor
}

// NewLifecycleMetrics returns a concrete lifecycle.Metrics collector, or nil
// if metrics are disabled. A nil Metrics is valid: every call site treats it
// as a no-op, so the Manager pays nothing when metrics are off.
func NewLifecycleMetrics() lifecycle.Metrics {
	if !IsEnabled() || newLifecycleMetrics == nil {
		return nil
	}
	return newLifecycleMetrics()
}
