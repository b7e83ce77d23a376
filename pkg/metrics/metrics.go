// Package metrics provides the process-wide Prometheus registry and the
// nil-safe enable/disable switch, grounded on dittofs's pkg/metrics: a
// disabled registry costs nothing, callers just check IsEnabled before
// constructing a concrete collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	registry *prometheus.Registry
	enabled  bool
)

// Init enables the metrics subsystem and creates the registry collectors
// register against. Calling Init is optional; if never called, IsEnabled
// returns false and every optional-metrics constructor in this module
// returns nil.
func Init() *prometheus.Registry {
	enabled = true
	registry = prometheus.NewRegistry()
	return registry
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool { return enabled }

// Registry returns the process-wide registry, or nil if metrics are
// disabled.
func Registry() *prometheus.Registry { return registry }
