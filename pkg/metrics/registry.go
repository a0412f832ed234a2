// Package metrics provides Prometheus instrumentation for the session
// transport core: SURB balancer behavior and per-session packet counters.
// Every constructor is nil-safe on the consuming side (pkg/session/surb and
// pkg/session check for a nil Metrics/none before calling), so metrics stay
// zero-overhead until InitRegistry is called.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry used by every constructor in this package. Calling it more than
// once is a no-op after the first call.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the active registry, initializing one if needed.
// Constructors call this only after checking IsEnabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}
