// Package metrics defines the counters and histograms the fabric, pipeline,
// and ABTS handler report through, without committing callers to a specific
// metrics backend. A concrete implementation registers itself with
// RegisterConstructor; until one does, every New* function returns nil and
// every recording call on a nil metrics value is a no-op.
package metrics

import "sync"

var (
	mu      sync.Mutex
	enabled bool
	ctor    func() HWQPMetrics
)

// InitRegistry marks metrics as enabled. Call before constructing any HWQP
// so that New* calls made during fabric setup return a live implementation
// rather than nil.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	enabled = true
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// RegisterConstructor registers the backend's HWQPMetrics constructor.
// Called by metrics/prometheus's package init to avoid an import cycle
// between this package and the backend package that depends on it.
func RegisterConstructor(f func() HWQPMetrics) {
	mu.Lock()
	defer mu.Unlock()
	ctor = f
}

// NewHWQPMetrics returns a backend-specific HWQPMetrics, or nil if metrics
// are disabled or no backend has registered a constructor.
func NewHWQPMetrics() HWQPMetrics {
	mu.Lock()
	f := ctor
	en := enabled
	mu.Unlock()
	if !en || f == nil {
		return nil
	}
	return f()
}
