package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryDisabledByDefault(t *testing.T) {
	mu.Lock()
	enabled = false
	ctor = nil
	mu.Unlock()

	assert.False(t, IsEnabled())
	assert.Nil(t, NewHWQPMetrics())
}

func TestRegistryReturnsRegisteredConstructorOnceEnabled(t *testing.T) {
	mu.Lock()
	enabled = false
	ctor = nil
	mu.Unlock()

	stub := &stubHWQPMetrics{}
	RegisterConstructor(func() HWQPMetrics { return stub })

	assert.Nil(t, NewHWQPMetrics(), "constructor registered but metrics not yet enabled")

	InitRegistry()
	assert.True(t, IsEnabled())
	assert.Same(t, HWQPMetrics(stub), NewHWQPMetrics())

	mu.Lock()
	enabled = false
	ctor = nil
	mu.Unlock()
}

type stubHWQPMetrics struct{}

func (*stubHWQPMetrics) IncNoXRI(uint32)                              {}
func (*stubHWQPMetrics) IncBufferAllocErr(uint32)                     {}
func (*stubHWQPMetrics) IncNVMeCmdIUErr(uint32)                       {}
func (*stubHWQPMetrics) IncNVMeCmdXferErr(uint32)                     {}
func (*stubHWQPMetrics) IncInvalidConnErr(uint32)                     {}
func (*stubHWQPMetrics) IncRPortInvalid(uint32)                       {}
func (*stubHWQPMetrics) IncNPortInvalid(uint32)                       {}
func (*stubHWQPMetrics) IncUnknownFrame(uint32)                       {}
func (*stubHWQPMetrics) IncNumAborted(uint32)                         {}
func (*stubHWQPMetrics) IncNumAbtsSent(uint32)                        {}
func (*stubHWQPMetrics) ObserveRequestLatency(uint32, string, float64) {}
func (*stubHWQPMetrics) ObserveERSPRatio(uint32, bool)                {}
