// Package prometheus is the Prometheus-backed implementation of
// metrics.HWQPMetrics. Importing this package for its side effect registers
// the implementation's constructor with metrics.RegisterConstructor; nothing
// else in the core imports this package directly, so a caller who wants a
// different backend can simply not import it.
package prometheus

import (
	"strconv"
	"sync"

	"github.com/fcnvmf/target/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func init() {
	metrics.RegisterConstructor(New)
}

type hwqpMetrics struct {
	noXRI           *prometheus.CounterVec
	bufferAllocErr  *prometheus.CounterVec
	nvmeCmdIUErr    *prometheus.CounterVec
	nvmeCmdXferErr  *prometheus.CounterVec
	invalidConnErr  *prometheus.CounterVec
	rportInvalid    *prometheus.CounterVec
	nportInvalid    *prometheus.CounterVec
	unknownFrame    *prometheus.CounterVec
	numAborted      *prometheus.CounterVec
	numAbtsSent     *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	erspRatio       *prometheus.CounterVec
}

var (
	registerOnce sync.Once
	singleton    *hwqpMetrics
)

// New returns the process-wide Prometheus HWQPMetrics instance, registering
// its collectors with the default registry exactly once.
func New() metrics.HWQPMetrics {
	registerOnce.Do(func() {
		labels := []string{"hwqp_id"}
		singleton = &hwqpMetrics{
			noXRI: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_no_xri_total",
				Help: "Receives that could not obtain an exchange resource index.",
			}, labels),
			bufferAllocErr: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_buffer_alloc_err_total",
				Help: "Failed data-buffer allocations.",
			}, labels),
			nvmeCmdIUErr: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_nvme_cmd_iu_err_total",
				Help: "CMND_IUs that failed validation.",
			}, labels),
			nvmeCmdXferErr: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_nvme_cmd_xfer_err_total",
				Help: "Failed data transfers on otherwise-valid commands.",
			}, labels),
			invalidConnErr: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_invalid_conn_err_total",
				Help: "Frames whose connection id did not resolve.",
			}, labels),
			rportInvalid: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_rport_invalid_total",
				Help: "Frames referencing an unknown remote port.",
			}, labels),
			nportInvalid: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_nport_invalid_total",
				Help: "Frames referencing an unknown NPort.",
			}, labels),
			unknownFrame: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_unknown_frame_total",
				Help: "Frames whose R_CTL/TYPE the core does not route.",
			}, labels),
			numAborted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_num_aborted_total",
				Help: "Request contexts that completed in the aborted state.",
			}, labels),
			numAbtsSent: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_num_abts_sent_total",
				Help: "ABTS frames the LLD was asked to transmit.",
			}, labels),
			requestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fcnvmf_hwqp_request_latency_seconds",
				Help:    "Time a request context spent from receive to completion.",
				Buckets: prometheus.DefBuckets,
			}, []string{"hwqp_id", "state"}),
			erspRatio: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fcnvmf_hwqp_response_total",
				Help: "Completed responses, labelled by whether they were an ERSP.",
			}, []string{"hwqp_id", "ersp"}),
		}
	})
	return singleton
}

func label(hwqpID uint32) string {
	return strconv.FormatUint(uint64(hwqpID), 10)
}

func (m *hwqpMetrics) IncNoXRI(hwqpID uint32)          { m.noXRI.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncBufferAllocErr(hwqpID uint32) { m.bufferAllocErr.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncNVMeCmdIUErr(hwqpID uint32)   { m.nvmeCmdIUErr.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncNVMeCmdXferErr(hwqpID uint32) {
	m.nvmeCmdXferErr.WithLabelValues(label(hwqpID)).Inc()
}
func (m *hwqpMetrics) IncInvalidConnErr(hwqpID uint32) {
	m.invalidConnErr.WithLabelValues(label(hwqpID)).Inc()
}
func (m *hwqpMetrics) IncRPortInvalid(hwqpID uint32) { m.rportInvalid.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncNPortInvalid(hwqpID uint32) { m.nportInvalid.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncUnknownFrame(hwqpID uint32) { m.unknownFrame.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncNumAborted(hwqpID uint32)   { m.numAborted.WithLabelValues(label(hwqpID)).Inc() }
func (m *hwqpMetrics) IncNumAbtsSent(hwqpID uint32)  { m.numAbtsSent.WithLabelValues(label(hwqpID)).Inc() }

func (m *hwqpMetrics) ObserveRequestLatency(hwqpID uint32, state string, seconds float64) {
	m.requestLatency.WithLabelValues(label(hwqpID), state).Observe(seconds)
}

func (m *hwqpMetrics) ObserveERSPRatio(hwqpID uint32, isERSP bool) {
	ersp := "false"
	if isERSP {
		ersp = "true"
	}
	m.erspRatio.WithLabelValues(label(hwqpID), ersp).Inc()
}
