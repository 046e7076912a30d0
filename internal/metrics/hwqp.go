package metrics

// HWQPMetrics records the per-HWQP counters spec.md §7 enumerates, plus the
// pipeline-latency histogram and the ERSP-vs-RSP response counter this
// implementation adds. Every
// method must tolerate a nil receiver as a no-op, matching the pattern
// callers rely on when metrics are disabled.
type HWQPMetrics interface {
	// IncNoXRI counts a receive that could not obtain an exchange resource index.
	IncNoXRI(hwqpID uint32)
	// IncBufferAllocErr counts a failed data-buffer allocation.
	IncBufferAllocErr(hwqpID uint32)
	// IncNVMeCmdIUErr counts a CMND_IU that failed validation.
	IncNVMeCmdIUErr(hwqpID uint32)
	// IncNVMeCmdXferErr counts a failed data transfer on an otherwise valid command.
	IncNVMeCmdXferErr(hwqpID uint32)
	// IncInvalidConnErr counts a frame whose connection id did not resolve.
	IncInvalidConnErr(hwqpID uint32)
	// IncRPortInvalid counts a frame referencing an unknown remote port.
	IncRPortInvalid(hwqpID uint32)
	// IncNPortInvalid counts a frame referencing an unknown NPort.
	IncNPortInvalid(hwqpID uint32)
	// IncUnknownFrame counts a frame whose R_CTL/TYPE the core does not route.
	IncUnknownFrame(hwqpID uint32)
	// IncNumAborted counts a request context that completed in the aborted state.
	IncNumAborted(hwqpID uint32)
	// IncNumAbtsSent counts an ABTS the LLD was asked to transmit.
	IncNumAbtsSent(hwqpID uint32)

	// ObserveRequestLatency records the time a request spent from receive to completion.
	ObserveRequestLatency(hwqpID uint32, state string, seconds float64)
	// ObserveERSPRatio records whether a completed response was an ERSP (1) or short RSP (0).
	ObserveERSPRatio(hwqpID uint32, isERSP bool)
}
