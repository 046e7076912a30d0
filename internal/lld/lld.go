// Package lld declares the narrow lower-level-driver facade the core calls
// for everything that touches physical rings, DMA, and IRQs: queue
// lifecycle, XRI allocation, data and response transmit, BLS transmit,
// abort, single-request-single-response transmit, and queue-sync. The LLD
// itself — physical ring management, interrupt handling — is out of scope
// (spec.md "external collaborators"); this package only gives it a shape
// the rest of the core can be built and tested against.
package lld

import "context"

// QueueHandle is the LLD's opaque per-HWQP queue handle.
type QueueHandle any

// Driver is the facade the fabric, pipeline, and ABTS handler call into.
// A real driver wraps physical ring/DMA/IRQ state behind these methods; a
// simulated driver (used by cmd/fcnvmfd and by tests) can implement it with
// plain in-memory structures.
type Driver interface {
	// InitQueue allocates the LLD-side resources for hwqpID and returns its
	// opaque handle.
	InitQueue(ctx context.Context, hwqpID uint32) (QueueHandle, error)

	// ReinitQueue recovers a queue after an error without discarding its
	// identity (spec.md §10's "reinit_queue").
	ReinitQueue(ctx context.Context, q QueueHandle) error

	// SetQueueOnline transitions q to the online state.
	SetQueueOnline(ctx context.Context, q QueueHandle) error

	// AcquireXRI allocates an exchange resource index from q's pool.
	// ok is false when the pool is exhausted; callers must not treat this
	// as an error (spec.md §7: "no XRI" is a pending-queue condition, not
	// a fault).
	AcquireXRI(q QueueHandle) (xri uint32, ok bool)

	// ReleaseXRI returns xri to q's pool.
	ReleaseXRI(q QueueHandle, xri uint32)

	// PostXferReady transmits an XFER_RDY_IU on xri.
	PostXferReady(ctx context.Context, q QueueHandle, xri uint32, payload []byte) error

	// PostDataSend transmits read data on xri.
	PostDataSend(ctx context.Context, q QueueHandle, xri uint32, data []byte) error

	// PostResponse transmits an ERSP_IU or short RSP on xri.
	PostResponse(ctx context.Context, q QueueHandle, xri uint32, payload []byte) error

	// PostLSResponse transmits an LS accept/reject on the LS HWQP.
	PostLSResponse(ctx context.Context, q QueueHandle, oxid uint16, payload []byte) error

	// PostBLSResponse transmits a BA_ACC/BA_RJT.
	PostBLSResponse(ctx context.Context, q QueueHandle, oxid, rxid uint16, payload []byte) error

	// IssueAbort aborts xri; if sendAbts is set, the LLD additionally
	// transmits an ABTS on the exchange.
	IssueAbort(ctx context.Context, q QueueHandle, xri uint32, sendAbts bool) error

	// PostSRSRRequest issues a single-request-single-response LS (spec.md
	// §4.2 "emits a single-request-single-response LS Disconnect").
	PostSRSRRequest(ctx context.Context, q QueueHandle, payload []byte) (response []byte, err error)

	// QueueSyncAvailable reports whether q's LLD supports the queue-sync
	// primitive the ABTS handler's second pass depends on.
	QueueSyncAvailable(q QueueHandle) bool

	// IssueQueueSyncMarker posts a queue-sync marker tagged with seqID on
	// the LS HWQP; completion is reported by the driver out of band.
	IssueQueueSyncMarker(ctx context.Context, q QueueHandle, seqID uint64) error

	// ReleaseRQBuffer returns a receive-queue buffer to the LLD without
	// emitting any response (spec.md §4.1 pending-queue release path).
	ReleaseRQBuffer(q QueueHandle, bufferIndex uint32)

	// PollQueue drains one batch of completions/arrivals for q, invoking cb
	// for each. Returns the number handled.
	PollQueue(ctx context.Context, q QueueHandle, cb func(Event)) (int, error)
}

// EventKind identifies what PollQueue delivered.
type EventKind int

const (
	EventFrameReceived EventKind = iota
	EventXferReadyComplete
	EventDataSendComplete
	EventResponseComplete
	EventAbortComplete
	EventQueueSyncComplete
)

// Event is a single item PollQueue hands back to its caller.
type Event struct {
	Kind    EventKind
	XRI     uint32
	Payload []byte
	Err     error
}
