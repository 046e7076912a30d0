// Package admin implements the administrative event machine: a single
// process-wide enqueue function mapping 11 event types to handlers
// serialized onto one designated goroutine, the "main thread" spec.md §4.6
// and §5 refer to. Every other subsystem in this module — the pipeline, the
// ABTS handler, the poll groups — runs lock-free except for the one
// cross-group membership mutex; this package is where port/NPort/remote-port
// topology changes and reference-count mutations are meant to happen, per
// spec.md §5's "Reference counts ... are mutated only from the main thread."
package admin

import (
	"context"

	"github.com/fcnvmf/target/internal/abts"
	"github.com/fcnvmf/target/internal/config"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/nvmfshim"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/pollgroup"
)

// EventKind enumerates the 11 administrative event types, numbered in the
// order spec.md §4.6 lists them.
type EventKind int

const (
	EventPortInit EventKind = iota
	EventPortFree
	EventPortOnline
	EventPortOffline
	EventPortReset
	EventNPortCreate
	EventNPortDelete
	EventITAdd
	EventITDelete
	EventABTSReceived
	EventUnrecoverableError
)

func (k EventKind) String() string {
	switch k {
	case EventPortInit:
		return "port_init"
	case EventPortFree:
		return "port_free"
	case EventPortOnline:
		return "port_online"
	case EventPortOffline:
		return "port_offline"
	case EventPortReset:
		return "port_reset"
	case EventNPortCreate:
		return "nport_create"
	case EventNPortDelete:
		return "nport_delete"
	case EventITAdd:
		return "it_add"
	case EventITDelete:
		return "it_delete"
	case EventABTSReceived:
		return "abts_received"
	case EventUnrecoverableError:
		return "unrecoverable_error"
	default:
		return "unknown"
	}
}

// ResultCode is the outcome reported to an event's completion callback,
// invoked exactly once per enqueued event (spec.md §4.6).
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultAlreadyExists
	ResultNotFound
	ResultInvalid
	ResultFailed
)

// Callback is invoked once an event's handler has run to completion.
type Callback func(ResultCode)

// Args is the per-event argument struct. Not every field is meaningful for
// every event kind; see each handler's doc comment (spec.md §6 "Argument
// structs per event carry port handle, nport handle, RPI, S_ID, OX_ID/RX_ID,
// WWNs, D_ID, callback context, and for port-reset a dump-reason string ...
// and an output dump buffer pointer").
type Args struct {
	PortHandle  uint8
	NPortHandle uint16
	RPI         uint32
	SID         uint32
	DID         uint32
	OXID, RXID  uint16
	NodeWWN     uint64
	PortWWN     uint64

	// DumpReason/DumpBuffer are meaningful only for EventPortReset.
	DumpReason string
	DumpBuffer []byte

	// Port/NPort/RemotePort/Association/Connection are the fabric objects
	// the handler operates on, resolved by the caller (admin keeps no
	// topology registry of its own; the caller owns port/nport lookup).
	Port        *fabric.Port
	NPort       *fabric.NPort
	RemotePort  *fabric.RemotePort
	Association *fabric.Association
	Connection  *fabric.Connection

	// LSHWQP/LSQueueHandle identify the LS HWQP an ABTS arrived on, or the
	// LS HWQP a delete-association's LS Disconnect should transmit from.
	LSHWQP        *fabric.HWQP
	LSQueueHandle lld.QueueHandle

	// BackendInitiated distinguishes a backend-driven connection teardown
	// from one the LS processor drove, per spec.md §4.2's "if not
	// backend-initiated ... requests the NVMe-oF layer to disconnect the
	// qpair."
	BackendInitiated bool
}

type event struct {
	kind EventKind
	args Args
	cb   Callback
}

// Queue serializes admin events onto a single designated goroutine. Every
// HWQP-owning poll group and the driver/pipeline/ABTS collaborators it
// orchestrates are supplied at construction; Queue itself owns no topology,
// only the sequencing of handlers over caller-supplied fabric objects.
type Queue struct {
	driver     lld.Driver
	pipeline   *pipeline.Pipeline
	abts       *abts.Handler
	generic    nvmfshim.GenericLayer
	cfg        config.Config
	pollGroups []*pollgroup.PollGroup

	events chan event
}

// New creates a Queue. pollGroups is the fixed set HWQPs are distributed
// across on port online/offline; it must not be empty.
func New(driver lld.Driver, pl *pipeline.Pipeline, abtsHandler *abts.Handler, generic nvmfshim.GenericLayer, cfg config.Config, pollGroups []*pollgroup.PollGroup) *Queue {
	return &Queue{
		driver:     driver,
		pipeline:   pl,
		abts:       abtsHandler,
		generic:    generic,
		cfg:        cfg,
		pollGroups: pollGroups,
		events:     make(chan event, 64),
	}
}

// Enqueue posts an event for serialized handling on the Queue's designated
// goroutine. cb may be nil. Enqueue itself never blocks the caller on the
// handler running — only on channel capacity, matching the "send a message"
// phrasing spec.md §5 uses throughout.
func (q *Queue) Enqueue(kind EventKind, args Args, cb Callback) {
	if cb == nil {
		cb = func(ResultCode) {}
	}
	q.events <- event{kind: kind, args: args, cb: cb}
}

// Run drains the event channel until ctx is canceled. It is meant to run as
// the process's single designated admin goroutine; callers must not invoke
// Run concurrently.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.events:
			q.dispatch(ctx, ev)
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, ev event) {
	var result ResultCode
	switch ev.kind {
	case EventPortInit:
		result = q.portInit(ctx, ev.args)
	case EventPortFree:
		result = q.portFree(ctx, ev.args)
	case EventPortOnline:
		result = q.portOnline(ctx, ev.args)
	case EventPortOffline:
		result = q.portOffline(ctx, ev.args)
	case EventPortReset:
		result = q.portReset(ctx, ev.args)
	case EventNPortCreate:
		result = q.nportCreate(ctx, ev.args)
	case EventNPortDelete:
		result = q.nportDelete(ctx, ev.args)
	case EventITAdd:
		result = q.itAdd(ctx, ev.args)
	case EventITDelete:
		result = q.itDeleteEvent(ctx, ev.args)
	case EventABTSReceived:
		result = q.abtsReceived(ctx, ev.args)
	case EventUnrecoverableError:
		result = q.unrecoverableError(ctx, ev.args)
	default:
		result = ResultInvalid
	}
	ev.cb(result)
}

// pollGroupFor assigns hwqpID to one of the fixed poll groups, round-robin.
func (q *Queue) pollGroupFor(hwqpID uint32) *pollgroup.PollGroup {
	if len(q.pollGroups) == 0 {
		return nil
	}
	return q.pollGroups[int(hwqpID)%len(q.pollGroups)]
}
