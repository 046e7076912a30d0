// Package reqpool implements the per-connection request-context pool: a
// fixed-size, preallocated arena of Request structs with an intrusive
// free-list, sized so the pipeline never allocates on the hot path (spec.md
// §4.3 "allocate a request from the connection's pool").
package reqpool

import (
	"sync"
	"unsafe"

	"github.com/fcnvmf/target/internal/wire"
)

// State is a request context's position in the pipeline's one-way state
// machine (spec.md §4.3).
type State int

const (
	StateInit State = iota
	StateReadBdev
	StateReadXfer
	StateReadRsp
	StateWriteBuffs
	StateWriteXfer
	StateWriteBdev
	StateWriteRsp
	StateNoneBdev
	StateNoneRsp
	StateSuccess
	StateFailed
	StateAborted
	StateBdevAborted
	StatePending
	StateFusedWaiting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReadBdev:
		return "read-bdev"
	case StateReadXfer:
		return "read-xfer"
	case StateReadRsp:
		return "read-rsp"
	case StateWriteBuffs:
		return "write-buffs"
	case StateWriteXfer:
		return "write-xfer"
	case StateWriteBdev:
		return "write-bdev"
	case StateWriteRsp:
		return "write-rsp"
	case StateNoneBdev:
		return "none-bdev"
	case StateNoneRsp:
		return "none-rsp"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	case StateBdevAborted:
		return "bdev-aborted"
	case StatePending:
		return "pending"
	case StateFusedWaiting:
		return "fused-waiting"
	default:
		return "unknown"
	}
}

// deadSentinel and liveSentinel mark a Request's memory as free or in-use,
// the magic-pattern check the original's request-free path relies on to
// catch use-after-free; kept here as a cheap runtime assertion aid rather
// than a correctness mechanism.
const (
	deadSentinel = 0xDEADDEAD
	liveSentinel = 0xA11CEA11
)

// TracePoint records one state transition, keyed by the request's stable
// address for post-hoc diagnosis (spec.md §4.3 "every transition is
// recorded on a trace point keyed by request address").
type TracePoint struct {
	From State
	To   State
}

// CompleteCallback is invoked once a request reaches abort-complete.
type CompleteCallback func(r *Request)

// Request is one in-flight NVMe command's context. Connection, HWQP and XRI
// identify its owner; CmndIU/ERSPIU hold the decoded wire command and the
// response template the pipeline fills in; VMID/Priority are the VMID and
// priority hints parsed from the receive-path frame control (spec.md §4.3).
type Request struct {
	mu sync.Mutex

	sentinel uint32

	State State
	trace []TracePoint

	ConnectionID uint64
	HWQPID       uint32
	XRI          uint32
	hasXRI       bool

	OXID uint16
	RXID uint16
	RPI  uint32
	SID  uint32
	DID  uint32

	CmndSeqNum uint32

	CmndIU  wire.CmndIU
	ERSPIU  wire.ERSPIU

	Aborted          bool
	SendAbts         bool
	TransferredLen   uint32

	// VMID is the 32-bit application identifier extracted from the
	// 16-byte device header of the receive-path frame, found after any
	// network/ESP header prefix the frame control indicates.
	VMID uint32
	// Priority is the CS_CTL byte captured when the frame control's
	// priority-enable bit is set.
	Priority    uint8
	HasPriority bool

	DataBuffers [][]byte

	abortCallbacks []CompleteCallback

	// index is this Request's position in its owning Pool's arena, used
	// by Pool.Free to push it back onto the free-list without a search.
	index int
}

// SetState records the transition from r's current state to next and
// updates the trace.
func (r *Request) SetState(next State) {
	r.mu.Lock()
	r.trace = append(r.trace, TracePoint{From: r.State, To: next})
	r.State = next
	r.mu.Unlock()
}

// Trace returns a snapshot of the recorded state transitions.
func (r *Request) Trace() []TracePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TracePoint, len(r.trace))
	copy(out, r.trace)
	return out
}

// AddAbortCallback registers cb to run when this request reaches
// abort-complete.
func (r *Request) AddAbortCallback(cb CompleteCallback) {
	r.mu.Lock()
	r.abortCallbacks = append(r.abortCallbacks, cb)
	r.mu.Unlock()
}

// RunAbortCallbacks invokes every registered abort callback, in
// registration order, and clears the list.
func (r *Request) RunAbortCallbacks() {
	r.mu.Lock()
	cbs := r.abortCallbacks
	r.abortCallbacks = nil
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(r)
	}
}

// IsLive reports whether r's sentinel marks it as currently allocated.
func (r *Request) IsLive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentinel == liveSentinel
}

// SetXRI records that xri has been acquired for this request.
func (r *Request) SetXRI(xri uint32) {
	r.mu.Lock()
	r.XRI = xri
	r.hasXRI = true
	r.mu.Unlock()
}

// ClearXRI marks the request as no longer holding an XRI.
func (r *Request) ClearXRI() {
	r.mu.Lock()
	r.hasXRI = false
	r.mu.Unlock()
}

// HasXRI reports whether the request currently holds an acquired XRI.
func (r *Request) HasXRI() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasXRI
}

// hasXRIAssigned is an unexported alias kept for call-site readability in
// the pipeline's execute path.
func (r *Request) hasXRIAssigned() bool { return r.HasXRI() }

// Addr returns a stable token identifying this request's storage, used as
// the trace/in-use-list key (spec.md §4.3 "trace points keyed by request
// address"). Requests live in a fixed arena (Pool.arena) and are never
// moved, so the address is stable for the request's entire lifetime.
func (r *Request) Addr() uintptr {
	return uintptr(unsafe.Pointer(r))
}
