package fabric

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/fcnvmf/target/internal/reqpool"
)

// connShardCount is the number of shards the HWQP's connection-id and
// remote-port-id tables are split into. Each shard has its own mutex so
// lookups from independent connections don't serialize against each other
// on a busy queue.
const connShardCount = 16

type connShard struct {
	mu    sync.Mutex
	conns map[uint64]*Connection
}

type rportShard struct {
	mu    sync.Mutex
	rports map[uint64]*RemotePort
}

// HWQP is one hardware queue pair: the LLD-level unit of work a poll group
// drives. It owns the connection-id → connection and remote-port-id →
// remote-port lookup tables consulted on every received frame, sharded by
// xxhash of the key so a busy HWQP's lookups don't all contend one mutex
// (SPEC_FULL.md domain-stack wiring).
type HWQP struct {
	ID    uint32
	Port  *Port
	State HWQPState

	// PollGroup is an opaque back-pointer to the owning poll group,
	// typed any to avoid an import cycle between fabric and pollgroup.
	PollGroup any

	// LLDHandle is the opaque queue handle the LLD driver returned from
	// InitQueue, typed any to avoid fabric depending on internal/lld.
	LLDHandle any

	Counters Counters

	connShards  [connShardCount]connShard
	rportShards [connShardCount]rportShard

	mu            sync.Mutex
	inUseRequests []uintptr
	syncCallbacks []func()
	pendingLS     []uintptr
	pendingFCP    []uintptr

	// requests indexes in-use requests by their stable address, so the
	// ABTS handler's first pass can correlate by (RPI, OX_ID) without a
	// second side table (spec.md §4.5).
	requests map[uintptr]*reqpool.Request
}

// Counters holds an HWQP's running error/drop counters, surfaced through
// internal/metrics.HWQPMetrics by the owning poll group.
type Counters struct {
	NoXRI            uint64
	BufferAllocErr   uint64
	NVMeCmdIUErr     uint64
	NVMeCmdXferErr   uint64
	InvalidConnErr   uint64
	RPortInvalid     uint64
	NPortInvalid     uint64
	UnknownFrame     uint64
	NumAborted       uint64
	NumAbtsSent      uint64
}

// NewHWQP creates an HWQP in the offline state, owned by port.
func NewHWQP(id uint32, port *Port) *HWQP {
	h := &HWQP{
		ID:    id,
		Port:  port,
		State: HWQPOffline,
	}
	for i := range h.connShards {
		h.connShards[i].conns = make(map[uint64]*Connection)
	}
	for i := range h.rportShards {
		h.rportShards[i].rports = make(map[uint64]*RemotePort)
	}
	return h
}

func connShardIndex(connID uint64) int {
	return int(xxhash.Sum64(connIDBytes(connID)) % connShardCount)
}

func connIDBytes(v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return b[:]
}

// AddConnection registers c in the connection-id table.
func (h *HWQP) AddConnection(c *Connection) {
	s := &h.connShards[connShardIndex(c.ID)]
	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()
}

// RemoveConnection unregisters the connection with the given id.
func (h *HWQP) RemoveConnection(connID uint64) {
	s := &h.connShards[connShardIndex(connID)]
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

// LookupConnection returns the connection with the given id, if any is
// currently registered.
func (h *HWQP) LookupConnection(connID uint64) (*Connection, bool) {
	s := &h.connShards[connShardIndex(connID)]
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[connID]
	return c, ok
}

func rportShardIndex(id RemotePortID) int {
	return int(id.Hash() % connShardCount)
}

// AddRemotePort registers rp in the remote-port-id table, keyed by id.
func (h *HWQP) AddRemotePort(id RemotePortID, rp *RemotePort) {
	s := &h.rportShards[rportShardIndex(id)]
	s.mu.Lock()
	s.rports[id.Hash()] = rp
	s.mu.Unlock()
}

// RemoveRemotePort unregisters the remote port keyed by id.
func (h *HWQP) RemoveRemotePort(id RemotePortID) {
	s := &h.rportShards[rportShardIndex(id)]
	s.mu.Lock()
	delete(s.rports, id.Hash())
	s.mu.Unlock()
}

// LookupRemotePort returns the remote port keyed by id, if registered.
func (h *HWQP) LookupRemotePort(id RemotePortID) (*RemotePort, bool) {
	s := &h.rportShards[rportShardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.rports[id.Hash()]
	return rp, ok
}

// MarkRequestInUse records reqAddr as in-use on this HWQP (mirrors the
// per-connection in-use list, used by the abort-fan-out path that walks an
// HWQP's requests without going through a connection first).
func (h *HWQP) MarkRequestInUse(reqAddr uintptr) {
	h.mu.Lock()
	h.inUseRequests = append(h.inUseRequests, reqAddr)
	h.mu.Unlock()
}

// ClearRequestInUse removes reqAddr from the HWQP's in-use list.
func (h *HWQP) ClearRequestInUse(reqAddr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.inUseRequests {
		if existing == reqAddr {
			h.inUseRequests = append(h.inUseRequests[:i], h.inUseRequests[i+1:]...)
			return
		}
	}
}

// InUseRequests returns a snapshot of the HWQP's in-use request addresses.
func (h *HWQP) InUseRequests() []uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uintptr, len(h.inUseRequests))
	copy(out, h.inUseRequests)
	return out
}

// TrackRequest marks req as in-use on this HWQP, both in the address list
// (MarkRequestInUse) and in the pointer index the ABTS handler's first pass
// searches.
func (h *HWQP) TrackRequest(req *reqpool.Request) {
	h.MarkRequestInUse(req.Addr())
	h.mu.Lock()
	if h.requests == nil {
		h.requests = make(map[uintptr]*reqpool.Request)
	}
	h.requests[req.Addr()] = req
	h.mu.Unlock()
}

// UntrackRequest reverses TrackRequest.
func (h *HWQP) UntrackRequest(req *reqpool.Request) {
	h.ClearRequestInUse(req.Addr())
	h.mu.Lock()
	delete(h.requests, req.Addr())
	h.mu.Unlock()
}

// FindRequestByExchange looks up an in-use request on this HWQP by its RPI
// and OX_ID, the correlation key the ABTS handler's first pass uses (spec.md
// §4.5 "looks up the request by (RPI, OX_ID) in its in-use list").
func (h *HWQP) FindRequestByExchange(rpi uint32, oxid uint16) (*reqpool.Request, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, req := range h.requests {
		if req.RPI == rpi && req.OXID == oxid {
			return req, true
		}
	}
	return nil, false
}

// FindRequestByXRI looks up an in-use request on this HWQP by its acquired
// exchange resource index, the key the poll loop correlates an
// XferReadyComplete/ResponseComplete/AbortComplete event against.
func (h *HWQP) FindRequestByXRI(xri uint32) (*reqpool.Request, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, req := range h.requests {
		if req.HasXRI() && req.XRI == xri {
			return req, true
		}
	}
	return nil, false
}

// AddSyncCallback registers cb to run when the HWQP's next queue-sync
// marker completes (the ABTS handler's second pass waits on these).
func (h *HWQP) AddSyncCallback(cb func()) {
	h.mu.Lock()
	h.syncCallbacks = append(h.syncCallbacks, cb)
	h.mu.Unlock()
}

// RunAndClearSyncCallbacks invokes and discards every pending sync
// callback, in registration order.
func (h *HWQP) RunAndClearSyncCallbacks() {
	h.mu.Lock()
	cbs := h.syncCallbacks
	h.syncCallbacks = nil
	h.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// AddPendingLS records reqAddr as a Link Service request parked awaiting a
// free XRI (spec.md §4.1 "pending queue").
func (h *HWQP) AddPendingLS(reqAddr uintptr) {
	h.mu.Lock()
	h.pendingLS = append(h.pendingLS, reqAddr)
	h.mu.Unlock()
}

// PopPendingLS removes and returns the oldest pending LS request, if any.
func (h *HWQP) PopPendingLS() (reqAddr uintptr, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pendingLS) == 0 {
		return 0, false
	}
	reqAddr = h.pendingLS[0]
	h.pendingLS = h.pendingLS[1:]
	return reqAddr, true
}

// RequestByAddr resolves an in-use request by its stable address, reusing
// the same index TrackRequest populates (spec.md §4.5's (RPI, OX_ID) lookup
// table doubles as the pending-FCP queue's back-reference).
func (h *HWQP) RequestByAddr(addr uintptr) (*reqpool.Request, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.requests[addr]
	return req, ok
}

// AddPendingFCP records reqAddr as an FCP I/O request parked awaiting a free
// XRI or data buffer (spec.md §4.3 "Execute": resource exhaustion appends
// the request to the pending-buffer queue and enters state pending). The
// request stays tracked in h.requests; it is not freed until it executes
// successfully or is aborted.
func (h *HWQP) AddPendingFCP(reqAddr uintptr) {
	h.mu.Lock()
	h.pendingFCP = append(h.pendingFCP, reqAddr)
	h.mu.Unlock()
}

// PopPendingFCP removes and returns the oldest pending FCP request, if any.
func (h *HWQP) PopPendingFCP() (reqAddr uintptr, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pendingFCP) == 0 {
		return 0, false
	}
	reqAddr = h.pendingFCP[0]
	h.pendingFCP = h.pendingFCP[1:]
	return reqAddr, true
}

// RemovePendingFCP drops reqAddr from the pending-FCP queue, if present,
// without regard to order (used when an abort reaches a parked request
// before it is ever retried).
func (h *HWQP) RemovePendingFCP(reqAddr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.pendingFCP {
		if existing == reqAddr {
			h.pendingFCP = append(h.pendingFCP[:i], h.pendingFCP[i+1:]...)
			return
		}
	}
}
