package fabric

import (
	"sync"

	"github.com/fcnvmf/target/internal/reqpool"
)

// hwqpIDBits is the number of low bits of a connection ID reserved for the
// owning HWQP's index, letting any HWQP recover its owner from the
// connection ID alone without a side table (spec.md §3 "connection id
// encodes owning HWQP in low bits").
const hwqpIDBits = 16

// ConnectionID builds a 64-bit connection identifier encoding hwqpID in its
// low bits and a per-HWQP sequence number in the remaining high bits.
func ConnectionID(hwqpID uint32, seq uint64) uint64 {
	return seq<<hwqpIDBits | uint64(hwqpID)&(1<<hwqpIDBits-1)
}

// HWQPIDOf recovers the owning HWQP's ID that was encoded into connID by
// ConnectionID.
func HWQPIDOf(connID uint64) uint32 {
	return uint32(connID & (1<<hwqpIDBits - 1))
}

// Connection is a single NVMe-oF queue-pair connection: the admin
// connection (QID 0) or an I/O connection (QID 1..N) belonging to an
// Association. A connection's 64-bit ID encodes its owning HWQP in the low
// bits (spec.md §3).
//
// Invariant: a connection may be freed only once its in-use request list
// and fused-waiting list are both empty (spec.md §3).
type Connection struct {
	mu sync.Mutex

	ID  uint64
	QID uint16

	MaxQueueDepth uint16
	SQHead        uint16

	// RespCount and CmndSeqNum track the enhanced-response ratio and the
	// per-connection command sequence number the pipeline stamps into
	// every CQE (spec.md §4.3).
	RespCount  uint64
	RespSeqNo  uint32
	CmndSeqNum uint32

	HWQP        *HWQP
	Association *Association
	ReqPool     *reqpool.Pool

	RPI uint32
	SID uint32 // 24-bit fabric S_ID
	DID uint32 // 24-bit fabric D_ID

	State ObjectState

	inUseRequests []uintptr
	fusedWaiting  []uintptr

	// requests indexes in-use requests by address, for the connection
	// delete path's abort fan-out (spec.md §4.4 "connection delete fans
	// out to each in-use request").
	requests map[uintptr]*reqpool.Request
}

// NewConnection creates a Connection in the created state, owned by hwqp
// and assoc.
func NewConnection(id uint64, qid uint16, maxQueueDepth uint16, hwqp *HWQP, assoc *Association, rpi, sid, did uint32) *Connection {
	return &Connection{
		ID:            id,
		QID:           qid,
		MaxQueueDepth: maxQueueDepth,
		HWQP:          hwqp,
		Association:   assoc,
		RPI:           rpi,
		SID:           sid & 0x00FFFFFF,
		DID:           did & 0x00FFFFFF,
		State:         StateCreated,
	}
}

// MarkRequestInUse records reqAddr (the request context's stable address,
// used as an opaque token) as in-use on c.
func (c *Connection) MarkRequestInUse(reqAddr uintptr) {
	c.mu.Lock()
	c.inUseRequests = append(c.inUseRequests, reqAddr)
	c.mu.Unlock()
}

// ClearRequestInUse removes reqAddr from c's in-use list.
func (c *Connection) ClearRequestInUse(reqAddr uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.inUseRequests {
		if existing == reqAddr {
			c.inUseRequests = append(c.inUseRequests[:i], c.inUseRequests[i+1:]...)
			return
		}
	}
}

// InUseCount returns the number of requests currently in use on c.
func (c *Connection) InUseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inUseRequests)
}

// TrackRequest marks req as in-use on c, both in the address list
// (MarkRequestInUse) and in the pointer index the connection-delete fan-out
// walks.
func (c *Connection) TrackRequest(req *reqpool.Request) {
	c.MarkRequestInUse(req.Addr())
	c.mu.Lock()
	if c.requests == nil {
		c.requests = make(map[uintptr]*reqpool.Request)
	}
	c.requests[req.Addr()] = req
	c.mu.Unlock()
}

// UntrackRequest reverses TrackRequest.
func (c *Connection) UntrackRequest(req *reqpool.Request) {
	c.ClearRequestInUse(req.Addr())
	c.mu.Lock()
	delete(c.requests, req.Addr())
	c.mu.Unlock()
}

// InUseRequestsSnapshot returns every request currently tracked in-use on c,
// the set the connection-delete path aborts one by one (spec.md §4.4).
func (c *Connection) InUseRequestsSnapshot() []*reqpool.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*reqpool.Request, 0, len(c.requests))
	for _, req := range c.requests {
		out = append(out, req)
	}
	return out
}

// AddFusedWaiting records reqAddr as waiting on its fused partner.
func (c *Connection) AddFusedWaiting(reqAddr uintptr) {
	c.mu.Lock()
	c.fusedWaiting = append(c.fusedWaiting, reqAddr)
	c.mu.Unlock()
}

// RemoveFusedWaiting removes reqAddr from the fused-waiting list.
func (c *Connection) RemoveFusedWaiting(reqAddr uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.fusedWaiting {
		if existing == reqAddr {
			c.fusedWaiting = append(c.fusedWaiting[:i], c.fusedWaiting[i+1:]...)
			return
		}
	}
}

// CanFree reports whether c may be freed: no in-use requests and nothing
// waiting on a fused partner.
func (c *Connection) CanFree() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inUseRequests) == 0 && len(c.fusedWaiting) == 0
}

// NextCmndSeqNum advances and returns c's command sequence number.
func (c *Connection) NextCmndSeqNum() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CmndSeqNum++
	return c.CmndSeqNum
}

// NextRespSeqNo advances and returns c's response sequence number, used as
// an ERSP_IU's rsn field (spec.md §4.3 "taken from the connection's
// monotonically incrementing counter").
func (c *Connection) NextRespSeqNo() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RespSeqNo++
	return c.RespSeqNo
}

// AdvanceSQHead advances the submission-queue head, wrapping at
// MaxQueueDepth.
func (c *Connection) AdvanceSQHead() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SQHead++
	if c.SQHead >= c.MaxQueueDepth {
		c.SQHead = 0
	}
	return c.SQHead
}

// ShouldSendERSP reports whether the completion currently being prepared
// should be an enhanced response rather than a bare SQ-head-advance ack,
// per the association's negotiated ERSP ratio.
func (c *Connection) ShouldSendERSP() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RespCount++
	ratio := uint64(c.Association.ERSPRatio)
	if ratio == 0 {
		ratio = 1
	}
	return c.RespCount%ratio == 0
}
