package fabric

import "sync"

// AssocHostIDLen is the length of an association's host identifier, per the
// FC-NVMe association-create descriptor (internal/wire.AssocHostIDLen).
const AssocHostIDLen = 16

// DisconnectBufferPair holds pre-built LS disconnect buffers cached on an
// association. When an association is deleted while its port is online,
// the delete path transmits Accept to the initiator as a
// single-request-single-response LS Disconnect on the LS HWQP. Reject is
// carried alongside but is not read by any code path.
type DisconnectBufferPair struct {
	Accept []byte
	Reject []byte
}

// Association represents an NVMe-oF association: one admin connection plus
// zero or more I/O connections, scoped to a host NQN / subsystem NQN pair on
// a single NPort/RemotePort. The association ID equals the admin
// connection's connection ID (spec.md §3).
//
// Invariant: an association may be freed only once its connection list is
// empty (spec.md §3).
type Association struct {
	mu sync.Mutex

	ID uint64

	NPort      *NPort
	RemotePort *RemotePort

	HostNQN     string
	SubsystemNQN string
	HostID      [AssocHostIDLen]byte

	State ObjectState

	// ERSPRatio is the negotiated enhanced-response ratio: every Nth
	// successful I/O on this association's connections gets a full ERSP
	// instead of a bare SQ-head-advance ack (spec.md §4.3).
	ERSPRatio uint16

	AdminConnection *Connection

	connections   []*Connection
	freeConnSlots []uint16

	// CachedDisconnect holds the disconnect buffers the delete-association
	// path transmits as an LS Disconnect on teardown; nil means no LS
	// Disconnect is sent.
	CachedDisconnect *DisconnectBufferPair

	// deleteCallbacks accumulates callers waiting on a's delete to finish,
	// so a second delete-association call on an already-deleting
	// association can register and return rather than re-entering the
	// teardown sequence (spec.md §4.2 "idempotent; a second call registers
	// a callback and returns").
	deleteCallbacks []func()
}

// NewAssociation creates an Association in the created state, seeded with
// qidCapacity free connection slots (QIDs 1..qidCapacity; QID 0 is the
// admin connection and is not tracked as a free slot).
func NewAssociation(id uint64, nport *NPort, rport *RemotePort, hostNQN, subNQN string, hostID [AssocHostIDLen]byte, qidCapacity uint16) *Association {
	a := &Association{
		ID:           id,
		NPort:        nport,
		RemotePort:   rport,
		HostNQN:      hostNQN,
		SubsystemNQN: subNQN,
		HostID:       hostID,
		State:        StateCreated,
	}
	a.freeConnSlots = make([]uint16, qidCapacity)
	for i := range a.freeConnSlots {
		a.freeConnSlots[i] = uint16(i + 1)
	}
	return a
}

// AllocQID pops a free QID for a new I/O connection. ok is false if no QID
// slots remain.
func (a *Association) AllocQID() (qid uint16, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.freeConnSlots)
	if n == 0 {
		return 0, false
	}
	qid = a.freeConnSlots[n-1]
	a.freeConnSlots = a.freeConnSlots[:n-1]
	return qid, true
}

// ClaimQID removes a specific qid from the free-slot list, for honoring the
// qid a Create Connection request explicitly asked for. ok is false if qid
// is not currently free (already in use, or out of range).
func (a *Association) ClaimQID(qid uint16) (ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, free := range a.freeConnSlots {
		if free == qid {
			a.freeConnSlots = append(a.freeConnSlots[:i], a.freeConnSlots[i+1:]...)
			return true
		}
	}
	return false
}

// ReleaseQID returns qid to the free-slot list, making it available for a
// future CreateConnection on this association.
func (a *Association) ReleaseQID(qid uint16) {
	a.mu.Lock()
	a.freeConnSlots = append(a.freeConnSlots, qid)
	a.mu.Unlock()
}

// AddConnection registers c as belonging to a.
func (a *Association) AddConnection(c *Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connections = append(a.connections, c)
}

// RemoveConnection unregisters c.
func (a *Association) RemoveConnection(c *Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.connections {
		if existing == c {
			a.connections = append(a.connections[:i], a.connections[i+1:]...)
			return
		}
	}
}

// Connections returns a snapshot of the association's current connections.
func (a *Association) Connections() []*Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Connection, len(a.connections))
	copy(out, a.connections)
	return out
}

// ConnectionCount returns the number of connections currently on a.
func (a *Association) ConnectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.connections)
}

// CanFree reports whether a may be freed: no connections remain on it. The
// free-slot list is not consulted.
func (a *Association) CanFree() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.connections) == 0
}

// MarkToBeDeleted transitions a from created to to-be-deleted. It reports
// true only for the call that actually performs the transition; a second
// concurrent or later call returns false so the caller knows to fall back to
// AddDeleteCallback instead of re-running the teardown sequence.
func (a *Association) MarkToBeDeleted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State != StateCreated {
		return false
	}
	a.State = StateToBeDeleted
	return true
}

// MarkZombie transitions a to its terminal state, once teardown completes.
func (a *Association) MarkZombie() {
	a.mu.Lock()
	a.State = StateZombie
	a.mu.Unlock()
}

// AddDeleteCallback registers cb to run once a's delete completes. If a has
// already reached the zombie state, cb runs inline instead of being queued.
func (a *Association) AddDeleteCallback(cb func()) {
	a.mu.Lock()
	if a.State == StateZombie {
		a.mu.Unlock()
		cb()
		return
	}
	a.deleteCallbacks = append(a.deleteCallbacks, cb)
	a.mu.Unlock()
}

// RunDeleteCallbacks invokes and discards every registered delete callback,
// in registration order (spec.md §4.2 "fires each registered
// delete-completion callback").
func (a *Association) RunDeleteCallbacks() {
	a.mu.Lock()
	cbs := a.deleteCallbacks
	a.deleteCallbacks = nil
	a.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
