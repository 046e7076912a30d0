package fabric

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Port is the top of the ownership hierarchy: one physical (or virtual) FC
// port, identified by an 8-bit port handle. A Port owns a dedicated LS HWQP
// plus an array of I/O HWQPs, and an ordered list of NPorts created on it.
//
// Invariant: a Port may not transition to PortOffline while any NPort
// remains (spec.md §3).
type Port struct {
	mu sync.Mutex

	Handle uint8
	State  PortState

	LSHWQP  *HWQP
	IOHWQPs []*HWQP

	nports []*NPort
}

// NewPort creates a Port in the offline state with lsHWQP as its dedicated
// LS queue and ioHWQPs as its I/O queues.
func NewPort(handle uint8, lsHWQP *HWQP, ioHWQPs []*HWQP) *Port {
	return &Port{
		Handle:  handle,
		State:   PortOffline,
		LSHWQP:  lsHWQP,
		IOHWQPs: ioHWQPs,
	}
}

// AddNPort registers n as owned by p.
func (p *Port) AddNPort(n *NPort) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nports = append(p.nports, n)
}

// RemoveNPort unregisters n. It is a no-op if n is not owned by p.
func (p *Port) RemoveNPort(n *NPort) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.nports {
		if existing == n {
			p.nports = append(p.nports[:i], p.nports[i+1:]...)
			return
		}
	}
}

// NPortCount returns the number of NPorts currently owned by p.
func (p *Port) NPortCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nports)
}

// CanGoOffline reports whether p may transition to PortOffline: it must own
// no NPorts.
func (p *Port) CanGoOffline() bool {
	return p.NPortCount() == 0
}

// NPortID identifies an NPort by the port that owns it plus the NPort's own
//16-bit handle, scoped to that port.
type NPortID struct {
	PortHandle  uint8
	NPortHandle uint16
}

// NPort is a fabric-visible N_Port instance created on a Port. Identified by
// (port handle, 16-bit NPort handle). Carries a 24-bit fabric D_ID and the
// node/port WWNs presented to the fabric.
//
// Invariant: an NPort may be freed only once it owns no remote ports and no
// associations (spec.md §3).
type NPort struct {
	mu sync.Mutex

	ID NPortID

	DID      uint32 // 24-bit fabric D_ID, low 24 bits significant
	NodeWWN  uint64
	PortWWN  uint64

	State ObjectState

	remotePorts  []*RemotePort
	associations []*Association
}

// NewNPort creates an NPort in the created state.
func NewNPort(id NPortID, did uint32, nodeWWN, portWWN uint64) *NPort {
	return &NPort{
		ID:      id,
		DID:     did & 0x00FFFFFF,
		NodeWWN: nodeWWN,
		PortWWN: portWWN,
		State:   StateCreated,
	}
}

// AddRemotePort registers rp as owned by n.
func (n *NPort) AddRemotePort(rp *RemotePort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remotePorts = append(n.remotePorts, rp)
}

// RemoveRemotePort unregisters rp.
func (n *NPort) RemoveRemotePort(rp *RemotePort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.remotePorts {
		if existing == rp {
			n.remotePorts = append(n.remotePorts[:i], n.remotePorts[i+1:]...)
			return
		}
	}
}

// AddAssociation registers a as owned by n.
func (n *NPort) AddAssociation(a *Association) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.associations = append(n.associations, a)
}

// RemoveAssociation unregisters a.
func (n *NPort) RemoveAssociation(a *Association) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.associations {
		if existing == a {
			n.associations = append(n.associations[:i], n.associations[i+1:]...)
			return
		}
	}
}

// CanFree reports whether n may transition out of existence: no remote
// ports and no associations remain.
func (n *NPort) CanFree() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.remotePorts) == 0 && len(n.associations) == 0
}

// RemotePorts returns a snapshot of n's current remote ports.
func (n *NPort) RemotePorts() []*RemotePort {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*RemotePort, len(n.remotePorts))
	copy(out, n.remotePorts)
	return out
}

// Associations returns a snapshot of n's current associations.
func (n *NPort) Associations() []*Association {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Association, len(n.associations))
	copy(out, n.associations)
	return out
}

// Deleted reports whether n has reached the zombie state, at which point the
// ABTS handler emits nothing rather than a BA_ACC/BA_RJT (spec.md §4.5).
func (n *NPort) Deleted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.State == StateZombie
}

// RemotePortID identifies a remote port by its owning NPort plus its fabric
// S_ID and RPI, the triple the LLD reports on login.
type RemotePortID struct {
	NPort *NPort
	SID   uint32 // 24-bit fabric S_ID, low 24 bits significant
	RPI   uint32
}

// Hash returns an xxhash of id, used to shard RemotePort lookup tables
// across an HWQP's remote-port-id map.
func (id RemotePortID) Hash() uint64 {
	var buf [12]byte
	putU32(buf[0:4], uint32(id.NPort.ID.PortHandle)<<16|uint32(id.NPort.ID.NPortHandle))
	putU32(buf[4:8], id.SID)
	putU32(buf[8:12], id.RPI)
	return xxhash.Sum64(buf[:])
}

// RemotePort represents a remote initiator port logged into an NPort.
// Identified by (NPort, S_ID, RPI). Carries the node/port names the remote
// port presented at login and a reference count of associations using it.
//
// Invariant: a remote port may be freed only once its association refcount
// reaches zero (spec.md §3).
type RemotePort struct {
	mu sync.Mutex

	ID NPortID
	RemotePortID

	NodeName uint64
	PortName uint64

	State ObjectState

	associationRefs int
}

// NewRemotePort creates a RemotePort in the created state.
func NewRemotePort(id RemotePortID, nodeName, portName uint64) *RemotePort {
	return &RemotePort{
		RemotePortID: id,
		NodeName:     nodeName,
		PortName:     portName,
		State:        StateCreated,
	}
}

// Ref increments the association refcount.
func (rp *RemotePort) Ref() {
	rp.mu.Lock()
	rp.associationRefs++
	rp.mu.Unlock()
}

// Unref decrements the association refcount. It does not clamp below zero;
// callers double-unreffing is a caller bug, not a RemotePort concern.
func (rp *RemotePort) Unref() {
	rp.mu.Lock()
	rp.associationRefs--
	rp.mu.Unlock()
}

// CanFree reports whether rp may be freed: no association references it.
func (rp *RemotePort) CanFree() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.associationRefs == 0
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
