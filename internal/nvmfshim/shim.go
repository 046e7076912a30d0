// Package nvmfshim declares the narrow interface this core expects from the
// external NVMe-oF generic layer: the collaborator that owns subsystems,
// controllers, namespaces, and the fabric Connect command. spec.md scopes
// this out as an external collaborator; this package gives it a concrete,
// mockable shape so the LS processor and pipeline can be built and tested
// against it without depending on a real NVMe-oF stack.
package nvmfshim

import "context"

// Subsystem is the minimal subsystem surface the LS processor needs:
// resolving a subnqn to a subsystem and checking a host NQN against its
// allow-list (spec.md §4.1 CASS validation). It also exposes the
// listen-address and pause/resume surface the administrative NPort-create
// handler brackets around an address add (spec.md §4.6; original_source's
// `nvmf_fc_adm_evnt_nport_create`).
type Subsystem interface {
	// NQN returns the subsystem's NQN.
	NQN() string
	// AllowsHost reports whether hostNQN is permitted to connect.
	AllowsHost(hostNQN string) bool

	// AddListenAddress admits addr as a new NVMe-oF listen address, called
	// while the subsystem is paused.
	AddListenAddress(ctx context.Context, addr ListenAddress) error
	// RemoveListenAddress withdraws addr, called while the subsystem is
	// paused, on NPort delete.
	RemoveListenAddress(ctx context.Context, addr ListenAddress) error
	// Pause suspends new Connect admission on the subsystem.
	Pause(ctx context.Context) error
	// Resume reverses Pause.
	Resume(ctx context.Context) error
}

// ListenAddress identifies the NPort a subsystem should accept fabric
// Connect requests against.
type ListenAddress struct {
	PortHandle  uint8
	NPortHandle uint16
	NodeWWN     uint64
	PortWWN     uint64
}

// SubsystemResolver resolves a subnqn to a Subsystem, and enumerates every
// currently registered subsystem for the NPort-create/delete listen-address
// fan-out (spec.md §4.6 "every compatible subsystem").
type SubsystemResolver interface {
	// Resolve returns the subsystem for subNQN, or ok=false if none exists.
	Resolve(subNQN string) (sub Subsystem, ok bool)
	// All returns every currently registered subsystem.
	All() []Subsystem
}

// ConnectRequest carries the fabric Connect command parameters the generic
// layer needs to admit a new admin or I/O queue.
type ConnectRequest struct {
	SubNQN        string
	HostNQN       string
	AssociationID uint64
	ConnectionID  uint64
	QID           uint16
	SQSize        uint16
	CntlID        uint16
}

// ConnectResult is returned once the generic layer has processed a Connect.
type ConnectResult struct {
	// ControllerID is the admitted controller's id (meaningful on QID==0).
	ControllerID uint16
	// Accepted reports whether the Connect succeeded.
	Accepted bool
	// RejectReason/RejectExplanation populate an LS reject when !Accepted,
	// using the same wire vocabulary as internal/wire's reject constants.
	RejectReason      uint8
	RejectExplanation uint8
}

// QueuePair is the generic layer's view of a connection's submission/
// completion queue pair, handed to it by "add-connection-to-poller"
// (spec.md §4.1).
type QueuePair interface {
	// ConnectionID returns the FC-NVMe connection identifier backing this qpair.
	ConnectionID() uint64
	// QID returns the NVMe-oF queue id (0 = admin).
	QID() uint16
}

// GenericLayer is the collaborator interface the LS processor and pipeline
// call into: completing a fabric Connect, accepting a new qpair, executing
// a submitted NVMe command, and tearing a qpair down.
type GenericLayer interface {
	SubsystemResolver

	// Connect performs (or schedules) the fabric Connect command admitting
	// req onto the controller; result arrives asynchronously via the
	// returned channel, mirroring the LLD's own completion-callback style.
	Connect(ctx context.Context, req ConnectRequest) (<-chan ConnectResult, error)

	// NewQueuePair hands a freshly allocated connection's qpair to the
	// generic layer ("new qpair" in spec.md §4.1's add-connection-to-poller).
	NewQueuePair(ctx context.Context, qp QueuePair) error

	// ExecuteRequest submits req for execution against the subsystem's
	// backing namespaces; completion is delivered through complete.
	ExecuteRequest(ctx context.Context, req Request, complete CompleteFunc) error

	// DestroyQueuePair tears down the generic layer's state for a
	// connection being deleted.
	DestroyQueuePair(ctx context.Context, connectionID uint64) error
}

// Request is the minimal view of an NVMe command the generic layer needs to
// execute: the raw submission queue entry plus identifying context. The
// pipeline owns the full request-context lifecycle; this is the projection
// passed across the collaborator boundary.
type Request struct {
	ConnectionID uint64
	CmndSeqNum   uint32
	SQE          [64]byte
	Data         []byte
}

// Completion is the generic layer's result for an executed request: the raw
// completion queue entry plus the number of bytes actually transferred.
type Completion struct {
	CQE            [16]byte
	TransferredLen uint32
}

// CompleteFunc is invoked by the generic layer exactly once per ExecuteRequest call.
type CompleteFunc func(Completion)
