// Package fabric implements the target-side topology the LS processor,
// pipeline, and ABTS handler operate over: ports, NPorts, remote ports,
// associations, connections, and hardware queue pairs, together with the
// ownership and lifecycle invariants spec.md §3 and §5 describe.
package fabric

// PortState is a Port's lifecycle state.
type PortState int

const (
	PortOffline PortState = iota
	PortOnline
	PortQuiesced
)

func (s PortState) String() string {
	switch s {
	case PortOffline:
		return "offline"
	case PortOnline:
		return "online"
	case PortQuiesced:
		return "quiesced"
	default:
		return "unknown"
	}
}

// ObjectState is the {created, to-be-deleted, zombie} lifecycle shared by
// NPort, remote port, association, and connection (spec.md §3).
type ObjectState int

const (
	StateCreated ObjectState = iota
	StateToBeDeleted
	StateZombie
)

func (s ObjectState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateToBeDeleted:
		return "to-be-deleted"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// HWQPState is an HWQP's lifecycle state.
type HWQPState int

const (
	HWQPOffline HWQPState = iota
	HWQPOnline
)

func (s HWQPState) String() string {
	if s == HWQPOnline {
		return "online"
	}
	return "offline"
}
