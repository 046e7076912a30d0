package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the fabric, pipeline,
// LS processor, and admin event queue. Use these keys consistently across
// all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Correlation
	// ========================================================================
	KeyCorrelationID = "correlation_id" // uuid stamped by NewTraceContext

	// ========================================================================
	// Topology
	// ========================================================================
	KeyPortHandle    = "port_handle"    // 8-bit port handle
	KeyNPortID       = "nport_id"       // NPort identifier
	KeyRemotePortID  = "remote_port_id" // remote port (RPI) identifier
	KeyHWQPID        = "hwqp_id"        // hardware queue pair identifier
	KeyPollGroupID   = "poll_group_id"  // poll group identifier
	KeyAssociationID = "association_id" // NVMe-oF association identifier
	KeyConnectionID  = "connection_id"  // connection (qpair) identifier
	KeyQID           = "qid"            // queue id within the association (0 = admin)

	// ========================================================================
	// Exchange / frame identification
	// ========================================================================
	KeyOXID  = "ox_id"  // FC exchange originator id
	KeyRXID  = "rx_id"  // FC exchange responder id
	KeyRCtl  = "r_ctl"  // frame routing control
	KeyLSCmd = "ls_cmd" // LS command code

	// ========================================================================
	// Request lifecycle
	// ========================================================================
	KeyRequestState = "request_state" // pipeline state name
	KeyCmndSeqNum   = "cmnd_seq_num"  // FC-NVMe command sequence number
	KeyDataLen      = "data_len"      // requested transfer length
	KeyXRI          = "xri"           // exchange resource index allocated for the request

	// ========================================================================
	// Abort / ABTS
	// ========================================================================
	KeyAbtsContextID = "abts_context_id" // monotonic id correlating an ABTS's fan-out
	KeySendAbts      = "send_abts"       // whether the abort also issues an LLD ABTS

	// ========================================================================
	// Reject / error detail
	// ========================================================================
	KeyRejectReason      = "reject_reason"
	KeyRejectExplanation = "reject_explanation"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyEventType  = "event_type"  // admin event queue event name
	KeyAttempt    = "attempt"     // retry attempt number
)

// CorrelationID returns a slog.Attr for the request's correlation id.
func CorrelationID(id string) slog.Attr { return slog.String(KeyCorrelationID, id) }

// PortHandle returns a slog.Attr for the owning port handle.
func PortHandle(h uint8) slog.Attr { return slog.Any(KeyPortHandle, h) }

// NPortID returns a slog.Attr for an NPort identifier.
func NPortID(id uint32) slog.Attr { return slog.Any(KeyNPortID, id) }

// RemotePortID returns a slog.Attr for a remote port identifier.
func RemotePortID(id uint32) slog.Attr { return slog.Any(KeyRemotePortID, id) }

// HWQPID returns a slog.Attr for a hardware queue pair identifier.
func HWQPID(id uint32) slog.Attr { return slog.Any(KeyHWQPID, id) }

// PollGroupID returns a slog.Attr for a poll group identifier.
func PollGroupID(id uint32) slog.Attr { return slog.Any(KeyPollGroupID, id) }

// AssociationID returns a slog.Attr for an association identifier.
func AssociationID(id uint64) slog.Attr { return slog.Uint64(KeyAssociationID, id) }

// ConnectionID returns a slog.Attr for a connection identifier.
func ConnectionID(id uint64) slog.Attr { return slog.Uint64(KeyConnectionID, id) }

// QID returns a slog.Attr for a connection's queue id.
func QID(qid uint16) slog.Attr { return slog.Any(KeyQID, qid) }

// OXID returns a slog.Attr for an exchange originator id.
func OXID(id uint16) slog.Attr { return slog.Any(KeyOXID, id) }

// RXID returns a slog.Attr for an exchange responder id.
func RXID(id uint16) slog.Attr { return slog.Any(KeyRXID, id) }

// RCtl returns a slog.Attr for a frame's R_CTL value.
func RCtl(v uint8) slog.Attr { return slog.Any(KeyRCtl, v) }

// LSCmd returns a slog.Attr for an LS command code.
func LSCmd(v uint8) slog.Attr { return slog.Any(KeyLSCmd, v) }

// RequestState returns a slog.Attr for a pipeline state name.
func RequestState(s string) slog.Attr { return slog.String(KeyRequestState, s) }

// CmndSeqNum returns a slog.Attr for an FC-NVMe command sequence number.
func CmndSeqNum(n uint32) slog.Attr { return slog.Any(KeyCmndSeqNum, n) }

// DataLen returns a slog.Attr for a requested transfer length.
func DataLen(n uint32) slog.Attr { return slog.Any(KeyDataLen, n) }

// XRI returns a slog.Attr for an allocated exchange resource index.
func XRI(xri uint32) slog.Attr { return slog.Any(KeyXRI, xri) }

// AbtsContextID returns a slog.Attr for an ABTS fan-out correlation id.
func AbtsContextID(id uint64) slog.Attr { return slog.Uint64(KeyAbtsContextID, id) }

// SendAbts returns a slog.Attr for whether an abort also issues an LLD ABTS.
func SendAbts(v bool) slog.Attr { return slog.Bool(KeySendAbts, v) }

// RejectReason returns a slog.Attr for an LS/BLS reject reason code.
func RejectReason(v uint8) slog.Attr { return slog.Any(KeyRejectReason, v) }

// RejectExplanation returns a slog.Attr for an LS/BLS reject explanation code.
func RejectExplanation(v uint8) slog.Attr { return slog.Any(KeyRejectExplanation, v) }

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// EventType returns a slog.Attr for an admin event queue event name.
func EventType(name string) slog.Attr { return slog.String(KeyEventType, name) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }
