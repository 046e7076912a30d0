package lsproc

import (
	"errors"
	"fmt"

	"github.com/fcnvmf/target/internal/wire"
)

// Sentinel errors for conditions the processor itself detects before it has
// enough context to build a RejectError (malformed input too short to even
// carry a command code, pool exhaustion, etc).
var (
	ErrRequestTooShort  = errors.New("lsproc: request shorter than minimum LS frame")
	ErrUnknownLSCommand = errors.New("lsproc: unrecognized LS command code")
	ErrSlotsExhausted   = errors.New("lsproc: connection slot pool exhausted")
	ErrXRIExhausted     = errors.New("lsproc: no XRI available, parked on pending queue")
)

// RejectError carries the reason/explanation pair the processor maps
// directly onto wire.RejectPayload — no string parsing of error text, per
// the ambient error-handling convention.
type RejectError struct {
	Reason      uint8
	Explanation uint8
	Cmd         uint8
	DescLen     uint32
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("lsproc: ls_cmd=0x%x rejected: reason=0x%x explanation=0x%x", e.Cmd, e.Reason, e.Explanation)
}

// Payload builds the wire reject frame for e.
func (e *RejectError) Payload() wire.RejectPayload {
	return wire.RejectPayload{
		OriginalCmd:     e.Cmd,
		OriginalDescLen: e.DescLen,
		Reason:          e.Reason,
		Explanation:     e.Explanation,
	}
}

func reject(cmd uint8, descLen uint32, reason, explanation uint8) *RejectError {
	return &RejectError{Cmd: cmd, DescLen: descLen, Reason: reason, Explanation: explanation}
}
