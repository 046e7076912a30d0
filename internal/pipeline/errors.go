package pipeline

import "errors"

// Sentinel errors for the receive/execute paths (spec.md §4.3).
var (
	ErrNoXRI             = errors.New("pipeline: no XRI available, try again")
	ErrNoBuffers         = errors.New("pipeline: no data buffers available, try again")
	ErrConnectionUnknown = errors.New("pipeline: connection id not found on hwqp")
	ErrBadCmndIU         = errors.New("pipeline: cmnd_iu failed well-known-byte validation")
	ErrSIDDIDMismatch    = errors.New("pipeline: frame S_ID/D_ID does not match connection binding")
	ErrNotActive         = errors.New("pipeline: association or connection not in created state")
	ErrDataLenTooLarge   = errors.New("pipeline: declared data length exceeds configured max I/O size")
	ErrPoolExhausted     = errors.New("pipeline: connection request pool exhausted")
)
