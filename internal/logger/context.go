package logger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for TraceContext in context.Context
var logContextKey = contextKey{}

// TraceContext holds request-scoped logging context for a single FC-NVMe
// exchange as it moves from the receive path through the pipeline. Fields
// are populated incrementally: a frame arrives with only HWQPID known, gains
// ConnectionID once mapped through the connection-id hash, and AssociationID
// once the connection is resolved to its owning association.
type TraceContext struct {
	CorrelationID string    // uuid stamped by NewTraceContext
	HWQPID        uint32    // owning hardware queue pair
	PortHandle    uint8     // owning port handle
	AssociationID uint64    // 0 until the connection is resolved
	ConnectionID  uint64    // 0 before connection lookup
	OXID          uint16    // exchange originator id, for LS/ABTS correlation
	StartTime     time.Time // for duration calculation
}

// WithContext returns a new context carrying tc.
func WithContext(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, logContextKey, tc)
}

// FromContext retrieves the TraceContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *TraceContext {
	if ctx == nil {
		return nil
	}
	tc, _ := ctx.Value(logContextKey).(*TraceContext)
	return tc
}

// NewTraceContext creates a TraceContext for a newly-arrived frame on hwqpID,
// stamping a fresh correlation id.
func NewTraceContext(hwqpID uint32) *TraceContext {
	return &TraceContext{
		CorrelationID: uuid.NewString(),
		HWQPID:        hwqpID,
		StartTime:     time.Now(),
	}
}

// Clone returns a copy of tc.
func (tc *TraceContext) Clone() *TraceContext {
	if tc == nil {
		return nil
	}
	clone := *tc
	return &clone
}

// WithAssociation returns a copy with the association/connection identifiers set.
func (tc *TraceContext) WithAssociation(associationID, connectionID uint64) *TraceContext {
	clone := tc.Clone()
	if clone != nil {
		clone.AssociationID = associationID
		clone.ConnectionID = connectionID
	}
	return clone
}

// WithExchange returns a copy with the OX_ID set.
func (tc *TraceContext) WithExchange(oxid uint16) *TraceContext {
	clone := tc.Clone()
	if clone != nil {
		clone.OXID = oxid
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (tc *TraceContext) DurationMs() float64 {
	if tc == nil || tc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(tc.StartTime).Microseconds()) / 1000.0
}
