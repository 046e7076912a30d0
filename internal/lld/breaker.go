package lld

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fcnvmf/target/internal/logger"
)

// BreakerConsecutiveFailures is the number of consecutive transmit failures
// on a single HWQP before its breaker opens.
const BreakerConsecutiveFailures = 5

// BreakerOpenTimeout is how long a tripped breaker stays open before
// allowing a single probe request through.
const BreakerOpenTimeout = 30 * time.Second

// BreakerDriver wraps a Driver, circuit-breaking the transmit calls
// (PostResponse, PostLSResponse, PostBLSResponse) per HWQP so a physical
// queue wedged on repeated transmit failures stops being hammered and
// instead fails fast — the caller's existing "mark connection to-be-deleted"
// disposition (spec.md §7 "transport send failure") takes it from there.
type BreakerDriver struct {
	Driver
	mu       sync.Mutex
	breakers map[QueueHandle]*gobreaker.CircuitBreaker
	names    map[QueueHandle]string
}

// NewBreakerDriver wraps d. QueueHandle values must be comparable (the
// handles InitQueue returns in practice are pointers or small integers).
func NewBreakerDriver(d Driver) *BreakerDriver {
	return &BreakerDriver{
		Driver:   d,
		breakers: make(map[QueueHandle]*gobreaker.CircuitBreaker),
		names:    make(map[QueueHandle]string),
	}
}

func (b *BreakerDriver) breakerFor(q QueueHandle) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[q]; ok {
		return cb
	}
	name := fmt.Sprintf("hwqp-transmit-%d", len(b.breakers))
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= BreakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("hwqp transmit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	b.breakers[q] = cb
	b.names[q] = name
	return cb
}

func (b *BreakerDriver) execute(q QueueHandle, fn func() error) error {
	cb := b.breakerFor(q)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// PostResponse transmits through q's breaker.
func (b *BreakerDriver) PostResponse(ctx context.Context, q QueueHandle, xri uint32, payload []byte) error {
	return b.execute(q, func() error { return b.Driver.PostResponse(ctx, q, xri, payload) })
}

// PostLSResponse transmits through q's breaker.
func (b *BreakerDriver) PostLSResponse(ctx context.Context, q QueueHandle, oxid uint16, payload []byte) error {
	return b.execute(q, func() error { return b.Driver.PostLSResponse(ctx, q, oxid, payload) })
}

// PostBLSResponse transmits through q's breaker.
func (b *BreakerDriver) PostBLSResponse(ctx context.Context, q QueueHandle, oxid, rxid uint16, payload []byte) error {
	return b.execute(q, func() error { return b.Driver.PostBLSResponse(ctx, q, oxid, rxid, payload) })
}

// BreakerState reports the current breaker state for q, or "closed" if no
// breaker has been created for it yet.
func (b *BreakerDriver) BreakerState(q QueueHandle) string {
	b.mu.Lock()
	cb, ok := b.breakers[q]
	b.mu.Unlock()
	if !ok {
		return "closed"
	}
	return cb.State().String()
}
