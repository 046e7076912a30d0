package lld

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingDriver fails every PostResponse call; the rest of Driver is the
// embedded nil interface, which these tests never call.
type failingDriver struct{ Driver }

func (failingDriver) PostResponse(ctx context.Context, q QueueHandle, xri uint32, payload []byte) error {
	return errors.New("transmit failed")
}

func TestBreakerDriverTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreakerDriver(failingDriver{})
	q := "hwqp-0"

	for i := 0; i < BreakerConsecutiveFailures; i++ {
		err := b.PostResponse(context.Background(), q, 1, nil)
		assert.Error(t, err)
	}

	require.Equal(t, "open", b.BreakerState(q))

	err := b.PostResponse(context.Background(), q, 1, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerDriverIsolatesQueueHandles(t *testing.T) {
	b := NewBreakerDriver(failingDriver{})
	for i := 0; i < BreakerConsecutiveFailures; i++ {
		_ = b.PostResponse(context.Background(), "hwqp-a", 1, nil)
	}
	assert.Equal(t, "open", b.BreakerState("hwqp-a"))
	assert.Equal(t, "closed", b.BreakerState("hwqp-b"))
}
