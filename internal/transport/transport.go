// Package transport wraps the narrow slice of internal/lld.Driver calls that
// are allowed to retry: bringing a quiesced HWQP back online and recovering
// one after an error, both of which the LLD may transiently fail on (a ring
// still draining, firmware mid-reset). Every other Driver call is one-shot;
// retrying a post/abort would duplicate a transmit on the wire.
package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
)

// BringupConfig tunes the exponential backoff used to retry a queue
// online/reinit attempt. The zero value is not usable; construct with
// DefaultBringupConfig and override as needed.
type BringupConfig struct {
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
	// MaxInterval caps how large a single retry delay can grow to.
	MaxInterval time.Duration
	// MaxElapsedTime bounds the whole retry loop; zero means retry
	// forever, matching spec.md's "HWQP online is a best-effort operation
	// an administrator re-drives" stance.
	MaxElapsedTime time.Duration
	// Multiplier is the exponential backoff growth factor.
	Multiplier float64
	// RandomizationFactor adds jitter to avoid every HWQP on a port
	// retrying in lockstep after a shared transient failure.
	RandomizationFactor float64
}

// DefaultBringupConfig returns the backoff parameters used when a caller
// doesn't need different tuning: 1s initial, 16s cap, retry indefinitely.
func DefaultBringupConfig() BringupConfig {
	return BringupConfig{
		InitialInterval:     time.Second,
		MaxInterval:         16 * time.Second,
		MaxElapsedTime:      0,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

func (c BringupConfig) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.MaxInterval = c.MaxInterval
	bo.MaxElapsedTime = c.MaxElapsedTime
	bo.Multiplier = c.Multiplier
	bo.RandomizationFactor = c.RandomizationFactor
	return bo
}

// Bringup retries internal/lld.Driver's online/reinit calls against
// exponential backoff instead of a tight loop, so a flaky HWQP is driven
// back up without hammering the LLD (spec.md §11 domain-stack wiring). The
// cmd/fcnvmfd wiring uses Online for each I/O HWQP before port-online; the
// admin queue's port-online and port-reset handlers call the driver directly
// and do not go through Bringup.
type Bringup struct {
	Driver lld.Driver
	Config BringupConfig
}

// NewBringup creates a Bringup using cfg. Pass DefaultBringupConfig() when no
// custom tuning is needed.
func NewBringup(driver lld.Driver, cfg BringupConfig) *Bringup {
	return &Bringup{Driver: driver, Config: cfg}
}

// Online retries SetQueueOnline against q until it succeeds, ctx is
// canceled, or the configured MaxElapsedTime is exceeded.
func (b *Bringup) Online(ctx context.Context, hwqpID uint32, q lld.QueueHandle) error {
	return b.retry(ctx, hwqpID, "set_queue_online", func() error {
		return b.Driver.SetQueueOnline(ctx, q)
	})
}

// Reinit retries ReinitQueue against q until it succeeds, ctx is canceled, or
// the configured MaxElapsedTime is exceeded.
func (b *Bringup) Reinit(ctx context.Context, hwqpID uint32, q lld.QueueHandle) error {
	return b.retry(ctx, hwqpID, "reinit_queue", func() error {
		return b.Driver.ReinitQueue(ctx, q)
	})
}

func (b *Bringup) retry(ctx context.Context, hwqpID uint32, op string, fn func() error) error {
	bo := backoff.WithContext(b.Config.newBackOff(), ctx)
	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err != nil {
			logger.WarnCtx(ctx, "transport: retrying after failure",
				logger.HWQPID(hwqpID), logger.EventType(op), logger.Err(err))
		}
		return err
	}
	if err := backoff.Retry(wrapped, bo); err != nil {
		logger.ErrorCtx(ctx, "transport: retry exhausted",
			logger.HWQPID(hwqpID), logger.EventType(op), logger.Err(err))
		return err
	}
	if attempt > 1 {
		logger.InfoCtx(ctx, "transport: recovered after retry",
			logger.HWQPID(hwqpID), logger.EventType(op))
	}
	return nil
}
