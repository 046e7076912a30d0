// Package config holds the static transport limits the fabric, pipeline,
// and LLD facade are constructed with. There is no file, environment, or CLI
// loader here: callers build a Config literal and call Validate.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config captures the transport-wide limits that bound every association and
// connection the core will accept. These mirror the SPDK FC-NVMe transport's
// opts struct (max_aq_depth, max_queue_depth, max_qpairs_per_ctrlr,
// max_io_size, io_unit_size) plus the HWQP/poll-group fan-out this
// implementation adds.
type Config struct {
	// MaxAdminQueueDepth bounds SQ size accepted in a Create Association
	// request (spec.md §4.1: "SQ size in the inclusive range [1, configured
	// max AQ depth]").
	MaxAdminQueueDepth uint16 `validate:"required,gt=0,lte=4096"`

	// MaxIOQueueDepth bounds SQ size accepted in a Create Connection request.
	MaxIOQueueDepth uint16 `validate:"required,gt=0,lte=65535"`

	// MaxQueuePairsPerController bounds the number of connection slots
	// preallocated when an association is created (spec.md §4.1: "preallocating
	// max-qpairs-per-controller connection slots in one buffer").
	MaxQueuePairsPerController uint16 `validate:"required,gt=0,lte=4096"`

	// MaxIOSize is the largest single I/O transfer length in bytes the
	// pipeline will accept in a CMND_IU's DataLen.
	MaxIOSize uint32 `validate:"required,gt=0"`

	// IOUnitSize is the data-buffer granularity the buffer cache hands out.
	IOUnitSize uint32 `validate:"required,gt=0"`

	// HWQPCount is the number of I/O hardware queue pairs each port owns,
	// in addition to its single dedicated LS HWQP.
	HWQPCount uint32 `validate:"required,gt=0"`

	// PollGroupCount is the number of cooperative poll groups HWQPs are
	// distributed across (spec.md §5: "owned by exactly one poll group").
	PollGroupCount uint32 `validate:"required,gt=0"`

	// QueueSyncSupported records whether the transport is configured for
	// queue-sync. The ABTS handler does not read it: its second pass is
	// gated on lld.Driver.QueueSyncAvailable alone.
	QueueSyncSupported bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports whether c satisfies every struct tag and the cross-field
// invariant that isn't expressible as a tag: PollGroupCount must not exceed
// HWQPCount, since a poll group without any HWQP is a configuration error,
// not a degenerate valid case. HWQPCount need not be a multiple of
// PollGroupCount.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.PollGroupCount > c.HWQPCount {
		return fmt.Errorf("config: poll_group_count (%d) exceeds hwqp_count (%d)", c.PollGroupCount, c.HWQPCount)
	}
	return nil
}
