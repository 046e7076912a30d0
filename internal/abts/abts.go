// Package abts implements the ABTS (Abort Basic Link Service) fan-out and
// two-pass queue-synchronization protocol: given an inbound ABTS frame, it
// discovers every HWQP that owns a connection for the affected remote port,
// asks each to abort the matching request if it has one, and resolves the
// outcome to a BA_ACC or BA_RJT (spec.md §4.5).
package abts

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/wire"
)

// Handler runs the ABTS protocol against the fabric's ownership graph.
// Pipeline is used to drive the matched request through abort; Driver is
// consulted for queue-sync availability and to transmit the BLS response.
type Handler struct {
	Pipeline *pipeline.Pipeline
	Driver   lld.Driver

	nextContextID uint64
}

// nextID returns the next monotonically increasing ABTS context identifier,
// used to correlate a second-pass queue-sync's completions (spec.md §4.5
// "each ABTS context is uniquely numbered").
func (h *Handler) nextID() uint64 {
	return atomic.AddUint64(&h.nextContextID, 1)
}

// collectOwningHWQPs walks nport's association list, and for each
// association its connection list, collecting the deduplicated set of
// HWQPs that own at least one connection for rpi (spec.md §4.5).
func collectOwningHWQPs(nport *fabric.NPort, rpi uint32) []*fabric.HWQP {
	seen := make(map[*fabric.HWQP]bool)
	var out []*fabric.HWQP
	for _, assoc := range nport.Associations() {
		for _, conn := range assoc.Connections() {
			if conn.RPI != rpi || conn.HWQP == nil || seen[conn.HWQP] {
				continue
			}
			seen[conn.HWQP] = true
			out = append(out, conn.HWQP)
		}
	}
	return out
}

func queueHandleOf(hwqp *fabric.HWQP) lld.QueueHandle {
	qh, _ := hwqp.LLDHandle.(lld.QueueHandle)
	return qh
}

// abortIfPresent looks up the request owning (rpi, oxid) on hwqp and, if
// found, issues a request-abort with send_abts=false, reporting whether the
// exchange was handled (spec.md §4.5 "looks up the request ... if found,
// issues a request-abort ... and reports handled").
func (h *Handler) abortIfPresent(ctx context.Context, hwqp *fabric.HWQP, rpi uint32, oxid uint16) bool {
	req, ok := hwqp.FindRequestByExchange(rpi, oxid)
	if !ok {
		return false
	}
	conn, ok := hwqp.LookupConnection(req.ConnectionID)
	if !ok {
		return false
	}
	if err := h.Pipeline.Abort(ctx, req, conn, hwqp, queueHandleOf(hwqp), false, false); err != nil {
		logger.WarnCtx(ctx, "abts: request-abort failed",
			logger.ConnectionID(conn.ID), logger.OXID(oxid), logger.Err(err))
		return false
	}
	return true
}

// Handle runs the full ABTS protocol for one inbound ABTS frame: first-pass
// fan-out, BA_ACC/BA_RJT on a first-pass hit or an empty HWQP set, and the
// second-pass queue-sync retry otherwise (spec.md §4.5).
func (h *Handler) Handle(ctx context.Context, nport *fabric.NPort, lsHWQP *fabric.HWQP, lsQH lld.QueueHandle, rpi uint32, oxid, rxid uint16) {
	hwqps := collectOwningHWQPs(nport, rpi)

	var handled bool
	for _, hwqp := range hwqps {
		if h.abortIfPresent(ctx, hwqp, rpi, oxid) {
			handled = true
		}
	}

	if nport.Deleted() {
		return
	}
	if handled {
		h.accept(ctx, lsQH, oxid, rxid)
		return
	}
	if len(hwqps) == 0 || !h.Driver.QueueSyncAvailable(lsQH) {
		h.reject(ctx, lsQH, oxid, rxid)
		return
	}

	h.secondPass(ctx, hwqps, lsHWQP, lsQH, nport, rpi, oxid, rxid)
}

// secondPass allocates a queue-sync context, issues the marker on the LS
// HWQP, and registers a per-HWQP sync callback that resends the
// ABTS-received operation once that HWQP's queue-sync completes. The
// outcome is resolved once every owning HWQP has reported back (spec.md
// §4.5 "second pass").
func (h *Handler) secondPass(ctx context.Context, hwqps []*fabric.HWQP, lsHWQP *fabric.HWQP, lsQH lld.QueueHandle, nport *fabric.NPort, rpi uint32, oxid, rxid uint16) {
	ctxID := h.nextID()
	if err := h.Driver.IssueQueueSyncMarker(ctx, lsQH, ctxID); err != nil {
		logger.WarnCtx(ctx, "abts: issue queue-sync marker failed", logger.Err(err))
		h.reject(ctx, lsQH, oxid, rxid)
		return
	}

	var (
		mu      sync.Mutex
		pending = len(hwqps)
		found   bool
	)

	for _, hwqp := range hwqps {
		hwqp := hwqp
		hwqp.AddSyncCallback(func() {
			handled := h.abortIfPresent(ctx, hwqp, rpi, oxid)

			mu.Lock()
			pending--
			if handled {
				found = true
			}
			last := pending == 0
			outcomeFound := found
			mu.Unlock()

			if !last {
				return
			}
			if nport.Deleted() {
				return
			}
			if outcomeFound {
				h.accept(ctx, lsQH, oxid, rxid)
			} else {
				h.reject(ctx, lsQH, oxid, rxid)
			}
		})
	}
}

func (h *Handler) accept(ctx context.Context, lsQH lld.QueueHandle, oxid, rxid uint16) {
	payload := wire.BAAccPayload{OXID: oxid, RXID: rxid}.Encode()
	if err := h.Driver.PostBLSResponse(ctx, lsQH, oxid, rxid, payload[:]); err != nil {
		logger.WarnCtx(ctx, "abts: post ba_acc failed", logger.OXID(oxid), logger.Err(err))
	}
}

func (h *Handler) reject(ctx context.Context, lsQH lld.QueueHandle, oxid, rxid uint16) {
	payload := wire.BARjtPayload{
		Reason:      wire.BLSRejectReasonUnableToPerform,
		Explanation: wire.BLSRejectExpInvalidOXID,
	}.Encode()
	if err := h.Driver.PostBLSResponse(ctx, lsQH, oxid, rxid, payload[:]); err != nil {
		logger.WarnCtx(ctx, "abts: post ba_rjt failed", logger.OXID(oxid), logger.Err(err))
	}
}
