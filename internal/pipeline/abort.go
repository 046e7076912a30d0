package pipeline

import (
	"context"

	"github.com/fcnvmf/target/internal/bufcache"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/metrics"
	"github.com/fcnvmf/target/internal/reqpool"
)

// nvmeOpcodeAsyncEventRequest is the NVMe admin Asynchronous Event Request
// opcode; aborting one calls the qpair's free-aer hook instead of the
// ordinary backend-notify path (spec.md §4.4).
const nvmeOpcodeAsyncEventRequest = 0x0c

// BackendNotifyFunc is invoked when an in-flight backend request is aborted
// while the backend itself still owns it (read-bdev/write-bdev/none-bdev).
type BackendNotifyFunc func(ctx context.Context, req *reqpool.Request, conn *fabric.Connection)

// completeAbort is the single point every path that transitions a request
// to abort-complete funnels through, so num-aborted is bumped exactly once
// per request regardless of which state it aborted from (spec.md §9 Open
// Question, resolved; see DESIGN.md).
func (p *Pipeline) completeAbort(hwqpID uint32, req *reqpool.Request) {
	req.SetState(reqpool.StateAborted)
	p.bump(hwqpID, func(m metrics.HWQPMetrics, id uint32) { m.IncNumAborted(id) })
}

// Abort drives req toward abort-complete from its current state, dispatching
// on req.State exactly as spec.md §4.4 describes. It is callable from three
// contexts: a backend-initiated free with sendAbts set, an ABTS handler that
// matched the request on its HWQP, or a connection-delete fan-out; the
// caller picks sendAbts and portDead accordingly.
//
// For states that issue an LLD abort, convergence on abort-complete happens
// asynchronously through OnAbortComplete once the driver reports it; every
// other path here reaches abort-complete immediately and runs the request's
// callbacks inline.
func (p *Pipeline) Abort(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, hwqp *fabric.HWQP, qh lld.QueueHandle, sendAbts, portDead bool) error {
	state := req.State

	if portDead && (state == reqpool.StateReadXfer || state == reqpool.StateWriteXfer) {
		p.completeAbort(hwqp.ID, req)
		req.RunAbortCallbacks()
		return nil
	}

	switch state {
	case reqpool.StateBdevAborted:
		// Already in progress; the caller's callback was already
		// registered via AddAbortCallback before calling Abort.
		return nil

	case reqpool.StateReadBdev, reqpool.StateWriteBdev, reqpool.StateNoneBdev:
		req.SetState(reqpool.StateBdevAborted)
		req.Aborted = true
		if req.CmndIU.NVMeCmd[0] == nvmeOpcodeAsyncEventRequest && p.FreeAERHook != nil {
			p.FreeAERHook(ctx, req, conn)
			return nil
		}
		if p.NotifyBackend != nil {
			p.NotifyBackend(ctx, req, conn)
		}
		return nil

	case reqpool.StateReadXfer, reqpool.StateReadRsp, reqpool.StateWriteXfer, reqpool.StateWriteRsp, reqpool.StateNoneRsp:
		if err := p.Driver.IssueAbort(ctx, qh, req.XRI, sendAbts); err != nil {
			logger.WarnCtx(ctx, "issue abort failed",
				logger.ConnectionID(conn.ID), logger.OXID(req.OXID), logger.Err(err))
			return err
		}
		if sendAbts {
			p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncNumAbtsSent(id) })
		}
		return nil

	case reqpool.StatePending:
		// A request parked on the HWQP's pending-FCP queue (Execute
		// returned ErrNoXRI/ErrNoBuffers) is aborted before it is ever
		// retried; drop it from that queue so the next poll pass doesn't
		// hand a freed request back to Execute.
		hwqp.RemovePendingFCP(req.Addr())
		p.completeAbort(hwqp.ID, req)
		req.RunAbortCallbacks()
		return nil

	case reqpool.StateFusedWaiting:
		conn.RemoveFusedWaiting(req.Addr())
		p.completeAbort(hwqp.ID, req)
		req.RunAbortCallbacks()
		return nil

	default:
		return nil
	}
}

// OnAbortComplete is invoked once the LLD reports an abort completion for a
// request on which Abort issued an LLD-level abort. It is the convergence
// point spec.md §4.4 describes: callbacks run, then the request is freed.
func (p *Pipeline) OnAbortComplete(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, hwqp *fabric.HWQP, cache *bufcache.Cache, qh lld.QueueHandle) {
	p.completeAbort(hwqp.ID, req)
	req.RunAbortCallbacks()
	p.Free(req, conn, hwqp, cache, qh)
	logger.DebugCtx(ctx, "request abort complete",
		logger.ConnectionID(conn.ID), logger.OXID(req.OXID))
}

// AbortConnection fans out an abort across every request currently in use
// on conn, for the connection-delete operation (spec.md §4.2, §4.4 context
// (c)). It does not wait for asynchronous LLD aborts to converge; callers
// that need completion ordering register a callback on each request before
// invoking this.
func (p *Pipeline) AbortConnection(ctx context.Context, conn *fabric.Connection, hwqp *fabric.HWQP, qh lld.QueueHandle, portDead bool) {
	for _, req := range conn.InUseRequestsSnapshot() {
		if err := p.Abort(ctx, req, conn, hwqp, qh, true, portDead); err != nil {
			logger.WarnCtx(ctx, "abort-connection fan-out: abort failed",
				logger.ConnectionID(conn.ID), logger.OXID(req.OXID), logger.Err(err))
		}
	}
}
