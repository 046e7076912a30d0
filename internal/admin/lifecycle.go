package admin

import (
	"context"

	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
)

// DeleteAssociation marks assoc to-be-deleted, fans a delete-connection
// operation out to every one of its connections, removes it from its NPort,
// optionally emits a cached LS Disconnect, and fires every registered
// delete-completion callback (spec.md §4.2 "Delete association"). A second
// call on an already-deleting association registers onComplete and returns
// without re-running the sequence, per spec.md's idempotency requirement.
func (q *Queue) DeleteAssociation(ctx context.Context, assoc *fabric.Association, lsHWQP *fabric.HWQP, portOnline bool, onComplete func()) {
	var lsQH lld.QueueHandle
	if lsHWQP != nil {
		lsQH = queueHandleOf(lsHWQP)
	}
	q.deleteAssociation(ctx, assoc, lsHWQP, lsQH, portOnline, onComplete)
}

func (q *Queue) deleteAssociation(ctx context.Context, assoc *fabric.Association, lsHWQP *fabric.HWQP, lsQH lld.QueueHandle, portOnline bool, onComplete func()) {
	if onComplete != nil {
		assoc.AddDeleteCallback(onComplete)
	}
	if !assoc.MarkToBeDeleted() {
		return
	}

	for _, conn := range assoc.Connections() {
		q.deleteConnection(ctx, conn, false)
	}

	if assoc.NPort != nil {
		assoc.NPort.RemoveAssociation(assoc)
	}
	if assoc.RemotePort != nil {
		assoc.RemotePort.Unref()
	}

	if portOnline && assoc.CachedDisconnect != nil && lsHWQP != nil && q.driver != nil {
		if _, err := q.driver.PostSRSRRequest(ctx, lsQH, assoc.CachedDisconnect.Accept); err != nil {
			logger.WarnCtx(ctx, "delete association: disconnect srsr failed",
				logger.AssociationID(assoc.ID), logger.Err(err))
		}
	}

	assoc.MarkZombie()
	logger.InfoCtx(ctx, "association deleted", logger.AssociationID(assoc.ID))
	assoc.RunDeleteCallbacks()
}

// deleteConnection runs inline on the caller's goroutine: it aborts each
// in-flight request on the connection's HWQP, removes the connection-id
// entry from the HWQP's hash table, and
// (unless backend-initiated) asks the generic layer to disconnect the qpair.
// Idempotent: a connection already torn down is a no-op (spec.md §4.2
// "Delete connection").
func (q *Queue) deleteConnection(ctx context.Context, conn *fabric.Connection, backendInitiated bool) {
	if conn.State == fabric.StateZombie {
		logger.DebugCtx(ctx, "delete connection: already deleted", logger.ConnectionID(conn.ID))
		return
	}
	conn.State = fabric.StateToBeDeleted

	hwqp := conn.HWQP
	var qh lld.QueueHandle
	if hwqp != nil {
		qh = queueHandleOf(hwqp)
	}

	if q.pipeline != nil && hwqp != nil {
		q.pipeline.AbortConnection(ctx, conn, hwqp, qh, false)
	}
	if hwqp != nil {
		hwqp.RemoveConnection(conn.ID)
	}
	if conn.Association != nil {
		conn.Association.RemoveConnection(conn)
		if conn.QID != 0 {
			conn.Association.ReleaseQID(conn.QID)
		}
	}

	conn.State = fabric.StateZombie

	if !backendInitiated && q.generic != nil {
		if err := q.generic.DestroyQueuePair(ctx, conn.ID); err != nil {
			logger.WarnCtx(ctx, "delete connection: destroy qpair failed",
				logger.ConnectionID(conn.ID), logger.Err(err))
		}
	}
	logger.InfoCtx(ctx, "connection deleted", logger.ConnectionID(conn.ID))
}
