package admin

import (
	"context"

	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/nvmfshim"
)

func queueHandleOf(h *fabric.HWQP) lld.QueueHandle {
	qh, _ := h.LLDHandle.(lld.QueueHandle)
	return qh
}

func (q *Queue) portHWQPs(port *fabric.Port) []*fabric.HWQP {
	hwqps := make([]*fabric.HWQP, 0, len(port.IOHWQPs)+1)
	if port.LSHWQP != nil {
		hwqps = append(hwqps, port.LSHWQP)
	}
	hwqps = append(hwqps, port.IOHWQPs...)
	return hwqps
}

// portInit allocates LLD-side resources for every HWQP a port owns (spec.md
// §4.6; grounded on internal/lld's init_queue facade method).
func (q *Queue) portInit(ctx context.Context, a Args) ResultCode {
	port := a.Port
	if port == nil {
		return ResultInvalid
	}
	for _, h := range q.portHWQPs(port) {
		qh, err := q.driver.InitQueue(ctx, h.ID)
		if err != nil {
			logger.ErrorCtx(ctx, "port init: init_queue failed", logger.PortHandle(port.Handle), logger.HWQPID(h.ID), logger.Err(err))
			return ResultFailed
		}
		h.LLDHandle = qh
	}
	logger.InfoCtx(ctx, "port init complete", logger.PortHandle(port.Handle))
	return ResultOK
}

// portFree validates the port owns no NPorts and clears its HWQP handles.
// The LLD facade this core targets exposes no explicit queue-teardown
// primitive (spec.md §6 lists none), so release is limited to what the
// fabric layer itself owns.
func (q *Queue) portFree(ctx context.Context, a Args) ResultCode {
	port := a.Port
	if port == nil {
		return ResultInvalid
	}
	if !port.CanGoOffline() {
		return ResultInvalid
	}
	for _, h := range q.portHWQPs(port) {
		h.LLDHandle = nil
	}
	logger.InfoCtx(ctx, "port freed", logger.PortHandle(port.Handle))
	return ResultOK
}

// portOnline transitions every HWQP on port to online and assigns its I/O
// HWQPs to poll groups (spec.md §4.6, §5 "owned by exactly one poll group").
func (q *Queue) portOnline(ctx context.Context, a Args) ResultCode {
	port := a.Port
	if port == nil {
		return ResultInvalid
	}
	if port.State == fabric.PortOnline {
		return ResultAlreadyExists
	}
	for _, h := range q.portHWQPs(port) {
		if err := q.driver.SetQueueOnline(ctx, queueHandleOf(h)); err != nil {
			logger.ErrorCtx(ctx, "port online: set_queue_online failed", logger.HWQPID(h.ID), logger.Err(err))
			return ResultFailed
		}
		h.State = fabric.HWQPOnline
	}
	for _, h := range port.IOHWQPs {
		if g := q.pollGroupFor(h.ID); g != nil {
			g.AddHWQP(h)
		}
	}
	port.State = fabric.PortOnline
	logger.InfoCtx(ctx, "port online", logger.PortHandle(port.Handle))
	return ResultOK
}

// portOffline removes each I/O HWQP from its poll group with a direct,
// synchronous RemoveHWQP call and marks it offline before reporting
// completion (spec.md §4.6). Invariant:
// offline may only proceed once the port owns no NPorts (spec.md §3).
func (q *Queue) portOffline(ctx context.Context, a Args) ResultCode {
	port := a.Port
	if port == nil {
		return ResultInvalid
	}
	if !port.CanGoOffline() {
		logger.WarnCtx(ctx, "port offline: nports still present", logger.PortHandle(port.Handle))
		return ResultInvalid
	}
	for _, h := range port.IOHWQPs {
		if g := q.pollGroupFor(h.ID); g != nil {
			g.RemoveHWQP(h)
		}
		h.State = fabric.HWQPOffline
	}
	if port.LSHWQP != nil {
		port.LSHWQP.State = fabric.HWQPOffline
	}
	port.State = fabric.PortOffline
	logger.InfoCtx(ctx, "port offline complete", logger.PortHandle(port.Handle))
	return ResultOK
}

// portReset re-initializes every HWQP on port without discarding its
// identity (spec.md §10 "reinit_queue"), logging the caller-supplied dump
// reason.
func (q *Queue) portReset(ctx context.Context, a Args) ResultCode {
	port := a.Port
	if port == nil {
		return ResultInvalid
	}
	logger.WarnCtx(ctx, "port reset", logger.PortHandle(port.Handle), logger.EventType(a.DumpReason))
	for _, h := range q.portHWQPs(port) {
		if err := q.driver.ReinitQueue(ctx, queueHandleOf(h)); err != nil {
			logger.ErrorCtx(ctx, "port reset: reinit_queue failed", logger.HWQPID(h.ID), logger.Err(err))
			return ResultFailed
		}
	}
	return ResultOK
}

// nportCreate allocates nport, sets it to the created state, then adds it as
// an NVMe-oF listen address to every compatible subsystem, pausing and
// resuming each subsystem around the add (spec.md §4.6; original_source's
// `nvmf_fc_adm_evnt_nport_create`).
func (q *Queue) nportCreate(ctx context.Context, a Args) ResultCode {
	nport := a.NPort
	if nport == nil {
		return ResultInvalid
	}
	if nport.State != fabric.StateCreated {
		nport.State = fabric.StateCreated
	}
	if q.generic == nil {
		return ResultOK
	}
	addr := nvmfshim.ListenAddress{
		PortHandle:  a.PortHandle,
		NPortHandle: a.NPortHandle,
		NodeWWN:     a.NodeWWN,
		PortWWN:     a.PortWWN,
	}
	for _, sub := range q.generic.All() {
		if err := sub.Pause(ctx); err != nil {
			logger.WarnCtx(ctx, "nport create: subsystem pause failed", logger.Err(err))
			continue
		}
		addErr := sub.AddListenAddress(ctx, addr)
		if err := sub.Resume(ctx); err != nil {
			logger.WarnCtx(ctx, "nport create: subsystem resume failed", logger.Err(err))
		}
		if addErr != nil {
			logger.ErrorCtx(ctx, "nport create: add listen address failed", logger.Err(addErr))
			return ResultFailed
		}
	}
	logger.InfoCtx(ctx, "nport created", logger.NPortID(uint32(nport.ID.NPortHandle)))
	return ResultOK
}

// nportDelete issues an I_T delete per remaining remote port and completes
// only once every one of them has (spec.md §4.6).
func (q *Queue) nportDelete(ctx context.Context, a Args) ResultCode {
	nport := a.NPort
	if nport == nil {
		return ResultInvalid
	}
	for _, rp := range nport.RemotePorts() {
		q.itDelete(ctx, a.Port, nport, rp)
	}
	nport.State = fabric.StateZombie
	if q.generic != nil {
		addr := nvmfshim.ListenAddress{
			PortHandle:  a.PortHandle,
			NPortHandle: a.NPortHandle,
			NodeWWN:     a.NodeWWN,
			PortWWN:     a.PortWWN,
		}
		for _, sub := range q.generic.All() {
			if err := sub.Pause(ctx); err != nil {
				continue
			}
			_ = sub.RemoveListenAddress(ctx, addr)
			_ = sub.Resume(ctx)
		}
	}
	logger.InfoCtx(ctx, "nport deleted", logger.NPortID(uint32(nport.ID.NPortHandle)))
	return ResultOK
}

// itAdd registers a newly logged-in remote port on nport and on every HWQP
// owned by the nport's port (spec.md §4.6).
func (q *Queue) itAdd(ctx context.Context, a Args) ResultCode {
	nport := a.NPort
	if nport == nil {
		return ResultInvalid
	}
	id := fabric.RemotePortID{NPort: nport, SID: a.SID, RPI: a.RPI}
	rp := fabric.NewRemotePort(id, a.NodeWWN, a.PortWWN)
	nport.AddRemotePort(rp)
	if a.Port != nil {
		for _, h := range q.portHWQPs(a.Port) {
			h.AddRemotePort(id, rp)
		}
	}
	logger.InfoCtx(ctx, "I_T add", logger.RemotePortID(a.RPI))
	return ResultOK
}

// itDeleteEvent is the EventITDelete dispatch entry point; it resolves
// RemotePort from Args (by RPI and S_ID match among the event NPort's remote
// ports) when the caller did not supply one, before delegating to itDelete.
func (q *Queue) itDeleteEvent(ctx context.Context, a Args) ResultCode {
	nport := a.NPort
	if nport == nil {
		return ResultInvalid
	}
	rp := a.RemotePort
	if rp == nil {
		for _, candidate := range nport.RemotePorts() {
			if candidate.RPI == a.RPI && candidate.SID == a.SID {
				rp = candidate
				break
			}
		}
	}
	if rp == nil {
		return ResultNotFound
	}
	q.itDelete(ctx, a.Port, nport, rp)
	return ResultOK
}

// itDelete delegates association deletion to deleteAssociation for each
// association matching rp's S_ID, then unregisters rp from the fabric
// (spec.md §4.6 "I_T delete delegates association deletion to §4.2 for each
// association matching the given S_ID").
func (q *Queue) itDelete(ctx context.Context, port *fabric.Port, nport *fabric.NPort, rp *fabric.RemotePort) {
	var lsHWQP *fabric.HWQP
	var lsQH lld.QueueHandle
	portOnline := false
	if port != nil {
		lsHWQP = port.LSHWQP
		if lsHWQP != nil {
			lsQH = queueHandleOf(lsHWQP)
		}
		portOnline = port.State == fabric.PortOnline
	}

	for _, assoc := range nport.Associations() {
		if assoc.RemotePort != rp {
			continue
		}
		q.deleteAssociation(ctx, assoc, lsHWQP, lsQH, portOnline, nil)
	}
	nport.RemoveRemotePort(rp)
	if port != nil {
		for _, h := range q.portHWQPs(port) {
			h.RemoveRemotePort(rp.RemotePortID)
		}
	}
	logger.InfoCtx(ctx, "I_T delete complete", logger.RemotePortID(rp.RPI))
}

// abtsReceived runs the ABTS two-pass protocol (spec.md §4.5), delegating to
// internal/abts.Handler.
func (q *Queue) abtsReceived(ctx context.Context, a Args) ResultCode {
	if q.abts == nil || a.NPort == nil || a.LSHWQP == nil {
		return ResultInvalid
	}
	q.abts.Handle(ctx, a.NPort, a.LSHWQP, a.LSQueueHandle, a.RPI, a.OXID, a.RXID)
	return ResultOK
}

// unrecoverableError logs and reports failure; crash/restart policy on an
// unrecoverable error is an external operational concern, out of scope here.
func (q *Queue) unrecoverableError(ctx context.Context, a Args) ResultCode {
	logger.ErrorCtx(ctx, "unrecoverable error reported", logger.PortHandle(a.PortHandle))
	return ResultFailed
}

