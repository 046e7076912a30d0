// Package pipeline implements the per-request execution pipeline: receive,
// execute, the ERSP-vs-RSP decision, complete, and free (spec.md §4.3).
package pipeline

import (
	"context"
	"fmt"

	"github.com/fcnvmf/target/internal/bufcache"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/metrics"
	"github.com/fcnvmf/target/internal/nvmfshim"
	"github.com/fcnvmf/target/internal/reqpool"
	"github.com/fcnvmf/target/internal/wire"
)

// MaxIOSize bounds the declared data length the receive path will accept;
// the pipeline is constructed with the value negotiated at config time
// (spec.md §4.3 step 5).
type Pipeline struct {
	MaxIOSize uint32

	Driver  lld.Driver
	Generic nvmfshim.GenericLayer
	Metrics metrics.HWQPMetrics

	// NotifyBackend is invoked when a backend-owned request (read-bdev,
	// write-bdev, none-bdev) is aborted, so the backend can react; may be
	// nil, in which case the request simply moves to bdev-aborted and
	// waits for the backend's own completion to drain it.
	NotifyBackend BackendNotifyFunc
	// FreeAERHook is invoked instead of NotifyBackend when the aborted
	// backend-owned request is an admin Asynchronous Event Request
	// (spec.md §4.4 "for admin-AER specifically, call the qpair
	// free-aer hook").
	FreeAERHook BackendNotifyFunc
}

// New creates a Pipeline. m may be nil, in which case counters are silently
// dropped (metrics.IsEnabled() is false).
func New(maxIOSize uint32, driver lld.Driver, generic nvmfshim.GenericLayer, m metrics.HWQPMetrics) *Pipeline {
	return &Pipeline{MaxIOSize: maxIOSize, Driver: driver, Generic: generic, Metrics: m}
}

func (p *Pipeline) bump(hwqpID uint32, inc func(metrics.HWQPMetrics, uint32)) {
	if p.Metrics != nil {
		inc(p.Metrics, hwqpID)
	}
}

// Receive runs the six receive-path validation/setup steps against a raw
// CMND_IU payload and, on success, allocates and returns an initialized
// Request in state init (spec.md §4.3 "Receive path").
func (p *Pipeline) Receive(ctx context.Context, hwqp *fabric.HWQP, hdr wire.Header, cmndIUBytes []byte, data []byte) (*reqpool.Request, error) {
	iu, err := wire.DecodeCmndIU(cmndIUBytes)
	if err != nil || !iu.Valid() {
		p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncNVMeCmdIUErr(id) })
		return nil, ErrBadCmndIU
	}

	conn, ok := hwqp.LookupConnection(iu.ConnectionID)
	if !ok {
		p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncInvalidConnErr(id) })
		return nil, ErrConnectionUnknown
	}

	if hdr.SID != conn.SID || hdr.DID != conn.DID {
		p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncInvalidConnErr(id) })
		return nil, ErrSIDDIDMismatch
	}

	if conn.Association.State != fabric.StateCreated || conn.State != fabric.StateCreated {
		p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncInvalidConnErr(id) })
		return nil, ErrNotActive
	}

	if iu.DataLen > p.MaxIOSize {
		p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncNVMeCmdXferErr(id) })
		return nil, ErrDataLenTooLarge
	}

	req, err := conn.ReqPool.Alloc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
	}

	req.ConnectionID = conn.ID
	req.HWQPID = hwqp.ID
	req.OXID = hdr.OXID
	req.RXID = hdr.RXID
	req.RPI = conn.RPI
	req.SID = conn.SID
	req.DID = conn.DID
	req.CmndIU = iu
	req.CmndSeqNum = conn.NextCmndSeqNum()
	req.VMID, req.Priority, req.HasPriority = ParseVMIDAndPriority(hdr, data)
	req.SetState(reqpool.StateInit)

	conn.TrackRequest(req)
	hwqp.TrackRequest(req)

	logger.DebugCtx(ctx, "request received",
		logger.ConnectionID(conn.ID),
		logger.OXID(hdr.OXID),
		logger.CmndSeqNum(req.CmndSeqNum),
		logger.DataLen(iu.DataLen),
	)

	return req, nil
}

// dataDirection classifies the NVMe opcode's data-transfer bits (the two
// low bits of the SQE's first byte, per the NVMe command format).
type dataDirection int

const (
	dirNone dataDirection = iota
	dirHostToController
	dirControllerToHost
	dirBidirectional
)

func directionOf(req *reqpool.Request) dataDirection {
	return dataDirection(req.CmndIU.NVMeCmd[0] & 0x3)
}

// Execute drives a request from state init through XRI/buffer acquisition
// to the hand-off appropriate for its data direction (spec.md §4.3
// "Execute").
func (p *Pipeline) Execute(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, hwqp *fabric.HWQP, cache *bufcache.Cache, qh lld.QueueHandle) error {
	isKeepAlive := req.CmndIU.NVMeCmd[0] == nvmeOpcodeKeepAlive
	if !isKeepAlive && !req.hasXRIAssigned() {
		xri, ok := p.Driver.AcquireXRI(qh)
		if !ok {
			p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncNoXRI(id) })
			req.SetState(reqpool.StatePending)
			hwqp.AddPendingFCP(req.Addr())
			return ErrNoXRI
		}
		req.SetXRI(xri)
	}

	if req.CmndIU.DataLen > 0 && len(req.DataBuffers) == 0 {
		buf, ok := cache.TryAcquire()
		if !ok {
			if req.HasXRI() {
				p.Driver.ReleaseXRI(qh, req.XRI)
				req.ClearXRI()
			}
			p.bump(hwqp.ID, func(m metrics.HWQPMetrics, id uint32) { m.IncBufferAllocErr(id) })
			req.SetState(reqpool.StatePending)
			hwqp.AddPendingFCP(req.Addr())
			return ErrNoBuffers
		}
		req.DataBuffers = append(req.DataBuffers, buf)
	}

	switch directionOf(req) {
	case dirHostToController:
		req.SetState(reqpool.StateWriteXfer)
		payload := wire.XferRdyIU{BurstLen: req.CmndIU.DataLen}.Encode()
		if err := p.Driver.PostXferReady(ctx, qh, req.XRI, payload[:]); err != nil {
			return fmt.Errorf("pipeline: post xfer_rdy: %w", err)
		}
	case dirControllerToHost:
		req.SetState(reqpool.StateReadBdev)
		return p.handOffToGenericLayer(ctx, req, conn, qh)
	default:
		req.SetState(reqpool.StateNoneBdev)
		return p.handOffToGenericLayer(ctx, req, conn, qh)
	}
	return nil
}

const nvmeOpcodeKeepAlive = 0x18

func (p *Pipeline) handOffToGenericLayer(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, qh lld.QueueHandle) error {
	greq := nvmfshim.Request{ConnectionID: conn.ID, CmndSeqNum: req.CmndSeqNum, SQE: req.CmndIU.NVMeCmd}
	if len(req.DataBuffers) > 0 {
		greq.Data = req.DataBuffers[0]
	}
	return p.Generic.ExecuteRequest(ctx, greq, func(c nvmfshim.Completion) {
		p.onGenericCompletion(ctx, req, conn, qh, c)
	})
}

// OnXferComplete is invoked by the LLD once the XFER_RDY's data
// transfer finishes; it advances a write request from write-xfer to
// write-bdev and hands off to the backend (spec.md §4.3).
func (p *Pipeline) OnXferComplete(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, qh lld.QueueHandle) error {
	req.SetState(reqpool.StateWriteBdev)
	return p.handOffToGenericLayer(ctx, req, conn, qh)
}

func (p *Pipeline) onGenericCompletion(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, qh lld.QueueHandle, c nvmfshim.Completion) {
	req.TransferredLen = c.TransferredLen
	req.ERSPIU.NVMeCpl = c.CQE
	req.ERSPIU.TransferredDataLen = c.TransferredLen

	if req.Aborted {
		p.completeAbort(req.HWQPID, req)
		req.RunAbortCallbacks()
		return
	}

	if directionOf(req) == dirControllerToHost {
		req.SetState(reqpool.StateReadXfer)
		var data []byte
		if len(req.DataBuffers) > 0 {
			data = req.DataBuffers[0][:c.TransferredLen]
		}
		if err := p.Driver.PostDataSend(ctx, qh, req.XRI, data); err != nil {
			logger.WarnCtx(ctx, "post data send failed, freeing request without reply",
				logger.ConnectionID(conn.ID), logger.OXID(req.OXID), logger.Err(err))
			req.SetState(reqpool.StateFailed)
		}
		return
	}

	req.SetState(reqpool.StateWriteRsp)
	p.complete(ctx, req, conn, qh)
}

// OnDataSendComplete is invoked by the LLD once a controller-to-host read's
// data transfer finishes; it posts the response the transfer was deferring
// (spec.md §4.3 "Complete": "post the data transfer and enter read-xfer; on
// its completion, post the response").
func (p *Pipeline) OnDataSendComplete(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, qh lld.QueueHandle) {
	p.complete(ctx, req, conn, qh)
}

// complete decides ERSP vs. short RSP and posts the response (spec.md §4.3
// "Complete" and "ERSP decision"). Any transmit failure frees the request
// without a response, per spec.md §4.3.
func (p *Pipeline) complete(ctx context.Context, req *reqpool.Request, conn *fabric.Connection, qh lld.QueueHandle) {
	ersp := p.shouldSendERSP(req, conn)
	req.ERSPIU.ResponseSeqNo = conn.NextRespSeqNo()

	var payload []byte
	if ersp {
		enc := req.ERSPIU.Encode()
		payload = enc[:]
	}

	if err := p.Driver.PostResponse(ctx, qh, req.XRI, payload); err != nil {
		logger.WarnCtx(ctx, "post response failed, freeing request without reply",
			logger.ConnectionID(conn.ID), logger.OXID(req.OXID), logger.Err(err))
		req.SetState(reqpool.StateFailed)
		return
	}

	req.SetState(reqpool.StateSuccess)
	logger.DebugCtx(ctx, "request completed",
		logger.ConnectionID(conn.ID),
		logger.OXID(req.OXID),
		logger.RequestState(req.State.String()),
	)
}

// shouldSendERSP implements the 4-condition ERSP test (spec.md §4.3 "ERSP
// decision"): ratio window, fabric command, nonzero status/response dword,
// or a transferred length mismatch.
func (p *Pipeline) shouldSendERSP(req *reqpool.Request, conn *fabric.Connection) bool {
	ratioHit := conn.ShouldSendERSP()
	isFabricCmd := req.CmndIU.NVMeCmd[0] == nvmeOpcodeFabricCmd
	statusOrDataNonzero := cplHasNonzeroStatusOrData(req.ERSPIU.NVMeCpl)
	lenMismatch := req.TransferredLen != req.CmndIU.DataLen
	return ratioHit || isFabricCmd || statusOrDataNonzero || lenMismatch
}

const nvmeOpcodeFabricCmd = 0x7f

func cplHasNonzeroStatusOrData(cpl [wire.NVMeCplSize]byte) bool {
	// Status field occupies the last two bytes of the completion queue
	// entry; the phase bit (bit 0 of the low status byte) toggles every
	// completion and must be excluded from this check.
	const phaseBit = 0x01
	status := cpl[14:16]
	if status[0]&^phaseBit != 0 || status[1] != 0 {
		return true
	}
	for _, b := range cpl[0:8] {
		if b != 0 {
			return true
		}
	}
	return false
}

// Free returns a completed or failed request's resources: the XRI to the
// HWQP, the data buffers to the poll group's cache, and the request itself
// to the connection's pool (spec.md §4.3 "Request free").
func (p *Pipeline) Free(req *reqpool.Request, conn *fabric.Connection, hwqp *fabric.HWQP, cache *bufcache.Cache, qh lld.QueueHandle) {
	if req.HasXRI() {
		p.Driver.ReleaseXRI(qh, req.XRI)
		req.ClearXRI()
	}
	for _, buf := range req.DataBuffers {
		cache.Release(buf)
	}
	req.DataBuffers = nil

	conn.UntrackRequest(req)
	hwqp.UntrackRequest(req)
	conn.ReqPool.Free(req)
}
