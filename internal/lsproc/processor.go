// Package lsproc implements the Link Service command processor: Create
// Association, Create Connection and Disconnect, plus the common reject
// path they share (spec.md §4.1).
package lsproc

import (
	"context"
	"sync/atomic"

	"github.com/fcnvmf/target/internal/config"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/nvmfshim"
	"github.com/fcnvmf/target/internal/reqpool"
	"github.com/fcnvmf/target/internal/wire"
)

// AssociationIDAllocator mints new association identifiers. New installs
// atomicAllocator; code inside this package can substitute a deterministic
// sequence.
type AssociationIDAllocator interface {
	NextAssociationID() uint64
}

// atomicAllocator is the default AssociationIDAllocator: a monotonically
// increasing counter, unique for the processor's lifetime.
type atomicAllocator struct{ next uint64 }

func (a *atomicAllocator) NextAssociationID() uint64 {
	return atomic.AddUint64(&a.next, 1)
}

// Processor drives the three LS commands against a fixed configuration, a
// subsystem resolver, and the NPort/HWQP the command arrived on.
type Processor struct {
	cfg      config.Config
	resolver nvmfshim.SubsystemResolver
	allocIDs AssociationIDAllocator
}

// New creates a Processor bound to cfg and resolver.
func New(cfg config.Config, resolver nvmfshim.SubsystemResolver) *Processor {
	return &Processor{cfg: cfg, resolver: resolver, allocIDs: &atomicAllocator{}}
}

// CreateAssociationResult bundles everything the caller needs to finish
// wiring a newly accepted association into the fabric and NVMe-oF generic
// layer.
type CreateAssociationResult struct {
	Association *fabric.Association
	AdminConn   *fabric.Connection
	Accept      wire.CreateAssocAccept
}

// CreateAssociation validates and, on success, constructs a new Association
// bound to nport/rport with its admin connection preallocated (spec.md
// §4.1 "Create Association (CASS)").
func (p *Processor) CreateAssociation(ctx context.Context, buf []byte, nport *fabric.NPort, rport *fabric.RemotePort) (*CreateAssociationResult, error) {
	if len(buf) < wire.CreateAssociationReqSize {
		return nil, ErrRequestTooShort
	}
	rqst, err := wire.DecodeCreateAssocRqst(buf)
	if err != nil {
		return nil, reject(wire.LSCreateAssociation, 0, wire.RejectReasonInvalid, wire.RejectExpInvalidLen)
	}
	if rqst.DescListLen < uint32(wire.CreateAssociationReqSize-8) {
		return nil, reject(wire.LSCreateAssociation, rqst.DescListLen, wire.RejectReasonInvalid, wire.RejectExpInvalidLen)
	}

	cmd := rqst.Cmd
	if cmd.SQSize == 0 || cmd.ERSPRatio == 0 || cmd.ERSPRatio >= cmd.SQSize {
		return nil, reject(wire.LSCreateAssociation, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpInvalidERSP)
	}
	if cmd.SQSize < 1 || uint32(cmd.SQSize) > uint32(p.cfg.MaxAdminQueueDepth) {
		return nil, reject(wire.LSCreateAssociation, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpSQSize)
	}

	subNQN := nqnString(cmd.SubNQN)
	hostNQN := nqnString(cmd.HostNQN)

	sub, ok := p.resolver.Resolve(subNQN)
	if !ok {
		return nil, reject(wire.LSCreateAssociation, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpInvalidSubNQN)
	}
	if !sub.AllowsHost(hostNQN) {
		return nil, reject(wire.LSCreateAssociation, rqst.DescListLen, wire.RejectReasonInvalidHost, wire.RejectExpInvalidHostNQN)
	}

	assocID := p.allocIDs.NextAssociationID()
	assoc := fabric.NewAssociation(assocID, nport, rport, hostNQN, subNQN, cmd.HostID, p.cfg.MaxQueuePairsPerController)
	assoc.ERSPRatio = cmd.ERSPRatio

	admin := fabric.NewConnection(assocID, 0, cmd.SQSize, nil, assoc, rport.RPI, rport.SID, nport.DID)
	admin.ReqPool = reqpool.New(2 * int(cmd.SQSize))
	assoc.AdminConnection = admin
	assoc.AddConnection(admin)

	nport.AddAssociation(assoc)
	rport.Ref()

	logger.InfoCtx(ctx, "association created",
		logger.AssociationID(assocID),
		logger.ConnectionID(admin.ID),
	)

	return &CreateAssociationResult{
		Association: assoc,
		AdminConn:   admin,
		Accept: wire.CreateAssocAccept{
			OriginalDescLen: rqst.DescListLen,
			AssociationID:   assocID,
			ConnectionID:    admin.ID,
		},
	}, nil
}

// CreateConnectionResult bundles the outcome of a successful Create
// Connection.
type CreateConnectionResult struct {
	Connection *fabric.Connection
	Accept     wire.CreateConnAccept
}

// CreateConnection validates and, on success, allocates an I/O connection
// on an existing association (spec.md §4.1 "Create Connection (CIOC)").
func (p *Processor) CreateConnection(ctx context.Context, buf []byte, lookup func(id uint64) (*fabric.Association, bool)) (*CreateConnectionResult, error) {
	if len(buf) != wire.CreateConnectionReqSize {
		return nil, ErrRequestTooShort
	}
	rqst, err := wire.DecodeCreateConnRqst(buf)
	if err != nil {
		return nil, reject(wire.LSCreateConnection, 0, wire.RejectReasonInvalid, wire.RejectExpInvalidLen)
	}

	cmd := rqst.Cmd
	if cmd.SQSize == 0 || cmd.ERSPRatio == 0 || cmd.ERSPRatio >= cmd.SQSize {
		return nil, reject(wire.LSCreateConnection, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpInvalidERSP)
	}
	if cmd.SQSize < 1 || uint32(cmd.SQSize) > uint32(p.cfg.MaxIOQueueDepth) {
		return nil, reject(wire.LSCreateConnection, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpSQSize)
	}

	assoc, ok := lookup(rqst.AssociationID)
	if !ok || assoc.State == fabric.StateToBeDeleted {
		return nil, reject(wire.LSCreateConnection, rqst.DescListLen, wire.RejectReasonInvalidAssoc, wire.RejectExpNone)
	}
	if assoc.ConnectionCount() >= int(p.cfg.MaxQueuePairsPerController) {
		return nil, reject(wire.LSCreateConnection, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpInvalidQID)
	}

	if !assoc.ClaimQID(cmd.QID) {
		return nil, reject(wire.LSCreateConnection, rqst.DescListLen, wire.RejectReasonInvalidParam, wire.RejectExpInvalidQID)
	}

	connID := fabric.ConnectionID(0, p.allocIDs.NextAssociationID())
	conn := fabric.NewConnection(connID, cmd.QID, cmd.SQSize, nil, assoc, assoc.RemotePort.RPI, assoc.RemotePort.SID, assoc.NPort.DID)
	conn.ReqPool = reqpool.New(2 * int(cmd.SQSize))
	assoc.AddConnection(conn)

	logger.InfoCtx(ctx, "connection created",
		logger.AssociationID(assoc.ID),
		logger.ConnectionID(conn.ID),
		logger.QID(cmd.QID),
	)

	return &CreateConnectionResult{
		Connection: conn,
		Accept: wire.CreateConnAccept{
			OriginalDescLen: rqst.DescListLen,
			ConnectionID:    connID,
		},
	}, nil
}

// Disconnect validates a Disconnect request against an existing
// association and returns it so the caller can drive the delete-association
// sequence (spec.md §4.2); the LS accept itself is emitted only after every
// connection delete completes, so this call does not build one.
func (p *Processor) Disconnect(ctx context.Context, buf []byte, lookup func(id uint64) (*fabric.Association, bool)) (*fabric.Association, error) {
	if len(buf) != wire.DisconnectReqSize {
		return nil, ErrRequestTooShort
	}
	rqst, err := wire.DecodeDisconnectRqst(buf)
	if err != nil {
		return nil, reject(wire.LSDisconnect, 0, wire.RejectReasonInvalid, wire.RejectExpInvalidLen)
	}
	assoc, ok := lookup(rqst.AssociationID)
	if !ok {
		return nil, reject(wire.LSDisconnect, rqst.DescListLen, wire.RejectReasonInvalidAssoc, wire.RejectExpNone)
	}
	logger.InfoCtx(ctx, "disconnect requested", logger.AssociationID(assoc.ID))
	return assoc, nil
}

// nqnString trims the trailing NUL padding from a fixed-size NQN field.
func nqnString(field [wire.NQNFieldSize]byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
