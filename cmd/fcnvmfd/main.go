// Command fcnvmfd demonstrates wiring a simulated low-level driver into the
// FC-NVMe target transport core end to end: port bringup, NPort creation,
// an I_T login, a full Create Association / Create Connection / Disconnect
// LS exchange, and the teardown that follows. It parses no flags; every
// parameter is a literal constructed in main.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fcnvmf/target/internal/abts"
	"github.com/fcnvmf/target/internal/admin"
	"github.com/fcnvmf/target/internal/bufcache"
	"github.com/fcnvmf/target/internal/config"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/lsproc"
	"github.com/fcnvmf/target/internal/metrics"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/pollgroup"
	"github.com/fcnvmf/target/internal/transport"
	"github.com/fcnvmf/target/internal/wire"
)

const (
	demoPortHandle  uint8  = 1
	demoNPortHandle uint16 = 1
	demoHostNQN            = "nqn.2014-08.org.nvmexpress:uuid:1111-demo-host"
	demoSubNQN             = "nqn.2014-08.org.nvmexpress:uuid:2222-demo-target"
)

func main() {
	ctx := context.Background()

	cfg := config.Config{
		MaxAdminQueueDepth:         128,
		MaxIOQueueDepth:            1024,
		MaxQueuePairsPerController: 16,
		MaxIOSize:                  262144,
		IOUnitSize:                 4096,
		HWQPCount:                  4,
		PollGroupCount:             2,
		QueueSyncSupported:         true,
	}
	if err := cfg.Validate(); err != nil {
		logger.ErrorCtx(ctx, "invalid config", logger.Err(err))
		return
	}

	driver := newSimDriver()
	subsystem := newSimSubsystem(demoSubNQN, demoHostNQN)
	generic := newSimGeneric(subsystem)

	lsHWQP := fabric.NewHWQP(0, nil)
	ioHWQPs := make([]*fabric.HWQP, cfg.HWQPCount)
	for i := range ioHWQPs {
		ioHWQPs[i] = fabric.NewHWQP(uint32(i+1), nil)
	}
	port := fabric.NewPort(demoPortHandle, lsHWQP, ioHWQPs)
	lsHWQP.Port = port
	for _, h := range ioHWQPs {
		h.Port = port
	}

	pl := pipeline.New(cfg.MaxIOSize, driver, generic, metrics.NewHWQPMetrics())
	abtsHandler := &abts.Handler{Pipeline: pl, Driver: driver}

	adminMu := &sync.Mutex{}
	cache := bufcache.New(16, cfg.IOUnitSize)
	pollGroups := make([]*pollgroup.PollGroup, cfg.PollGroupCount)
	for i := range pollGroups {
		pollGroups[i] = pollgroup.New(uint32(i), driver, pl, cache, adminMu)
	}

	queue := admin.New(driver, pl, abtsHandler, generic, cfg, pollGroups)
	go queue.Run(ctx)

	bringup := transport.NewBringup(driver, transport.BringupConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	})

	done := make(chan admin.ResultCode, 1)
	queue.Enqueue(admin.EventPortInit, admin.Args{Port: port}, func(r admin.ResultCode) { done <- r })
	logger.InfoCtx(ctx, "port init result", logger.RequestState(fmt.Sprint(<-done)))

	for _, h := range port.IOHWQPs {
		qh := h.LLDHandle
		if qh == nil {
			continue
		}
		if err := bringup.Online(ctx, h.ID, qh); err != nil {
			logger.ErrorCtx(ctx, "bringup online failed", logger.HWQPID(h.ID), logger.Err(err))
			return
		}
	}

	queue.Enqueue(admin.EventPortOnline, admin.Args{Port: port}, func(r admin.ResultCode) { done <- r })
	logger.InfoCtx(ctx, "port online result", logger.RequestState(fmt.Sprint(<-done)))

	nport := fabric.NewNPort(fabric.NPortID{PortHandle: demoPortHandle, NPortHandle: demoNPortHandle}, 0x010203, 0xAAAA, 0xBBBB)
	port.AddNPort(nport)
	queue.Enqueue(admin.EventNPortCreate, admin.Args{
		Port:        port,
		NPort:       nport,
		PortHandle:  demoPortHandle,
		NPortHandle: demoNPortHandle,
		NodeWWN:     nport.NodeWWN,
		PortWWN:     nport.PortWWN,
	}, func(r admin.ResultCode) { done <- r })
	logger.InfoCtx(ctx, "nport create result", logger.RequestState(fmt.Sprint(<-done)))

	const demoRPI = 0x4242
	const demoSID = 0x050607
	queue.Enqueue(admin.EventITAdd, admin.Args{
		Port:    port,
		NPort:   nport,
		RPI:     demoRPI,
		SID:     demoSID,
		NodeWWN: 0xCCCC,
		PortWWN: 0xDDDD,
	}, func(r admin.ResultCode) { done <- r })
	logger.InfoCtx(ctx, "I_T add result", logger.RequestState(fmt.Sprint(<-done)))

	rport, ok := lsHWQP.LookupRemotePort(fabric.RemotePortID{NPort: nport, SID: demoSID, RPI: demoRPI})
	if !ok {
		logger.ErrorCtx(ctx, "remote port not registered after I_T add")
		return
	}

	processor := lsproc.New(cfg, generic)

	var hostID [wire.AssocHostIDLen]byte
	copy(hostID[:], "demo-host-id")
	var hostNQNField, subNQNField [wire.NQNFieldSize]byte
	copy(hostNQNField[:], demoHostNQN)
	copy(subNQNField[:], demoSubNQN)

	createAssocBuf := wire.CreateAssocRqst{
		DescListLen: 1016,
		Cmd: wire.CreateAssocCmd{
			ERSPRatio: 4,
			SQSize:    32,
			HostID:    hostID,
			HostNQN:   hostNQNField,
			SubNQN:    subNQNField,
		},
	}.Encode()

	assocResult, err := processor.CreateAssociation(ctx, createAssocBuf[:], nport, rport)
	if err != nil {
		logger.ErrorCtx(ctx, "create association rejected", logger.Err(err))
		return
	}
	lsHWQP.AddConnection(assocResult.AdminConn)
	logger.InfoCtx(ctx, "association established",
		logger.AssociationID(assocResult.Association.ID),
		logger.ConnectionID(assocResult.AdminConn.ID))

	lookup := func(id uint64) (*fabric.Association, bool) {
		if id == assocResult.Association.ID {
			return assocResult.Association, true
		}
		return nil, false
	}

	createConnBuf := wire.CreateConnRqst{
		DescListLen:   72,
		AssociationID: assocResult.Association.ID,
		Cmd: wire.CreateConnCmd{
			ERSPRatio: 4,
			QID:       1,
			SQSize:    64,
		},
	}.Encode()

	connResult, err := processor.CreateConnection(ctx, createConnBuf[:], lookup)
	if err != nil {
		logger.ErrorCtx(ctx, "create connection rejected", logger.Err(err))
		return
	}
	ioHWQP := port.IOHWQPs[0]
	connResult.Connection.HWQP = ioHWQP
	ioHWQP.AddConnection(connResult.Connection)
	logger.InfoCtx(ctx, "I/O connection established",
		logger.ConnectionID(connResult.Connection.ID), logger.QID(connResult.Connection.QID))

	disconnectBuf := wire.DisconnectRqst{
		DescListLen:   40,
		AssociationID: assocResult.Association.ID,
	}.Encode()

	assocToDelete, err := processor.Disconnect(ctx, disconnectBuf[:], lookup)
	if err != nil {
		logger.ErrorCtx(ctx, "disconnect rejected", logger.Err(err))
		return
	}

	deleteDone := make(chan struct{})
	queue.Enqueue(admin.EventITDelete, admin.Args{
		Port:       port,
		NPort:      nport,
		RemotePort: rport,
	}, func(admin.ResultCode) {
		queue.DeleteAssociation(ctx, assocToDelete, lsHWQP, true, func() { close(deleteDone) })
	})
	<-deleteDone
	logger.InfoCtx(ctx, "association torn down", logger.AssociationID(assocToDelete.ID))

	queue.Enqueue(admin.EventNPortDelete, admin.Args{
		Port:        port,
		NPort:       nport,
		PortHandle:  demoPortHandle,
		NPortHandle: demoNPortHandle,
	}, func(r admin.ResultCode) { done <- r })
	logger.InfoCtx(ctx, "nport delete result", logger.RequestState(fmt.Sprint(<-done)))
	port.RemoveNPort(nport)

	queue.Enqueue(admin.EventPortOffline, admin.Args{Port: port}, func(r admin.ResultCode) { done <- r })
	logger.InfoCtx(ctx, "port offline result", logger.RequestState(fmt.Sprint(<-done)))
}
