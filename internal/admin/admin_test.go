package admin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcnvmf/target/internal/abts"
	"github.com/fcnvmf/target/internal/bufcache"
	"github.com/fcnvmf/target/internal/config"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/nvmfshim"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/pollgroup"
	"github.com/fcnvmf/target/internal/reqpool"
)

type fakeDriver struct {
	mu           sync.Mutex
	initialized  []uint32
	onlined      []lld.QueueHandle
	reinitted    []lld.QueueHandle
	srsrPosted   [][]byte
	blsPosted    int
}

func (f *fakeDriver) InitQueue(ctx context.Context, hwqpID uint32) (lld.QueueHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = append(f.initialized, hwqpID)
	return hwqpID, nil
}
func (f *fakeDriver) ReinitQueue(ctx context.Context, q lld.QueueHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reinitted = append(f.reinitted, q)
	return nil
}
func (f *fakeDriver) SetQueueOnline(ctx context.Context, q lld.QueueHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlined = append(f.onlined, q)
	return nil
}
func (f *fakeDriver) AcquireXRI(lld.QueueHandle) (uint32, bool) { return 1, true }
func (f *fakeDriver) ReleaseXRI(lld.QueueHandle, uint32)        {}
func (f *fakeDriver) PostXferReady(context.Context, lld.QueueHandle, uint32, []byte) error {
	return nil
}
func (f *fakeDriver) PostDataSend(context.Context, lld.QueueHandle, uint32, []byte) error { return nil }
func (f *fakeDriver) PostResponse(context.Context, lld.QueueHandle, uint32, []byte) error { return nil }
func (f *fakeDriver) PostLSResponse(context.Context, lld.QueueHandle, uint16, []byte) error {
	return nil
}
func (f *fakeDriver) PostBLSResponse(ctx context.Context, q lld.QueueHandle, oxid, rxid uint16, payload []byte) error {
	f.mu.Lock()
	f.blsPosted++
	f.mu.Unlock()
	return nil
}
func (f *fakeDriver) IssueAbort(context.Context, lld.QueueHandle, uint32, bool) error { return nil }
func (f *fakeDriver) PostSRSRRequest(ctx context.Context, q lld.QueueHandle, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.srsrPosted = append(f.srsrPosted, payload)
	f.mu.Unlock()
	return nil, nil
}
func (f *fakeDriver) QueueSyncAvailable(lld.QueueHandle) bool { return false }
func (f *fakeDriver) IssueQueueSyncMarker(context.Context, lld.QueueHandle, uint64) error {
	return nil
}
func (f *fakeDriver) ReleaseRQBuffer(lld.QueueHandle, uint32) {}
func (f *fakeDriver) PollQueue(context.Context, lld.QueueHandle, func(lld.Event)) (int, error) {
	return 0, nil
}

type fakeSubsystem struct {
	mu                sync.Mutex
	paused, resumed   int
	added, removed    int
	failAdd           bool
}

func (s *fakeSubsystem) NQN() string                      { return "nqn.test" }
func (s *fakeSubsystem) AllowsHost(string) bool           { return true }
func (s *fakeSubsystem) Pause(context.Context) error      { s.mu.Lock(); s.paused++; s.mu.Unlock(); return nil }
func (s *fakeSubsystem) Resume(context.Context) error     { s.mu.Lock(); s.resumed++; s.mu.Unlock(); return nil }
func (s *fakeSubsystem) AddListenAddress(context.Context, nvmfshim.ListenAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added++
	if s.failAdd {
		return errAddListenAddress
	}
	return nil
}
func (s *fakeSubsystem) RemoveListenAddress(context.Context, nvmfshim.ListenAddress) error {
	s.mu.Lock()
	s.removed++
	s.mu.Unlock()
	return nil
}

var errAddListenAddress = errors.New("add listen address failed")

type fakeGeneric struct {
	subs []nvmfshim.Subsystem
	destroyed []uint64
	mu sync.Mutex
}

func (f *fakeGeneric) Resolve(string) (nvmfshim.Subsystem, bool) { return nil, false }
func (f *fakeGeneric) All() []nvmfshim.Subsystem                 { return f.subs }
func (f *fakeGeneric) Connect(context.Context, nvmfshim.ConnectRequest) (<-chan nvmfshim.ConnectResult, error) {
	return nil, nil
}
func (f *fakeGeneric) NewQueuePair(context.Context, nvmfshim.QueuePair) error { return nil }
func (f *fakeGeneric) ExecuteRequest(ctx context.Context, req nvmfshim.Request, complete nvmfshim.CompleteFunc) error {
	complete(nvmfshim.Completion{})
	return nil
}
func (f *fakeGeneric) DestroyQueuePair(ctx context.Context, connID uint64) error {
	f.mu.Lock()
	f.destroyed = append(f.destroyed, connID)
	f.mu.Unlock()
	return nil
}

func newTestQueue(t *testing.T, driver *fakeDriver, generic *fakeGeneric) (*Queue, *pollgroup.PollGroup) {
	t.Helper()
	pl := pipeline.New(65536, driver, generic, nil)
	abtsHandler := &abts.Handler{Pipeline: pl, Driver: driver}
	cache := bufcache.New(4, 4096)
	adminMu := &sync.Mutex{}
	g := pollgroup.New(1, driver, pl, cache, adminMu)
	q := New(driver, pl, abtsHandler, generic, config.Config{}, []*pollgroup.PollGroup{g})
	return q, g
}

func TestPortOnlineAddsIOHWQPsToPollGroup(t *testing.T) {
	driver := &fakeDriver{}
	q, g := newTestQueue(t, driver, &fakeGeneric{})

	lsHWQP := fabric.NewHWQP(0, nil)
	ioHWQP := fabric.NewHWQP(1, nil)
	port := fabric.NewPort(1, lsHWQP, []*fabric.HWQP{ioHWQP})
	lsHWQP.Port, ioHWQP.Port = port, port

	var result ResultCode
	done := make(chan struct{})
	q.Enqueue(EventPortInit, Args{Port: port}, func(r ResultCode) { result = r; close(done) })
	go q.Run(context.Background())
	<-done
	require.Equal(t, ResultOK, result)

	done2 := make(chan struct{})
	q.Enqueue(EventPortOnline, Args{Port: port}, func(r ResultCode) { result = r; close(done2) })
	<-done2
	require.Equal(t, ResultOK, result)

	assert.Len(t, g.HWQPs(), 1)
	assert.Equal(t, fabric.PortOnline, port.State)
	assert.Equal(t, fabric.HWQPOnline, ioHWQP.State)
}

func TestPortOfflineRemovesIOHWQPsAndRequiresNoNPorts(t *testing.T) {
	driver := &fakeDriver{}
	q, g := newTestQueue(t, driver, &fakeGeneric{})

	ioHWQP := fabric.NewHWQP(1, nil)
	port := fabric.NewPort(1, nil, []*fabric.HWQP{ioHWQP})
	ioHWQP.Port = port
	g.AddHWQP(ioHWQP)

	done := make(chan struct{})
	var result ResultCode
	go q.Run(context.Background())
	q.Enqueue(EventPortOffline, Args{Port: port}, func(r ResultCode) { result = r; close(done) })
	<-done

	assert.Equal(t, ResultOK, result)
	assert.Empty(t, g.HWQPs())
	assert.Equal(t, fabric.PortOffline, port.State)
}

func TestPortOfflineRejectedWithNPortsPresent(t *testing.T) {
	driver := &fakeDriver{}
	q, _ := newTestQueue(t, driver, &fakeGeneric{})

	port := fabric.NewPort(1, nil, nil)
	nport := fabric.NewNPort(fabric.NPortID{PortHandle: 1, NPortHandle: 1}, 1, 1, 1)
	port.AddNPort(nport)

	done := make(chan struct{})
	var result ResultCode
	go q.Run(context.Background())
	q.Enqueue(EventPortOffline, Args{Port: port}, func(r ResultCode) { result = r; close(done) })
	<-done

	assert.Equal(t, ResultInvalid, result)
}

func TestNPortCreatePausesAndResumesEverySubsystem(t *testing.T) {
	driver := &fakeDriver{}
	sub := &fakeSubsystem{}
	generic := &fakeGeneric{subs: []nvmfshim.Subsystem{sub}}
	q, _ := newTestQueue(t, driver, generic)

	nport := fabric.NewNPort(fabric.NPortID{PortHandle: 1, NPortHandle: 2}, 1, 1, 1)
	nport.State = fabric.StateToBeDeleted // exercise the re-create path explicitly

	done := make(chan struct{})
	var result ResultCode
	go q.Run(context.Background())
	q.Enqueue(EventNPortCreate, Args{NPort: nport, PortHandle: 1, NPortHandle: 2}, func(r ResultCode) { result = r; close(done) })
	<-done

	assert.Equal(t, ResultOK, result)
	assert.Equal(t, fabric.StateCreated, nport.State)
	assert.Equal(t, 1, sub.paused)
	assert.Equal(t, 1, sub.resumed)
	assert.Equal(t, 1, sub.added)
}

func TestNPortCreateFailureStillResumesSubsystem(t *testing.T) {
	driver := &fakeDriver{}
	sub := &fakeSubsystem{failAdd: true}
	generic := &fakeGeneric{subs: []nvmfshim.Subsystem{sub}}
	q, _ := newTestQueue(t, driver, generic)

	nport := fabric.NewNPort(fabric.NPortID{PortHandle: 1, NPortHandle: 2}, 1, 1, 1)

	done := make(chan struct{})
	var result ResultCode
	go q.Run(context.Background())
	q.Enqueue(EventNPortCreate, Args{NPort: nport}, func(r ResultCode) { result = r; close(done) })
	<-done

	assert.Equal(t, ResultFailed, result)
	assert.Equal(t, 1, sub.resumed)
}

func newAssociationFixture() (*fabric.NPort, *fabric.RemotePort, *fabric.Association, *fabric.Connection, *fabric.HWQP) {
	port := fabric.NewPort(1, nil, nil)
	nport := fabric.NewNPort(fabric.NPortID{PortHandle: 1, NPortHandle: 1}, 1, 1, 1)
	port.AddNPort(nport)
	rport := fabric.NewRemotePort(fabric.RemotePortID{NPort: nport, SID: 1, RPI: 7}, 1, 1)
	nport.AddRemotePort(rport)
	assoc := fabric.NewAssociation(1, nport, rport, "host", "sub", [fabric.AssocHostIDLen]byte{}, 2)
	nport.AddAssociation(assoc)
	rport.Ref()

	hwqp := fabric.NewHWQP(0, port)
	conn := fabric.NewConnection(fabric.ConnectionID(hwqp.ID, 1), 1, 32, hwqp, assoc, rport.RPI, rport.SID, nport.DID)
	conn.ReqPool = reqpool.New(2)
	assoc.AddConnection(conn)
	hwqp.AddConnection(conn)

	return nport, rport, assoc, conn, hwqp
}

func TestITDeleteFansOutToAssociationDelete(t *testing.T) {
	driver := &fakeDriver{}
	generic := &fakeGeneric{}
	q, _ := newTestQueue(t, driver, generic)

	nport, rport, assoc, conn, _ := newAssociationFixture()

	req, err := conn.ReqPool.Alloc()
	require.NoError(t, err)
	conn.TrackRequest(req)

	done := make(chan struct{})
	var result ResultCode
	go q.Run(context.Background())
	q.Enqueue(EventITDelete, Args{NPort: nport, RemotePort: rport, RPI: rport.RPI, SID: rport.SID}, func(r ResultCode) { result = r; close(done) })
	<-done

	assert.Equal(t, ResultOK, result)
	assert.Equal(t, fabric.StateZombie, assoc.State)
	assert.Equal(t, fabric.StateZombie, conn.State)
	assert.Empty(t, nport.Associations())
	assert.Empty(t, nport.RemotePorts())
	assert.Contains(t, generic.destroyed, conn.ID)
}

func TestDeleteAssociationIdempotentOnSecondCall(t *testing.T) {
	driver := &fakeDriver{}
	q, _ := newTestQueue(t, driver, &fakeGeneric{})
	_, _, assoc, _, _ := newAssociationFixture()

	var firstCalled, secondCalled bool
	q.DeleteAssociation(context.Background(), assoc, nil, false, func() { firstCalled = true })
	assert.True(t, firstCalled)

	q.DeleteAssociation(context.Background(), assoc, nil, false, func() { secondCalled = true })
	assert.True(t, secondCalled, "callback on an already-zombie association runs inline")
}

func TestABTSReceivedDelegatesToHandler(t *testing.T) {
	driver := &fakeDriver{}
	q, _ := newTestQueue(t, driver, &fakeGeneric{})

	nport, _, _, conn, hwqp := newAssociationFixture()
	req, err := conn.ReqPool.Alloc()
	require.NoError(t, err)
	req.ConnectionID = conn.ID
	req.OXID = 0x42
	req.RPI = conn.RPI
	hwqp.TrackRequest(req)

	done := make(chan struct{})
	var result ResultCode
	go q.Run(context.Background())
	q.Enqueue(EventABTSReceived, Args{NPort: nport, LSHWQP: hwqp, RPI: conn.RPI, OXID: 0x42, RXID: 0x55}, func(r ResultCode) { result = r; close(done) })
	<-done

	assert.Equal(t, ResultOK, result)
	assert.Equal(t, 1, driver.blsPosted)
}
