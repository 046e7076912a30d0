package pollgroup

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcnvmf/target/internal/bufcache"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/nvmfshim"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/reqpool"
	"github.com/fcnvmf/target/internal/wire"
)

type fakeDriver struct {
	posted       [][]byte
	dataSent     [][]byte
	xriExhausted bool
}

func (f *fakeDriver) InitQueue(context.Context, uint32) (lld.QueueHandle, error) { return "q", nil }
func (f *fakeDriver) ReinitQueue(context.Context, lld.QueueHandle) error         { return nil }
func (f *fakeDriver) SetQueueOnline(context.Context, lld.QueueHandle) error      { return nil }
func (f *fakeDriver) AcquireXRI(lld.QueueHandle) (uint32, bool) {
	if f.xriExhausted {
		return 0, false
	}
	return 7, true
}
func (f *fakeDriver) ReleaseXRI(lld.QueueHandle, uint32) {}
func (f *fakeDriver) PostXferReady(context.Context, lld.QueueHandle, uint32, []byte) error {
	return nil
}
func (f *fakeDriver) PostDataSend(ctx context.Context, q lld.QueueHandle, xri uint32, data []byte) error {
	f.dataSent = append(f.dataSent, data)
	return nil
}
func (f *fakeDriver) PostResponse(ctx context.Context, q lld.QueueHandle, xri uint32, payload []byte) error {
	f.posted = append(f.posted, payload)
	return nil
}
func (f *fakeDriver) PostLSResponse(context.Context, lld.QueueHandle, uint16, []byte) error { return nil }
func (f *fakeDriver) PostBLSResponse(context.Context, lld.QueueHandle, uint16, uint16, []byte) error {
	return nil
}
func (f *fakeDriver) IssueAbort(context.Context, lld.QueueHandle, uint32, bool) error { return nil }
func (f *fakeDriver) PostSRSRRequest(context.Context, lld.QueueHandle, []byte) ([]byte, error) {
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

type fakeGeneric struct{}

func (fakeGeneric) Resolve(string) (nvmfshim.Subsystem, bool) { return nil, false }
func (fakeGeneric) All() []nvmfshim.Subsystem                 { return nil }
func (fakeGeneric) Connect(context.Context, nvmfshim.ConnectRequest) (<-chan nvmfshim.ConnectResult, error) {
	return nil, nil
}
func (fakeGeneric) NewQueuePair(context.Context, nvmfshim.QueuePair) error { return nil }
func (fakeGeneric) ExecuteRequest(ctx context.Context, req nvmfshim.Request, complete nvmfshim.CompleteFunc) error {
	complete(nvmfshim.Completion{TransferredLen: uint32(len(req.Data))})
	return nil
}
func (fakeGeneric) DestroyQueuePair(context.Context, uint64) error { return nil }

func setupGroup(t *testing.T) (*PollGroup, *fakeDriver, *fabric.HWQP, *fabric.Connection) {
	t.Helper()
	hwqp := fabric.NewHWQP(0, fabric.NewPort(1, nil, nil))
	assoc := fabric.NewAssociation(1, nil, nil, "h", "s", [fabric.AssocHostIDLen]byte{}, 1)
	conn := fabric.NewConnection(fabric.ConnectionID(hwqp.ID, 1), 1, 32, hwqp, assoc, 0x77, 0x0a0b0c, 0x010203)
	conn.State = fabric.StateCreated
	conn.ReqPool = reqpool.New(4)
	assoc.AddConnection(conn)
	hwqp.AddConnection(conn)

	driver := &fakeDriver{}
	pl := pipeline.New(65536, driver, fakeGeneric{}, nil)
	cache := bufcache.New(2, 4096)
	g := New(1, driver, pl, cache, &sync.Mutex{})
	g.AddHWQP(hwqp)

	return g, driver, hwqp, conn
}

func frameReceivedEvent(conn *fabric.Connection) lld.Event {
	iu := wire.CmndIU{SCSIID: wire.CmndIUSCSIID, FCID: wire.CmndIUFCID, ConnectionID: conn.ID}
	iu.NVMeCmd[0] = 0x00 // Flush, data-direction bits 00 = none
	hdr := wire.Header{SID: conn.SID, DID: conn.DID}
	hdrBytes := hdr.Encode()
	iuBytes := iu.Encode()
	payload := append(append([]byte{}, hdrBytes[:]...), iuBytes[:]...)
	return lld.Event{Kind: lld.EventFrameReceived, Payload: payload}
}

func readFrameReceivedEvent(conn *fabric.Connection, dataLen uint32) lld.Event {
	iu := wire.CmndIU{SCSIID: wire.CmndIUSCSIID, FCID: wire.CmndIUFCID, ConnectionID: conn.ID, DataLen: dataLen}
	iu.NVMeCmd[0] = 0x02 // Read, data-direction bits 10 = controller-to-host
	hdr := wire.Header{SID: conn.SID, DID: conn.DID}
	hdrBytes := hdr.Encode()
	iuBytes := iu.Encode()
	payload := append(append([]byte{}, hdrBytes[:]...), iuBytes[:]...)
	return lld.Event{Kind: lld.EventFrameReceived, Payload: payload}
}

func TestHandleFrameReceivedDrivesRequestToCompletion(t *testing.T) {
	g, driver, hwqp, conn := setupGroup(t)

	g.handleEvent(context.Background(), hwqp, "q", frameReceivedEvent(conn))

	require.Len(t, driver.posted, 1, "none-direction command should complete and post a response")
}

func TestHandleFrameReceivedReadCommandSendsDataThenResponse(t *testing.T) {
	g, driver, hwqp, conn := setupGroup(t)

	g.handleEvent(context.Background(), hwqp, "q", readFrameReceivedEvent(conn, 4096))
	require.Len(t, driver.dataSent, 1, "read command should post its data transfer")
	require.Empty(t, driver.posted, "response must not be posted before the data transfer completes")

	g.handleEvent(context.Background(), hwqp, "q", lld.Event{Kind: lld.EventDataSendComplete, XRI: 7})
	require.Len(t, driver.posted, 1, "response should follow the data transfer's completion")
}

func TestRetryPendingFCPRetriesOnNextPass(t *testing.T) {
	g, driver, hwqp, conn := setupGroup(t)
	driver.xriExhausted = true

	g.handleEvent(context.Background(), hwqp, "q", frameReceivedEvent(conn))
	require.Empty(t, driver.posted, "exhausted XRI should not complete the request")
	require.Len(t, hwqp.InUseRequests(), 1, "request must stay tracked while parked pending retry")

	driver.xriExhausted = false
	retried := g.retryPendingFCP(context.Background(), hwqp, "q")
	require.True(t, retried, "a parked request should be retried")
	require.Len(t, driver.posted, 1, "retry should drive the request to completion")
}

func TestAddAndRemoveHWQP(t *testing.T) {
	g, _, hwqp, _ := setupGroup(t)
	assert.Len(t, g.HWQPs(), 1)
	assert.Same(t, g, hwqp.PollGroup)

	g.RemoveHWQP(hwqp)
	assert.Empty(t, g.HWQPs())
}

func TestHandleAbortCompleteFreesRequest(t *testing.T) {
	g, driver, hwqp, conn := setupGroup(t)

	req, err := g.Pipeline.Receive(context.Background(), hwqp, wire.Header{SID: conn.SID, DID: conn.DID}, func() []byte {
		iu := wire.CmndIU{SCSIID: wire.CmndIUSCSIID, FCID: wire.CmndIUFCID, ConnectionID: conn.ID}
		iu.NVMeCmd[0] = 0x01
		b := iu.Encode()
		return b[:]
	}(), nil)
	require.NoError(t, err)
	req.SetXRI(42)
	req.SetState(reqpool.StateWriteXfer)

	g.handleEvent(context.Background(), hwqp, "q", lld.Event{Kind: lld.EventAbortComplete, XRI: 42})

	assert.Equal(t, reqpool.StateAborted, req.State)
	assert.Empty(t, hwqp.InUseRequests())
	_ = driver
}
