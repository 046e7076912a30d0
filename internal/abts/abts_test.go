package abts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/reqpool"
	"github.com/fcnvmf/target/internal/wire"
)

type fakeDriver struct {
	queueSyncAvailable bool
	syncMarkerIssued   bool
	blsPosted          []wire.BARjtPayload
	accepted           int
}

func (f *fakeDriver) InitQueue(context.Context, uint32) (lld.QueueHandle, error) { return "q", nil }
func (f *fakeDriver) ReinitQueue(context.Context, lld.QueueHandle) error         { return nil }
func (f *fakeDriver) SetQueueOnline(context.Context, lld.QueueHandle) error      { return nil }
func (f *fakeDriver) AcquireXRI(lld.QueueHandle) (uint32, bool)                  { return 1, true }
func (f *fakeDriver) ReleaseXRI(lld.QueueHandle, uint32)                         {}
func (f *fakeDriver) PostXferReady(context.Context, lld.QueueHandle, uint32, []byte) error {
	return nil
}
func (f *fakeDriver) PostDataSend(context.Context, lld.QueueHandle, uint32, []byte) error { return nil }
func (f *fakeDriver) PostResponse(context.Context, lld.QueueHandle, uint32, []byte) error { return nil }
func (f *fakeDriver) PostLSResponse(context.Context, lld.QueueHandle, uint16, []byte) error {
	return nil
}
func (f *fakeDriver) PostSRSRRequest(context.Context, lld.QueueHandle, []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeDriver) ReleaseRQBuffer(lld.QueueHandle, uint32) {}
func (f *fakeDriver) PollQueue(context.Context, lld.QueueHandle, func(lld.Event)) (int, error) {
	return 0, nil
}

func (f *fakeDriver) QueueSyncAvailable(lld.QueueHandle) bool { return f.queueSyncAvailable }
func (f *fakeDriver) IssueQueueSyncMarker(context.Context, lld.QueueHandle, uint64) error {
	f.syncMarkerIssued = true
	return nil
}
func (f *fakeDriver) IssueAbort(context.Context, lld.QueueHandle, uint32, bool) error { return nil }
func (f *fakeDriver) PostBLSResponse(ctx context.Context, q lld.QueueHandle, oxid, rxid uint16, payload []byte) error {
	if len(payload) == wire.BAAccPayloadSize {
		f.accepted++
		return nil
	}
	if rjt, err := wire.DecodeBARjtPayload(payload); err == nil {
		f.blsPosted = append(f.blsPosted, rjt)
	}
	return nil
}

func newTestNPort() (*fabric.NPort, *fabric.Association, *fabric.Connection, *fabric.HWQP) {
	port := fabric.NewPort(1, nil, nil)
	nport := fabric.NewNPort(fabric.NPortID{PortHandle: 1, NPortHandle: 1}, 0x010203, 1, 2)
	port.AddNPort(nport)
	rport := fabric.NewRemotePort(fabric.RemotePortID{NPort: nport, SID: 0x0a0b0c, RPI: 0x100}, 3, 4)
	nport.AddRemotePort(rport)
	assoc := fabric.NewAssociation(1, nport, rport, "host", "sub", [fabric.AssocHostIDLen]byte{}, 4)
	nport.AddAssociation(assoc)

	hwqp := fabric.NewHWQP(0, port)
	conn := fabric.NewConnection(fabric.ConnectionID(hwqp.ID, 1), 1, 32, hwqp, assoc, 0x100, 0x0a0b0c, 0x010203)
	assoc.AddConnection(conn)
	hwqp.AddConnection(conn)

	return nport, assoc, conn, hwqp
}

func trackRequest(t *testing.T, hwqp *fabric.HWQP, conn *fabric.Connection, oxid uint16) *reqpool.Request {
	t.Helper()
	pool := reqpool.New(2)
	req, err := pool.Alloc()
	require.NoError(t, err)
	req.ConnectionID = conn.ID
	req.RPI = conn.RPI
	req.OXID = oxid
	req.SetState(reqpool.StatePending)
	hwqp.TrackRequest(req)
	return req
}

func TestHandleAcceptsOnFirstPassHit(t *testing.T) {
	nport, _, conn, hwqp := newTestNPort()
	trackRequest(t, hwqp, conn, 0x42)

	driver := &fakeDriver{}
	h := &Handler{Pipeline: pipeline.New(65536, driver, nil, nil), Driver: driver}

	h.Handle(context.Background(), nport, hwqp, "ls", 0x100, 0x42, 0x55)

	assert.Equal(t, 1, driver.accepted)
	assert.Empty(t, driver.blsPosted)
}

func TestHandleRejectsWhenNoOwningHWQPs(t *testing.T) {
	nport, _, _, hwqp := newTestNPort()

	driver := &fakeDriver{}
	h := &Handler{Pipeline: pipeline.New(65536, driver, nil, nil), Driver: driver}

	h.Handle(context.Background(), nport, hwqp, "ls", 0x999, 0x42, 0x55)

	assert.Equal(t, 0, driver.accepted)
	require.Len(t, driver.blsPosted, 1)
	assert.Equal(t, wire.BLSRejectExpInvalidOXID, driver.blsPosted[0].Explanation)
}

func TestHandleSecondPassFindsExchangeAfterSync(t *testing.T) {
	nport, _, conn, hwqp := newTestNPort()

	driver := &fakeDriver{queueSyncAvailable: true}
	h := &Handler{Pipeline: pipeline.New(65536, driver, nil, nil), Driver: driver}

	// First pass finds nothing (no request tracked yet); second pass
	// should issue a queue-sync marker and register a callback.
	h.Handle(context.Background(), nport, hwqp, "ls", 0x100, 0x42, 0x55)
	assert.True(t, driver.syncMarkerIssued)
	assert.Equal(t, 0, driver.accepted)

	// The exchange becomes visible on this HWQP between the first and
	// second pass (spec.md §4.5 scenario 5).
	trackRequest(t, hwqp, conn, 0x42)
	hwqp.RunAndClearSyncCallbacks()

	assert.Equal(t, 1, driver.accepted)
}

func TestHandleSecondPassStillNotFoundRejects(t *testing.T) {
	nport, _, _, hwqp := newTestNPort()

	driver := &fakeDriver{queueSyncAvailable: true}
	h := &Handler{Pipeline: pipeline.New(65536, driver, nil, nil), Driver: driver}

	h.Handle(context.Background(), nport, hwqp, "ls", 0x100, 0x42, 0x55)
	hwqp.RunAndClearSyncCallbacks()

	assert.Equal(t, 0, driver.accepted)
	require.Len(t, driver.blsPosted, 1)
}

func TestHandleEmitsNothingWhenNPortDeleted(t *testing.T) {
	nport, _, _, hwqp := newTestNPort()
	nport.State = fabric.StateZombie

	driver := &fakeDriver{}
	h := &Handler{Pipeline: pipeline.New(65536, driver, nil, nil), Driver: driver}

	h.Handle(context.Background(), nport, hwqp, "ls", 0x999, 0x42, 0x55)

	assert.Equal(t, 0, driver.accepted)
	assert.Empty(t, driver.blsPosted)
}
