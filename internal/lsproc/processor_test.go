package lsproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcnvmf/target/internal/config"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/nvmfshim"
	"github.com/fcnvmf/target/internal/wire"
)

type stubSubsystem struct {
	nqn         string
	allowedHost string
}

func (s stubSubsystem) NQN() string                            { return s.nqn }
func (s stubSubsystem) AllowsHost(hostNQN string) bool          { return hostNQN == s.allowedHost }
func (s stubSubsystem) AddListenAddress(context.Context, nvmfshim.ListenAddress) error { return nil }
func (s stubSubsystem) RemoveListenAddress(context.Context, nvmfshim.ListenAddress) error {
	return nil
}
func (s stubSubsystem) Pause(context.Context) error  { return nil }
func (s stubSubsystem) Resume(context.Context) error { return nil }

type stubResolver struct {
	subs map[string]nvmfshim.Subsystem
}

func (r stubResolver) Resolve(subNQN string) (nvmfshim.Subsystem, bool) {
	sub, ok := r.subs[subNQN]
	return sub, ok
}

func (r stubResolver) All() []nvmfshim.Subsystem {
	out := make([]nvmfshim.Subsystem, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		MaxAdminQueueDepth:         128,
		MaxIOQueueDepth:            1024,
		MaxQueuePairsPerController: 4,
		MaxIOSize:                 262144,
		IOUnitSize:                4096,
		HWQPCount:                 2,
		PollGroupCount:            2,
	}
}

func fixedLenField(s string, size int) []byte {
	b := make([]byte, size)
	copy(b, s)
	return b
}

func buildCreateAssocRqst(subNQN, hostNQN string, ersp, sqsize uint16) []byte {
	cmd := wire.CreateAssocCmd{ERSPRatio: ersp, SQSize: sqsize}
	copy(cmd.HostNQN[:], fixedLenField(hostNQN, wire.NQNFieldSize))
	copy(cmd.SubNQN[:], fixedLenField(subNQN, wire.NQNFieldSize))
	rqst := wire.CreateAssocRqst{DescListLen: wire.CreateAssociationReqSize - 8, Cmd: cmd}
	b := rqst.Encode()
	return b[:]
}

func newTestNPortAndRPort() (*fabric.NPort, *fabric.RemotePort) {
	n := fabric.NewNPort(fabric.NPortID{PortHandle: 1, NPortHandle: 1}, 0x010203, 1, 2)
	rp := fabric.NewRemotePort(fabric.RemotePortID{NPort: n, SID: 0x0a0b0c, RPI: 7}, 3, 4)
	return n, rp
}

func TestCreateAssociationAccepts(t *testing.T) {
	resolver := stubResolver{subs: map[string]nvmfshim.Subsystem{
		"nqn.sub": stubSubsystem{nqn: "nqn.sub", allowedHost: "nqn.host"},
	}}
	p := New(testConfig(), resolver)
	n, rp := newTestNPortAndRPort()

	buf := buildCreateAssocRqst("nqn.sub", "nqn.host", 4, 32)
	res, err := p.CreateAssociation(context.Background(), buf, n, rp)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, uint16(0), res.AdminConn.QID)
	assert.Equal(t, res.Association.ID, res.Accept.AssociationID)
	assert.Equal(t, res.AdminConn.ID, res.Accept.ConnectionID)
	assert.Same(t, res.Association, res.AdminConn.Association)
}

func TestCreateAssociationRejectsUnknownSubsystem(t *testing.T) {
	p := New(testConfig(), stubResolver{subs: map[string]nvmfshim.Subsystem{}})
	n, rp := newTestNPortAndRPort()

	buf := buildCreateAssocRqst("nqn.missing", "nqn.host", 4, 32)
	_, err := p.CreateAssociation(context.Background(), buf, n, rp)
	require.Error(t, err)

	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, wire.RejectExpInvalidSubNQN, rej.Explanation)
}

func TestCreateAssociationRejectsDisallowedHost(t *testing.T) {
	resolver := stubResolver{subs: map[string]nvmfshim.Subsystem{
		"nqn.sub": stubSubsystem{nqn: "nqn.sub", allowedHost: "nqn.allowed"},
	}}
	p := New(testConfig(), resolver)
	n, rp := newTestNPortAndRPort()

	buf := buildCreateAssocRqst("nqn.sub", "nqn.other", 4, 32)
	_, err := p.CreateAssociation(context.Background(), buf, n, rp)
	require.Error(t, err)

	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, wire.RejectReasonInvalidHost, rej.Reason)
}

func TestCreateAssociationRejectsBadERSPRatio(t *testing.T) {
	resolver := stubResolver{subs: map[string]nvmfshim.Subsystem{
		"nqn.sub": stubSubsystem{nqn: "nqn.sub", allowedHost: "nqn.host"},
	}}
	p := New(testConfig(), resolver)
	n, rp := newTestNPortAndRPort()

	buf := buildCreateAssocRqst("nqn.sub", "nqn.host", 32, 32) // ratio must be < sqsize
	_, err := p.CreateAssociation(context.Background(), buf, n, rp)
	require.Error(t, err)

	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, wire.RejectExpInvalidERSP, rej.Explanation)
}

func TestCreateConnectionAcceptsAndRejects(t *testing.T) {
	resolver := stubResolver{subs: map[string]nvmfshim.Subsystem{
		"nqn.sub": stubSubsystem{nqn: "nqn.sub", allowedHost: "nqn.host"},
	}}
	p := New(testConfig(), resolver)
	n, rp := newTestNPortAndRPort()
	assocRes, err := p.CreateAssociation(context.Background(), buildCreateAssocRqst("nqn.sub", "nqn.host", 4, 32), n, rp)
	require.NoError(t, err)

	lookup := func(id uint64) (*fabric.Association, bool) {
		if id == assocRes.Association.ID {
			return assocRes.Association, true
		}
		return nil, false
	}

	connRqst := wire.CreateConnRqst{
		DescListLen:   wire.CreateConnectionReqSize - 8,
		AssociationID: assocRes.Association.ID,
		Cmd:           wire.CreateConnCmd{ERSPRatio: 4, QID: 1, SQSize: 32},
	}
	b := connRqst.Encode()

	res, err := p.CreateConnection(context.Background(), b[:], lookup)
	require.NoError(t, err)
	assert.NotZero(t, res.Connection.QID)
	assert.Same(t, assocRes.Association, res.Connection.Association)

	t.Run("RejectsUnknownAssociation", func(t *testing.T) {
		missingLookup := func(uint64) (*fabric.Association, bool) { return nil, false }
		_, err := p.CreateConnection(context.Background(), b[:], missingLookup)
		require.Error(t, err)
		var rej *RejectError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, wire.RejectReasonInvalidAssoc, rej.Reason)
	})

	t.Run("RejectsSQSizeAboveConfiguredMax", func(t *testing.T) {
		oversized := wire.CreateConnRqst{
			DescListLen:   wire.CreateConnectionReqSize - 8,
			AssociationID: assocRes.Association.ID,
			Cmd:           wire.CreateConnCmd{ERSPRatio: 4, QID: 2, SQSize: testConfig().MaxIOQueueDepth + 1},
		}
		ob := oversized.Encode()

		_, err := p.CreateConnection(context.Background(), ob[:], lookup)
		require.Error(t, err)
		var rej *RejectError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, wire.RejectExpSQSize, rej.Explanation)
	})
}

func TestDisconnectLooksUpAssociation(t *testing.T) {
	p := New(testConfig(), stubResolver{})
	assoc := fabric.NewAssociation(99, nil, nil, "h", "s", [fabric.AssocHostIDLen]byte{}, 1)
	lookup := func(id uint64) (*fabric.Association, bool) {
		if id == 99 {
			return assoc, true
		}
		return nil, false
	}

	rqst := wire.DisconnectRqst{DescListLen: wire.DisconnectReqSize - 8, AssociationID: 99}
	b := rqst.Encode()

	got, err := p.Disconnect(context.Background(), b[:], lookup)
	require.NoError(t, err)
	assert.Same(t, assoc, got)

	t.Run("RejectsUnknownAssociation", func(t *testing.T) {
		missingLookup := func(uint64) (*fabric.Association, bool) { return nil, false }
		_, err := p.Disconnect(context.Background(), b[:], missingLookup)
		require.Error(t, err)
		var rej *RejectError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, wire.RejectReasonInvalidAssoc, rej.Reason)
	})
}
