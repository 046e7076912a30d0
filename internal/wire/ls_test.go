package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssocRqstRoundTrip(t *testing.T) {
	var hostID [AssocHostIDLen]byte
	for i := range hostID {
		hostID[i] = byte(i + 1)
	}
	var hostNQN, subNQN [NQNFieldSize]byte
	copy(hostNQN[:], "nqn.2017-11.fc_host")
	copy(subNQN[:], "nqn.2017-11.io.spdk:sn.good:subsystem.good")

	rqst := CreateAssocRqst{
		DescListLen: createAssocCmdSize,
		Cmd: CreateAssocCmd{
			ERSPRatio: 16,
			CntlID:    0xffff,
			SQSize:    32,
			HostID:    hostID,
			HostNQN:   hostNQN,
			SubNQN:    subNQN,
		},
	}
	enc := rqst.Encode()
	require.Len(t, enc[:], CreateAssociationReqSize)

	got, err := DecodeCreateAssocRqst(enc[:])
	require.NoError(t, err)
	assert.Equal(t, rqst, got)
}

func TestCreateAssocAcceptRoundTrip(t *testing.T) {
	acc := CreateAssocAccept{OriginalDescLen: createAssocCmdSize, AssociationID: 0xdeadbeef, ConnectionID: 1}
	enc := acc.Encode()
	require.Len(t, enc[:], CreateAssociationAcceptSize)

	got, err := DecodeCreateAssocAccept(enc[:])
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestCreateConnRqstRoundTrip(t *testing.T) {
	rqst := CreateConnRqst{
		DescListLen:   assocIDDescSize + createConnCmdSize,
		AssociationID: 0x0102030405060708,
		Cmd:           CreateConnCmd{ERSPRatio: 8, QID: 1, SQSize: 128},
	}
	enc := rqst.Encode()
	require.Len(t, enc[:], CreateConnectionReqSize)

	got, err := DecodeCreateConnRqst(enc[:])
	require.NoError(t, err)
	assert.Equal(t, rqst, got)
}

func TestCreateConnAcceptRoundTrip(t *testing.T) {
	acc := CreateConnAccept{OriginalDescLen: assocIDDescSize + createConnCmdSize, ConnectionID: 0xaa}
	enc := acc.Encode()
	require.Len(t, enc[:], CreateConnectionAcceptSize)

	got, err := DecodeCreateConnAccept(enc[:])
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestDisconnectRqstRoundTrip(t *testing.T) {
	rqst := DisconnectRqst{DescListLen: assocIDDescSize + disconnectCmdSize, AssociationID: 0x42}
	enc := rqst.Encode()
	require.Len(t, enc[:], DisconnectReqSize)

	got, err := DecodeDisconnectRqst(enc[:])
	require.NoError(t, err)
	assert.Equal(t, rqst, got)
}

func TestDisconnectAcceptRoundTrip(t *testing.T) {
	acc := DisconnectAccept{OriginalDescLen: assocIDDescSize + disconnectCmdSize}
	enc := acc.Encode()
	require.Len(t, enc[:], DisconnectAcceptSize)

	got, err := DecodeDisconnectAccept(enc[:])
	require.NoError(t, err)
	assert.Equal(t, acc, got)

	t.Run("DescListLenMatchesAssociationDisconnect", func(t *testing.T) {
		// scenario 1 in spec.md §9: Disconnect accept descriptor list length == 16
		assert.Equal(t, uint32(rqstDescSize), be32(enc[4:8]))
	})
}

func TestRejectPayloadRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		reject RejectPayload
	}{
		{
			name: "InvalidSubNQN",
			reject: RejectPayload{
				OriginalCmd:     LSCreateAssociation,
				OriginalDescLen: createAssocCmdSize,
				Reason:          RejectReasonInvalidParam,
				Explanation:     RejectExpInvalidSubNQN,
			},
		},
		{
			name: "InvalidHostNQN",
			reject: RejectPayload{
				OriginalCmd:     LSCreateAssociation,
				OriginalDescLen: createAssocCmdSize,
				Reason:          RejectReasonInvalidHost,
				Explanation:     RejectExpInvalidHostNQN,
			},
		},
		{
			name: "InvalidAssociationID",
			reject: RejectPayload{
				OriginalCmd:     LSDisconnect,
				OriginalDescLen: assocIDDescSize + disconnectCmdSize,
				Reason:          RejectReasonInvalidAssoc,
				Explanation:     RejectExpNone,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := tc.reject.Encode()
			require.Len(t, enc[:], LSRejectSize)

			got, err := DecodeReject(enc[:])
			require.NoError(t, err)
			assert.Equal(t, tc.reject, got)
		})
	}
}

func TestDecodeRejectsWrongLSCmd(t *testing.T) {
	acc := CreateAssocAccept{}.Encode()
	_, err := DecodeReject(acc[:])
	assert.Error(t, err)
}
