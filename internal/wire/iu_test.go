package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmndIURoundTrip(t *testing.T) {
	t.Run("EncodeDecodePreservesFields", func(t *testing.T) {
		var cmd [NVMeCmdSize]byte
		for i := range cmd {
			cmd[i] = byte(i)
		}
		iu := CmndIU{
			SCSIID:       CmndIUSCSIID,
			FCID:         CmndIUFCID,
			ConnectionID: 0x0102030405060708,
			CmndSeqNum:   42,
			DataLen:      4096,
			NVMeCmd:      cmd,
		}
		enc := iu.Encode()
		require.Len(t, enc[:], CmndIUSize)

		got, err := DecodeCmndIU(enc[:])
		require.NoError(t, err)
		assert.Equal(t, iu, got)
		assert.True(t, got.Valid())
	})

	t.Run("InvalidWellKnownBytesFailValidation", func(t *testing.T) {
		iu := CmndIU{SCSIID: 0, FCID: 0}
		enc := iu.Encode()
		got, err := DecodeCmndIU(enc[:])
		require.NoError(t, err)
		assert.False(t, got.Valid())
	})

	t.Run("DecodeShortReadFails", func(t *testing.T) {
		_, err := DecodeCmndIU(make([]byte, CmndIUSize-1))
		assert.Error(t, err)
	})
}

func TestERSPIURoundTrip(t *testing.T) {
	var cpl [NVMeCplSize]byte
	for i := range cpl {
		cpl[i] = byte(0xA0 + i)
	}
	iu := ERSPIU{
		StatusCode:         1,
		ResponseSeqNo:      7,
		TransferredDataLen: 65536,
		NVMeCpl:            cpl,
	}
	enc := iu.Encode()
	require.Len(t, enc[:], ERSPIUSize)

	got, err := DecodeERSPIU(enc[:])
	require.NoError(t, err)
	assert.Equal(t, iu, got)
}

func TestXferRdyIURoundTrip(t *testing.T) {
	iu := XferRdyIU{RelativeOffset: 4096, BurstLen: 8192}
	enc := iu.Encode()
	require.Len(t, enc[:], XferRdyIUSize)

	got, err := DecodeXferRdyIU(enc[:])
	require.NoError(t, err)
	assert.Equal(t, iu, got)
}

func TestIUShortReads(t *testing.T) {
	t.Run("ERSP", func(t *testing.T) {
		_, err := DecodeERSPIU(make([]byte, ERSPIUSize-1))
		assert.Error(t, err)
	})
	t.Run("XferRdy", func(t *testing.T) {
		_, err := DecodeXferRdyIU(make([]byte, XferRdyIUSize-1))
		assert.Error(t, err)
	})
}
