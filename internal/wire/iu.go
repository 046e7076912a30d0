package wire

import (
	"encoding/binary"
	"fmt"
)

// CMND_IU well-known identifier bytes (spec.md §6).
const (
	CmndIUFCID   = 0x28
	CmndIUSCSIID = 0xFD
)

// CMND_IU data-direction bits.
const (
	CmndIUNoData = 0x00
	CmndIURead   = 0x10
	CmndIUWrite  = 0x01
)

// CmndIUSize is the fixed wire size of a CMND_IU (96 bytes): the 16-byte
// id/conn_id header (identifier bytes 0-7, conn_id 8-15), 8 bytes of
// sequence/length, 64 bytes of NVMe SQE, and an 8-byte reserved trailer.
const CmndIUSize = 96

// NVMeCmdSize is the fixed size of an NVMe submission queue entry.
const NVMeCmdSize = 64

// CmndIU is the FC-NVMe command information unit carried in an FCP data
// frame (R_CTL == RCtlCmdReq, TYPE == TypeNVMFData).
type CmndIU struct {
	SCSIID      uint8
	FCID        uint8
	// Flags carries the data-direction hint (CmndIUNoData/Read/Write),
	// the third header byte.
	Flags        uint8
	ConnectionID uint64
	CmndSeqNum  uint32
	DataLen     uint32
	NVMeCmd     [NVMeCmdSize]byte
}

// Encode packs iu into its 96-byte wire representation.
func (iu CmndIU) Encode() [CmndIUSize]byte {
	var b [CmndIUSize]byte
	b[0] = iu.SCSIID
	b[1] = iu.FCID
	b[2] = iu.Flags
	// byte 3 reserved
	binary.BigEndian.PutUint64(b[8:16], iu.ConnectionID)
	binary.BigEndian.PutUint32(b[16:20], iu.CmndSeqNum)
	binary.BigEndian.PutUint32(b[20:24], iu.DataLen)
	copy(b[24:24+NVMeCmdSize], iu.NVMeCmd[:])
	// trailing 8 bytes reserved, left zero
	return b
}

// DecodeCmndIU unpacks a 96-byte CMND_IU, validating the well-known
// identifier bytes. Callers must separately validate DataLen against the
// transport's configured max I/O size (spec.md §4.3 step 5).
func DecodeCmndIU(b []byte) (CmndIU, error) {
	if len(b) < CmndIUSize {
		return CmndIU{}, fmt.Errorf("wire: cmnd_iu short read: got %d want %d", len(b), CmndIUSize)
	}
	iu := CmndIU{
		SCSIID:       b[0],
		FCID:         b[1],
		Flags:        b[2],
		ConnectionID: binary.BigEndian.Uint64(b[8:16]),
		CmndSeqNum:   binary.BigEndian.Uint32(b[16:20]),
		DataLen:      binary.BigEndian.Uint32(b[20:24]),
	}
	copy(iu.NVMeCmd[:], b[24:24+NVMeCmdSize])
	return iu, nil
}

// Valid reports whether the IU carries the well-known FC-NVMe identifier
// bytes (spec.md §4.3 step 1). It does not validate the length-in-dwords
// field because this package operates on already-framed payloads whose
// length is implied by the slice; callers that parse the raw wire length
// field should compare it against CmndIUSize/4 themselves.
func (iu CmndIU) Valid() bool {
	return iu.SCSIID == CmndIUSCSIID && iu.FCID == CmndIUFCID
}

// ERSPIUSize is the fixed wire size of an ERSP_IU (32 bytes).
const ERSPIUSize = 32

// NVMeCplSize is the fixed size of an NVMe completion queue entry.
const NVMeCplSize = 16

// ERSPIU is the extended response information unit: the full NVMe
// completion plus FC-NVMe sequence tracking (spec.md glossary "ERSP").
type ERSPIU struct {
	StatusCode          uint8
	ResponseSeqNo       uint32
	TransferredDataLen  uint32
	NVMeCpl             [NVMeCplSize]byte
}

// Encode packs iu into its 32-byte wire representation.
func (iu ERSPIU) Encode() [ERSPIUSize]byte {
	var b [ERSPIUSize]byte
	b[0] = iu.StatusCode
	binary.BigEndian.PutUint32(b[4:8], iu.ResponseSeqNo)
	binary.BigEndian.PutUint32(b[8:12], iu.TransferredDataLen)
	// bytes 12-15 reserved
	copy(b[16:16+NVMeCplSize], iu.NVMeCpl[:])
	return b
}

// DecodeERSPIU unpacks a 32-byte ERSP_IU.
func DecodeERSPIU(b []byte) (ERSPIU, error) {
	if len(b) < ERSPIUSize {
		return ERSPIU{}, fmt.Errorf("wire: ersp_iu short read: got %d want %d", len(b), ERSPIUSize)
	}
	iu := ERSPIU{
		StatusCode:         b[0],
		ResponseSeqNo:      binary.BigEndian.Uint32(b[4:8]),
		TransferredDataLen: binary.BigEndian.Uint32(b[8:12]),
	}
	copy(iu.NVMeCpl[:], b[16:16+NVMeCplSize])
	return iu, nil
}

// XferRdyIUSize is the fixed wire size of an XFER_RDY_IU (12 bytes).
const XferRdyIUSize = 12

// XferRdyIU requests the initiator transfer host-to-controller data
// (spec.md §4.3 "post an XFER_RDY").
type XferRdyIU struct {
	RelativeOffset uint32
	BurstLen       uint32
}

// Encode packs iu into its 12-byte wire representation.
func (iu XferRdyIU) Encode() [XferRdyIUSize]byte {
	var b [XferRdyIUSize]byte
	binary.BigEndian.PutUint32(b[0:4], iu.RelativeOffset)
	binary.BigEndian.PutUint32(b[4:8], iu.BurstLen)
	return b
}

// DecodeXferRdyIU unpacks a 12-byte XFER_RDY_IU.
func DecodeXferRdyIU(b []byte) (XferRdyIU, error) {
	if len(b) < XferRdyIUSize {
		return XferRdyIU{}, fmt.Errorf("wire: xfer_rdy_iu short read: got %d want %d", len(b), XferRdyIUSize)
	}
	return XferRdyIU{
		RelativeOffset: binary.BigEndian.Uint32(b[0:4]),
		BurstLen:       binary.BigEndian.Uint32(b[4:8]),
	}, nil
}
