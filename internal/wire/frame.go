// Package wire implements the big-endian pack/unpack codec for the FC-NVMe
// frame header, Link Service descriptors, and the CMND_IU / ERSP_IU /
// XFER_RDY_IU information units. All sizes are fixed by the FC-NVMe
// specification and are asserted by the Encode/Decode pairs in this package.
package wire

import (
	"encoding/binary"
	"fmt"
)

// R_CTL field values (routing control), FC-NVMe table in spec.md §6.
const (
	RCtlCmdReq    = 0x06
	RCtlDataOut   = 0x01
	RCtlConfirm   = 0x03
	RCtlStatus    = 0x07
	RCtlERSP      = 0x08
	RCtlLSRequest = 0x32
	RCtlLSReply   = 0x33
	RCtlBAABTS    = 0x81
)

// TYPE field values.
const (
	TypeBLS        = 0x00
	TypeFCExchange = 0x08
	TypeNVMFData   = 0x28
)

// FrameHeaderSize is the fixed wire size of Header.
const FrameHeaderSize = 24

// Header is the 24-byte FC frame header carried ahead of every FC-NVMe
// payload. Every multi-byte field is big-endian on the wire.
type Header struct {
	RCtl    uint8
	DID     uint32 // 24-bit D_ID, high byte unused
	CSCtl   uint8
	SID     uint32 // 24-bit S_ID, high byte unused
	Type    uint8
	FCtl    uint32 // 24-bit F_CTL, high byte unused
	SeqID   uint8
	DFCtl   uint8
	SeqCnt  uint16
	OXID    uint16
	RXID    uint16
	Param   uint32
}

// Encode packs h into its 24-byte wire representation.
func (h Header) Encode() [FrameHeaderSize]byte {
	var b [FrameHeaderSize]byte
	b[0] = h.RCtl
	put24(b[1:4], h.DID)
	b[4] = h.CSCtl
	put24(b[5:8], h.SID)
	b[8] = h.Type
	put24(b[9:12], h.FCtl)
	b[12] = h.SeqID
	b[13] = h.DFCtl
	binary.BigEndian.PutUint16(b[14:16], h.SeqCnt)
	binary.BigEndian.PutUint16(b[16:18], h.OXID)
	binary.BigEndian.PutUint16(b[18:20], h.RXID)
	binary.BigEndian.PutUint32(b[20:24], h.Param)
	return b
}

// DecodeHeader unpacks a 24-byte FC frame header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < FrameHeaderSize {
		return Header{}, fmt.Errorf("wire: frame header short read: got %d want %d", len(b), FrameHeaderSize)
	}
	return Header{
		RCtl:   b[0],
		DID:    get24(b[1:4]),
		CSCtl:  b[4],
		SID:    get24(b[5:8]),
		Type:   b[8],
		FCtl:   get24(b[9:12]),
		SeqID:  b[12],
		DFCtl:  b[13],
		SeqCnt: binary.BigEndian.Uint16(b[14:16]),
		OXID:   binary.BigEndian.Uint16(b[16:18]),
		RXID:   binary.BigEndian.Uint16(b[18:20]),
		Param:  binary.BigEndian.Uint32(b[20:24]),
	}, nil
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// DFCtl bits relevant to the VMID / priority hint parsing in the pipeline.
const (
	DFCtlNetworkHeader = 0x20
	DFCtlESPHeader      = 0x40
	DFCtlDeviceHeaderSize = 16
)

// FCtl bit relevant to priority-enable parsing (CS_CTL carries the priority
// when set).
const FCtlPriorityEnable = 0x0080_0000
