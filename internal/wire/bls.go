package wire

import "fmt"

// BLS reject explanation codes (spec.md §6 "BLS"). BA_ACC carries no
// explanation; only BA_RJT distinguishes these.
const (
	BLSRejectExpNoInfo      uint8 = 0x00
	BLSRejectExpInvalidOXID uint8 = 0x03
)

// BLSRejectReasonUnableToPerform is the BA_RJT reason code the ABTS handler
// uses when neither pass locates the exchange (spec.md §4.5 "emit BA_RJT
// with explanation invalid OX_ID").
const BLSRejectReasonUnableToPerform uint8 = 0x09

// AbtsFrameSize is the fixed size of the BA_ABTS payload: RPI-identifying
// OX_ID/RX_ID pair plus a parameter word, matching the frame header's own
// OX_ID/RX_ID so the core can correlate without a separate payload field in
// the common case. Present here as a named constant because ABTS frames
// carry no link-service descriptor list, only the bare frame header.
const AbtsFrameSize = FrameHeaderSize

// BAAccPayload is the 12-byte BA_ACC payload: the exchange's low/high
// sequence count together with the OX_ID/RX_ID being acknowledged.
type BAAccPayload struct {
	SeqIDValidity uint8
	SeqID         uint8
	OXID          uint16
	RXID          uint16
	LowSeqCnt     uint16
	HighSeqCnt    uint16
}

const BAAccPayloadSize = 12

// Encode packs a BA_ACC payload into its 12-byte wire representation.
func (a BAAccPayload) Encode() [BAAccPayloadSize]byte {
	var b [BAAccPayloadSize]byte
	b[0] = a.SeqIDValidity
	b[1] = a.SeqID
	putBE16(b[2:4], a.OXID)
	putBE16(b[4:6], a.RXID)
	putBE16(b[6:8], a.LowSeqCnt)
	putBE16(b[8:10], a.HighSeqCnt)
	return b
}

// DecodeBAAccPayload unpacks a 12-byte BA_ACC payload.
func DecodeBAAccPayload(b []byte) (BAAccPayload, error) {
	if len(b) < BAAccPayloadSize {
		return BAAccPayload{}, fmt.Errorf("wire: ba_acc payload short read: got %d want %d", len(b), BAAccPayloadSize)
	}
	return BAAccPayload{
		SeqIDValidity: b[0],
		SeqID:         b[1],
		OXID:          be16(b[2:4]),
		RXID:          be16(b[4:6]),
		LowSeqCnt:     be16(b[6:8]),
		HighSeqCnt:    be16(b[8:10]),
	}, nil
}

// BARjtPayload is the 4-byte BA_RJT payload: reason code, reason explanation,
// and a vendor byte (reserved byte precedes them).
type BARjtPayload struct {
	Reason      uint8
	Explanation uint8
	Vendor      uint8
}

const BARjtPayloadSize = 4

// Encode packs a BA_RJT payload into its 4-byte wire representation.
func (r BARjtPayload) Encode() [BARjtPayloadSize]byte {
	var b [BARjtPayloadSize]byte
	b[1] = r.Reason
	b[2] = r.Explanation
	b[3] = r.Vendor
	return b
}

// DecodeBARjtPayload unpacks a 4-byte BA_RJT payload.
func DecodeBARjtPayload(b []byte) (BARjtPayload, error) {
	if len(b) < BARjtPayloadSize {
		return BARjtPayload{}, fmt.Errorf("wire: ba_rjt payload short read: got %d want %d", len(b), BARjtPayloadSize)
	}
	return BARjtPayload{Reason: b[1], Explanation: b[2], Vendor: b[3]}, nil
}
