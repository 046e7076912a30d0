package wire

import (
	"encoding/binary"
	"fmt"
)

// LS command codes (spec.md §6).
const (
	LSReject            uint8 = 1
	LSAccept             uint8 = 2
	LSCreateAssociation  uint8 = 3
	LSCreateConnection   uint8 = 4
	LSDisconnect         uint8 = 5
)

// LS descriptor tags (spec.md §6).
const (
	DescTagRqst           uint32 = 0x1
	DescTagReject         uint32 = 0x2
	DescTagCreateAssocCmd uint32 = 0x3
	DescTagCreateConnCmd  uint32 = 0x4
	DescTagDisconnectCmd  uint32 = 0x5
	DescTagConnID         uint32 = 0x6
	DescTagAssocID        uint32 = 0x7
)

// Reject reason codes.
const (
	RejectReasonNone         uint8 = 0x00
	RejectReasonInvalid      uint8 = 0x01
	RejectReasonLogic        uint8 = 0x03
	RejectReasonUnable       uint8 = 0x09
	RejectReasonUnsupported  uint8 = 0x0b
	RejectReasonInProgress   uint8 = 0x0e
	RejectReasonInvalidAssoc uint8 = 0x40
	RejectReasonInvalidConn  uint8 = 0x41
	RejectReasonInvalidParam uint8 = 0x42
	RejectReasonInsuffRes    uint8 = 0x43
	RejectReasonInvalidHost  uint8 = 0x44
	RejectReasonVendor       uint8 = 0xff
)

// Reject reason explanations.
const (
	RejectExpNone        uint8 = 0x00
	RejectExpOxidRxid    uint8 = 0x17
	RejectExpUnableData  uint8 = 0x2a
	RejectExpInvalidLen  uint8 = 0x2d
	RejectExpInvalidERSP uint8 = 0x40
	RejectExpInvalidCtrl uint8 = 0x41
	RejectExpInvalidQID  uint8 = 0x42
	RejectExpSQSize      uint8 = 0x43
	RejectExpInvalidHostID uint8 = 0x44
	RejectExpInvalidHostNQN uint8 = 0x45
	RejectExpInvalidSubNQN uint8 = 0x46
)

// NQNFieldSize is the fixed size of an NQN field in the Create Association
// request (SPDK_NVME_NQN_FIELD_SIZE upstream).
const NQNFieldSize = 256

// AssocHostIDLen is the fixed size of the Create Association host identifier.
const AssocHostIDLen = 16

// Fixed wire sizes named directly in spec.md §6.
const (
	CreateAssociationReqSize    = 1024
	CreateAssociationAcceptSize = 56
	CreateConnectionReqSize     = 80
	CreateConnectionAcceptSize  = 40
	DisconnectReqSize           = 48
	DisconnectAcceptSize        = 24
	LSRejectSize                = 40
	MaxLSRequestSize            = 1536
	MaxLSResponseSize           = 64
)

// descriptor-level minimums used by CASS validation (spec.md §4.1).
const (
	createAssocCmdMinLen     = 1016 - 8 // desc_len excludes tag+len
	createAssocDescListMinLen = 1016
	createAssocCmdMinLenFull = 1016
)

func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func be16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func be64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putBE64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// RqstW0 is the common 4-byte LS command-code word present at the head of
// every LS request/accept/reject payload.
type RqstW0 struct {
	LSCmd uint8
}

func (w RqstW0) encode(b []byte) { b[0] = w.LSCmd }
func decodeW0(b []byte) RqstW0   { return RqstW0{LSCmd: b[0]} }

// RqstDesc is the 16-byte "rqst" descriptor echoed inside an accept/reject,
// identifying which original LS command is being answered.
type RqstDesc struct {
	DescLen uint32
	W0      RqstW0
}

const rqstDescSize = 16

func (d RqstDesc) encode(b []byte) {
	putBE32(b[0:4], DescTagRqst)
	putBE32(b[4:8], d.DescLen)
	d.W0.encode(b[8:12])
}

func decodeRqstDesc(b []byte) (RqstDesc, error) {
	if len(b) < rqstDescSize {
		return RqstDesc{}, fmt.Errorf("wire: rqst descriptor short read")
	}
	if tag := be32(b[0:4]); tag != DescTagRqst {
		return RqstDesc{}, fmt.Errorf("wire: rqst descriptor bad tag 0x%x", tag)
	}
	return RqstDesc{DescLen: be32(b[4:8]), W0: decodeW0(b[8:12])}, nil
}

// RejectPayload is the full 40-byte LS reject frame (spec.md §4.1 "Common
// reject"): echoes the rejected command plus a reason/explanation/vendor
// triple. Reserved bytes are always written as zero.
type RejectPayload struct {
	OriginalCmd       uint8
	OriginalDescLen   uint32
	Reason            uint8
	Explanation       uint8
	Vendor            uint8
}

// Encode packs the reject payload into its 40-byte wire form.
func (r RejectPayload) Encode() [LSRejectSize]byte {
	var b [LSRejectSize]byte
	b[0] = LSReject
	putBE32(b[4:8], rqstDescSize+16) // desc_list_len = rqst desc + rjt desc
	RqstDesc{DescLen: r.OriginalDescLen, W0: RqstW0{LSCmd: r.OriginalCmd}}.encode(b[8:24])
	putBE32(b[24:28], DescTagReject)
	putBE32(b[28:32], 8) // desc_len of the rjt descriptor body
	b[33] = r.Reason
	b[34] = r.Explanation
	b[35] = r.Vendor
	return b
}

// DecodeReject unpacks a 40-byte LS reject frame.
func DecodeReject(b []byte) (RejectPayload, error) {
	if len(b) < LSRejectSize {
		return RejectPayload{}, fmt.Errorf("wire: reject short read: got %d want %d", len(b), LSRejectSize)
	}
	if b[0] != LSReject {
		return RejectPayload{}, fmt.Errorf("wire: not a reject frame (ls_cmd=0x%x)", b[0])
	}
	rqst, err := decodeRqstDesc(b[8:24])
	if err != nil {
		return RejectPayload{}, err
	}
	if tag := be32(b[24:28]); tag != DescTagReject {
		return RejectPayload{}, fmt.Errorf("wire: reject descriptor bad tag 0x%x", tag)
	}
	return RejectPayload{
		OriginalCmd:     rqst.W0.LSCmd,
		OriginalDescLen: rqst.DescLen,
		Reason:          b[33],
		Explanation:     b[34],
		Vendor:          b[35],
	}, nil
}

// AssocIDDesc is the 16-byte association-id descriptor.
type AssocIDDesc struct{ AssociationID uint64 }

const assocIDDescSize = 16

func (d AssocIDDesc) encode(b []byte) {
	putBE32(b[0:4], DescTagAssocID)
	putBE32(b[4:8], 8)
	putBE64(b[8:16], d.AssociationID)
}

func decodeAssocIDDesc(b []byte) (AssocIDDesc, error) {
	if len(b) < assocIDDescSize {
		return AssocIDDesc{}, fmt.Errorf("wire: assoc_id descriptor short read")
	}
	if tag := be32(b[0:4]); tag != DescTagAssocID {
		return AssocIDDesc{}, fmt.Errorf("wire: assoc_id descriptor bad tag 0x%x", tag)
	}
	return AssocIDDesc{AssociationID: be64(b[8:16])}, nil
}

// ConnIDDesc is the 16-byte connection-id descriptor.
type ConnIDDesc struct{ ConnectionID uint64 }

const connIDDescSize = 16

func (d ConnIDDesc) encode(b []byte) {
	putBE32(b[0:4], DescTagConnID)
	putBE32(b[4:8], 8)
	putBE64(b[8:16], d.ConnectionID)
}

func decodeConnIDDesc(b []byte) (ConnIDDesc, error) {
	if len(b) < connIDDescSize {
		return ConnIDDesc{}, fmt.Errorf("wire: conn_id descriptor short read")
	}
	if tag := be32(b[0:4]); tag != DescTagConnID {
		return ConnIDDesc{}, fmt.Errorf("wire: conn_id descriptor bad tag 0x%x", tag)
	}
	return ConnIDDesc{ConnectionID: be64(b[8:16])}, nil
}

// ============================================================================
// Create Association
// ============================================================================

// CreateAssocCmd is the 1016-byte create-association command descriptor
// carried in a CASS request.
type CreateAssocCmd struct {
	ERSPRatio uint16
	CntlID    uint16
	SQSize    uint16
	HostID    [AssocHostIDLen]byte
	HostNQN   [NQNFieldSize]byte
	SubNQN    [NQNFieldSize]byte
}

const createAssocCmdSize = 1016

func (c CreateAssocCmd) encode(b []byte) {
	putBE32(b[0:4], DescTagCreateAssocCmd)
	putBE32(b[4:8], createAssocCmdSize-8)
	putBE16(b[8:10], c.ERSPRatio)
	putBE16(b[52:54], c.CntlID)
	putBE16(b[54:56], c.SQSize)
	copy(b[56:56+AssocHostIDLen], c.HostID[:])
	copy(b[72:72+NQNFieldSize], c.HostNQN[:])
	copy(b[328:328+NQNFieldSize], c.SubNQN[:])
}

func decodeCreateAssocCmd(b []byte) (CreateAssocCmd, error) {
	if len(b) < createAssocCmdSize {
		return CreateAssocCmd{}, fmt.Errorf("wire: create_assoc_cmd short read: got %d want %d", len(b), createAssocCmdSize)
	}
	if tag := be32(b[0:4]); tag != DescTagCreateAssocCmd {
		return CreateAssocCmd{}, fmt.Errorf("wire: create_assoc_cmd bad tag 0x%x", tag)
	}
	c := CreateAssocCmd{
		ERSPRatio: be16(b[8:10]),
		CntlID:    be16(b[52:54]),
		SQSize:    be16(b[54:56]),
	}
	copy(c.HostID[:], b[56:56+AssocHostIDLen])
	copy(c.HostNQN[:], b[72:72+NQNFieldSize])
	copy(c.SubNQN[:], b[328:328+NQNFieldSize])
	return c, nil
}

// DecodeCreateAssocCmdDescLen returns the on-wire desc_len field recorded by
// the peer, i.e. the value decoded from the raw buffer rather than the
// recomputed constant. No validation path in this module calls it; CASS
// validation checks the descriptor list length only.
func DecodeCreateAssocCmdDescLen(b []byte) (uint32, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("wire: create_assoc_cmd header short read")
	}
	return be32(b[4:8]), nil
}

// CreateAssocRqst is the full 1024-byte Create Association LS request.
type CreateAssocRqst struct {
	DescListLen uint32
	Cmd         CreateAssocCmd
}

// Encode packs the request into its 1024-byte wire form.
func (r CreateAssocRqst) Encode() [CreateAssociationReqSize]byte {
	var b [CreateAssociationReqSize]byte
	b[0] = LSCreateAssociation
	putBE32(b[4:8], r.DescListLen)
	r.Cmd.encode(b[8:8+createAssocCmdSize])
	return b
}

// DecodeCreateAssocRqst unpacks a Create Association request. The caller is
// responsible for the length checks spec.md §4.1 enumerates before calling
// this (request length, descriptor list length, descriptor tag/length);
// this function only re-validates the fixed framing it itself depends on.
func DecodeCreateAssocRqst(b []byte) (CreateAssocRqst, error) {
	if len(b) < CreateAssociationReqSize {
		return CreateAssocRqst{}, fmt.Errorf("wire: create_assoc request short read: got %d want %d", len(b), CreateAssociationReqSize)
	}
	if b[0] != LSCreateAssociation {
		return CreateAssocRqst{}, fmt.Errorf("wire: not a create_association request (ls_cmd=0x%x)", b[0])
	}
	cmd, err := decodeCreateAssocCmd(b[8 : 8+createAssocCmdSize])
	if err != nil {
		return CreateAssocRqst{}, err
	}
	return CreateAssocRqst{DescListLen: be32(b[4:8]), Cmd: cmd}, nil
}

// CreateAssocAccept is the 56-byte Create Association LS accept.
type CreateAssocAccept struct {
	OriginalDescLen uint32
	AssociationID   uint64
	ConnectionID    uint64
}

// Encode packs the accept into its 56-byte wire form.
func (a CreateAssocAccept) Encode() [CreateAssociationAcceptSize]byte {
	var b [CreateAssociationAcceptSize]byte
	b[0] = LSAccept
	putBE32(b[4:8], rqstDescSize+assocIDDescSize+connIDDescSize)
	RqstDesc{DescLen: a.OriginalDescLen, W0: RqstW0{LSCmd: LSCreateAssociation}}.encode(b[8:24])
	AssocIDDesc{AssociationID: a.AssociationID}.encode(b[24:40])
	ConnIDDesc{ConnectionID: a.ConnectionID}.encode(b[40:56])
	return b
}

// DecodeCreateAssocAccept unpacks a 56-byte Create Association accept.
func DecodeCreateAssocAccept(b []byte) (CreateAssocAccept, error) {
	if len(b) < CreateAssociationAcceptSize {
		return CreateAssocAccept{}, fmt.Errorf("wire: create_assoc accept short read")
	}
	if b[0] != LSAccept {
		return CreateAssocAccept{}, fmt.Errorf("wire: not an accept frame (ls_cmd=0x%x)", b[0])
	}
	rqst, err := decodeRqstDesc(b[8:24])
	if err != nil {
		return CreateAssocAccept{}, err
	}
	assocID, err := decodeAssocIDDesc(b[24:40])
	if err != nil {
		return CreateAssocAccept{}, err
	}
	connID, err := decodeConnIDDesc(b[40:56])
	if err != nil {
		return CreateAssocAccept{}, err
	}
	return CreateAssocAccept{OriginalDescLen: rqst.DescLen, AssociationID: assocID.AssociationID, ConnectionID: connID.ConnectionID}, nil
}

// ============================================================================
// Create Connection
// ============================================================================

// CreateConnCmd is the 56-byte create-connection command descriptor.
type CreateConnCmd struct {
	ERSPRatio uint16
	QID       uint16
	SQSize    uint16
}

const createConnCmdSize = 56

func (c CreateConnCmd) encode(b []byte) {
	putBE32(b[0:4], DescTagCreateConnCmd)
	putBE32(b[4:8], createConnCmdSize-8)
	putBE16(b[8:10], c.ERSPRatio)
	putBE16(b[52:54], c.QID)
	putBE16(b[54:56], c.SQSize)
}

func decodeCreateConnCmd(b []byte) (CreateConnCmd, error) {
	if len(b) < createConnCmdSize {
		return CreateConnCmd{}, fmt.Errorf("wire: create_conn_cmd short read")
	}
	if tag := be32(b[0:4]); tag != DescTagCreateConnCmd {
		return CreateConnCmd{}, fmt.Errorf("wire: create_conn_cmd bad tag 0x%x", tag)
	}
	return CreateConnCmd{
		ERSPRatio: be16(b[8:10]),
		QID:       be16(b[52:54]),
		SQSize:    be16(b[54:56]),
	}, nil
}

// CreateConnRqst is the full 80-byte Create Connection LS request.
type CreateConnRqst struct {
	DescListLen   uint32
	AssociationID uint64
	Cmd           CreateConnCmd
}

// Encode packs the request into its 80-byte wire form.
func (r CreateConnRqst) Encode() [CreateConnectionReqSize]byte {
	var b [CreateConnectionReqSize]byte
	b[0] = LSCreateConnection
	putBE32(b[4:8], r.DescListLen)
	AssocIDDesc{AssociationID: r.AssociationID}.encode(b[8:24])
	r.Cmd.encode(b[24:24+createConnCmdSize])
	return b
}

// DecodeCreateConnRqst unpacks an 80-byte Create Connection request.
func DecodeCreateConnRqst(b []byte) (CreateConnRqst, error) {
	if len(b) < CreateConnectionReqSize {
		return CreateConnRqst{}, fmt.Errorf("wire: create_conn request short read: got %d want %d", len(b), CreateConnectionReqSize)
	}
	if b[0] != LSCreateConnection {
		return CreateConnRqst{}, fmt.Errorf("wire: not a create_connection request (ls_cmd=0x%x)", b[0])
	}
	assocID, err := decodeAssocIDDesc(b[8:24])
	if err != nil {
		return CreateConnRqst{}, err
	}
	cmd, err := decodeCreateConnCmd(b[24 : 24+createConnCmdSize])
	if err != nil {
		return CreateConnRqst{}, err
	}
	return CreateConnRqst{DescListLen: be32(b[4:8]), AssociationID: assocID.AssociationID, Cmd: cmd}, nil
}

// CreateConnAccept is the 40-byte Create Connection LS accept.
type CreateConnAccept struct {
	OriginalDescLen uint32
	ConnectionID    uint64
}

// Encode packs the accept into its 40-byte wire form.
func (a CreateConnAccept) Encode() [CreateConnectionAcceptSize]byte {
	var b [CreateConnectionAcceptSize]byte
	b[0] = LSAccept
	putBE32(b[4:8], rqstDescSize+connIDDescSize)
	RqstDesc{DescLen: a.OriginalDescLen, W0: RqstW0{LSCmd: LSCreateConnection}}.encode(b[8:24])
	ConnIDDesc{ConnectionID: a.ConnectionID}.encode(b[24:40])
	return b
}

// DecodeCreateConnAccept unpacks a 40-byte Create Connection accept.
func DecodeCreateConnAccept(b []byte) (CreateConnAccept, error) {
	if len(b) < CreateConnectionAcceptSize {
		return CreateConnAccept{}, fmt.Errorf("wire: create_conn accept short read")
	}
	if b[0] != LSAccept {
		return CreateConnAccept{}, fmt.Errorf("wire: not an accept frame (ls_cmd=0x%x)", b[0])
	}
	rqst, err := decodeRqstDesc(b[8:24])
	if err != nil {
		return CreateConnAccept{}, err
	}
	connID, err := decodeConnIDDesc(b[24:40])
	if err != nil {
		return CreateConnAccept{}, err
	}
	return CreateConnAccept{OriginalDescLen: rqst.DescLen, ConnectionID: connID.ConnectionID}, nil
}

// ============================================================================
// Disconnect
// ============================================================================

const disconnectCmdSize = 24

// DisconnectRqst is the full 48-byte Disconnect LS request.
type DisconnectRqst struct {
	DescListLen   uint32
	AssociationID uint64
}

// Encode packs the request into its 48-byte wire form.
func (r DisconnectRqst) Encode() [DisconnectReqSize]byte {
	var b [DisconnectReqSize]byte
	b[0] = LSDisconnect
	putBE32(b[4:8], r.DescListLen)
	AssocIDDesc{AssociationID: r.AssociationID}.encode(b[8:24])
	putBE32(b[24:28], DescTagDisconnectCmd)
	putBE32(b[28:32], disconnectCmdSize-8)
	return b
}

// DecodeDisconnectRqst unpacks a 48-byte Disconnect request.
func DecodeDisconnectRqst(b []byte) (DisconnectRqst, error) {
	if len(b) < DisconnectReqSize {
		return DisconnectRqst{}, fmt.Errorf("wire: disconnect request short read: got %d want %d", len(b), DisconnectReqSize)
	}
	if b[0] != LSDisconnect {
		return DisconnectRqst{}, fmt.Errorf("wire: not a disconnect request (ls_cmd=0x%x)", b[0])
	}
	assocID, err := decodeAssocIDDesc(b[8:24])
	if err != nil {
		return DisconnectRqst{}, err
	}
	if tag := be32(b[24:28]); tag != DescTagDisconnectCmd {
		return DisconnectRqst{}, fmt.Errorf("wire: disconnect_cmd bad tag 0x%x", tag)
	}
	return DisconnectRqst{DescListLen: be32(b[4:8]), AssociationID: assocID.AssociationID}, nil
}

// DisconnectAccept is the 24-byte Disconnect LS accept (just the common
// accept header; no trailing descriptor per spec.md §6).
type DisconnectAccept struct {
	OriginalDescLen uint32
}

// Encode packs the accept into its 24-byte wire form.
func (a DisconnectAccept) Encode() [DisconnectAcceptSize]byte {
	var b [DisconnectAcceptSize]byte
	b[0] = LSAccept
	putBE32(b[4:8], rqstDescSize)
	RqstDesc{DescLen: a.OriginalDescLen, W0: RqstW0{LSCmd: LSDisconnect}}.encode(b[8:24])
	return b
}

// DecodeDisconnectAccept unpacks a 24-byte Disconnect accept.
func DecodeDisconnectAccept(b []byte) (DisconnectAccept, error) {
	if len(b) < DisconnectAcceptSize {
		return DisconnectAccept{}, fmt.Errorf("wire: disconnect accept short read")
	}
	if b[0] != LSAccept {
		return DisconnectAccept{}, fmt.Errorf("wire: not an accept frame (ls_cmd=0x%x)", b[0])
	}
	rqst, err := decodeRqstDesc(b[8:24])
	if err != nil {
		return DisconnectAccept{}, err
	}
	return DisconnectAccept{OriginalDescLen: rqst.DescLen}, nil
}
