package pipeline

import (
	"encoding/binary"

	"github.com/fcnvmf/target/internal/wire"
)

// networkHeaderSize and espHeaderSize are the fixed prefix lengths the
// receive path must skip before the 16-byte device header, when the
// frame-control byte indicates their presence (spec.md §4.3 "VMID and
// priority hints").
const (
	networkHeaderSize = 16
	espHeaderSize     = 8
)

// ParseVMIDAndPriority extracts the VMID application identifier and the
// CS_CTL priority hint from a received frame, per spec.md §4.3. data is the
// frame payload following the 24-byte FC header. It never errors: a frame
// too short to carry the indicated prefix simply yields a zero VMID, since
// a malformed hint is not itself a reason to drop an otherwise valid
// command.
func ParseVMIDAndPriority(hdr wire.Header, data []byte) (vmid uint32, priority uint8, hasPriority bool) {
	off := 0
	if hdr.DFCtl&wire.DFCtlNetworkHeader != 0 {
		off += networkHeaderSize
	}
	if hdr.DFCtl&wire.DFCtlESPHeader != 0 {
		off += espHeaderSize
	}
	if len(data) >= off+wire.DFCtlDeviceHeaderSize {
		deviceHeader := data[off : off+wire.DFCtlDeviceHeaderSize]
		vmid = binary.BigEndian.Uint32(deviceHeader[0:4])
	}
	if hdr.FCtl&wire.FCtlPriorityEnable != 0 {
		priority = hdr.CSCtl
		hasPriority = true
	}
	return vmid, priority, hasPriority
}
