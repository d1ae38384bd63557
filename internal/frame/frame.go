// Package frame implements the RIST wire framing described in spec.md §4.1
// and §6: a GRE-style envelope carrying protocol version, payload type,
// flags, virtual ports and flow_id, an RTP sub-header on data packets, and
// the control payload types (NACK range/bitmask, receiver report,
// keep-alive, OOB). Encode/Decode is pure and total: Decode never panics and
// never returns a partially populated value, matching the teacher's
// internal/frame package shape (one Frame per file, ID()/Encode()/Decode()).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rist/rist/internal/protocol"
)

// Frame is satisfied by every control and data payload this core knows how
// to put on the wire.
type Frame interface {
	PayloadType() protocol.PayloadType
	Encode() []byte
	Decode(p []byte) error
}

// Header is the parsed GRE-style envelope common to every packet in the
// main/advanced profiles (spec.md §6). The simple profile never constructs
// one; its packets are bare RTP.
type Header struct {
	Version     byte
	Flags       byte
	PayloadType protocol.PayloadType
	Length      uint16
	VirtSrcPort uint16
	VirtDstPort uint16
	FlowID      uint32
}

// Encrypted reports whether FlagEncrypted is set.
func (h Header) Encrypted() bool { return h.Flags&protocol.FlagEncrypted != 0 }

// Compressed reports whether FlagCompressed is set.
func (h Header) Compressed() bool { return h.Flags&protocol.FlagCompressed != 0 }

// EncodeHeader serializes the GRE-style envelope.
func EncodeHeader(h Header) []byte {
	b := make([]byte, protocol.GREHeaderSize)
	b[0] = (h.Version << 4) | (h.Flags & 0x0F)
	b[1] = byte(h.PayloadType)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint16(b[4:6], h.VirtSrcPort)
	binary.BigEndian.PutUint16(b[6:8], h.VirtDstPort)
	binary.BigEndian.PutUint32(b[8:12], h.FlowID)
	return b
}

// DecodeHeader parses the GRE-style envelope. It is total: a short or
// reserved-bit-violating buffer yields an error and a zero Header, never a
// partially filled one.
func DecodeHeader(p []byte) (Header, int, error) {
	if len(p) < protocol.GREHeaderSize {
		return Header{}, 0, fmt.Errorf("frame: short header (%d bytes)", len(p))
	}

	var h Header
	h.Version = p[0] >> 4
	h.Flags = p[0] & 0x0F
	if h.Version != protocol.ProtocolVersion {
		return Header{}, 0, fmt.Errorf("frame: unsupported version %d", h.Version)
	}

	h.PayloadType = protocol.PayloadType(p[1])
	h.Length = binary.BigEndian.Uint16(p[2:4])
	h.VirtSrcPort = binary.BigEndian.Uint16(p[4:6])
	h.VirtDstPort = binary.BigEndian.Uint16(p[6:8])
	h.FlowID = binary.BigEndian.Uint32(p[8:12])
	return h, protocol.GREHeaderSize, nil
}

// New allocates a zero Frame for the given payload type, or an error if the
// type is unknown. Mirrors the teacher's frame.GetFrame dispatch table.
func New(t protocol.PayloadType) (Frame, error) {
	switch t {
	case protocol.PayloadData:
		return GetData(), nil
	case protocol.PayloadNACKRange:
		return &NACKRange{}, nil
	case protocol.PayloadNACKBitmask:
		return &NACKBitmask{}, nil
	case protocol.PayloadReceiverReport:
		return &ReceiverReport{}, nil
	case protocol.PayloadKeepAlive:
		return &KeepAlive{}, nil
	case protocol.PayloadOOB:
		return &OOB{}, nil
	default:
		return nil, fmt.Errorf("frame: unknown payload type %d", t)
	}
}
