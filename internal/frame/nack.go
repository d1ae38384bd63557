package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rist/rist/internal/protocol"
)

// Range is the half-open [base, base+count) span of missing sequences.
type Range struct {
	Base  uint16
	Count uint16
}

// NACKRange requests retransmission of one or more contiguous spans
// (spec.md §6: payload type 0x01, list of [base:16,count:16]).
type NACKRange struct {
	Ranges []Range
}

func (*NACKRange) PayloadType() protocol.PayloadType { return protocol.PayloadNACKRange }

func (n *NACKRange) Encode() []byte {
	b := make([]byte, 2, 2+4*len(n.Ranges))
	binary.BigEndian.PutUint16(b, uint16(len(n.Ranges)))
	for _, r := range n.Ranges {
		b = binary.BigEndian.AppendUint16(b, r.Base)
		b = binary.BigEndian.AppendUint16(b, r.Count)
	}
	return b
}

func (n *NACKRange) Decode(p []byte) error {
	if len(p) < 2 {
		return fmt.Errorf("frame: short nack-range frame")
	}
	count := binary.BigEndian.Uint16(p[0:2])
	if len(p) < 2+int(count)*4 {
		return fmt.Errorf("frame: short nack-range list")
	}

	n.Ranges = make([]Range, count)
	for i := 0; i < int(count); i++ {
		off := 2 + i*4
		n.Ranges[i] = Range{
			Base:  binary.BigEndian.Uint16(p[off : off+2]),
			Count: binary.BigEndian.Uint16(p[off+2 : off+4]),
		}
	}
	return nil
}

// NACKBitmask requests retransmission of sequences marked in a 128-bit
// mask relative to a 32-bit base (spec.md §6: payload type 0x02).
type NACKBitmask struct {
	Base uint32
	Mask [16]byte // 128 bits
}

func (*NACKBitmask) PayloadType() protocol.PayloadType { return protocol.PayloadNACKBitmask }

func (n *NACKBitmask) Encode() []byte {
	b := make([]byte, 4+16)
	binary.BigEndian.PutUint32(b[0:4], n.Base)
	copy(b[4:], n.Mask[:])
	return b
}

func (n *NACKBitmask) Decode(p []byte) error {
	if len(p) < 4+16 {
		return fmt.Errorf("frame: short nack-bitmask frame")
	}
	n.Base = binary.BigEndian.Uint32(p[0:4])
	copy(n.Mask[:], p[4:20])
	return nil
}

// Set marks sequence (Base+offset) as missing, offset in [0, 128).
func (n *NACKBitmask) Set(offset uint32) {
	n.Mask[offset/8] |= 1 << (offset % 8)
}

// IsSet reports whether offset is marked missing.
func (n *NACKBitmask) IsSet(offset uint32) bool {
	return n.Mask[offset/8]&(1<<(offset%8)) != 0
}
