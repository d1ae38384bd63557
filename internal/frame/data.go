package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rist/rist/internal/protocol"
)

// RTPHeader is the fixed 12-byte sub-header data packets carry in addition
// to (main/advanced) or instead of (simple) the GRE envelope (spec.md §6):
// V=2, P=0, X=0, CC=0, M, PT, seq:16, ts:32, ssrc=flow_id.
type RTPHeader struct {
	Marker         bool
	PayloadType    byte
	SequenceLow16  uint16
	NTPTimestamp32 uint32
	SSRC           uint32
}

func encodeRTP(h RTPHeader) []byte {
	b := make([]byte, protocol.RTPHeaderSize)
	b[0] = 0x80 // V=2, P=0, X=0, CC=0
	pt := h.PayloadType & 0x7F
	if h.Marker {
		pt |= 0x80
	}
	b[1] = pt
	binary.BigEndian.PutUint16(b[2:4], h.SequenceLow16)
	binary.BigEndian.PutUint32(b[4:8], h.NTPTimestamp32)
	binary.BigEndian.PutUint32(b[8:12], h.SSRC)
	return b
}

func decodeRTP(p []byte) (RTPHeader, error) {
	if len(p) < protocol.RTPHeaderSize {
		return RTPHeader{}, fmt.Errorf("frame: short rtp header (%d bytes)", len(p))
	}

	if p[0]&0xC0 != 0x80 {
		return RTPHeader{}, fmt.Errorf("frame: reserved rtp version bits set")
	}

	var h RTPHeader
	h.Marker = p[1]&0x80 != 0
	h.PayloadType = p[1] & 0x7F
	h.SequenceLow16 = binary.BigEndian.Uint16(p[2:4])
	h.NTPTimestamp32 = binary.BigEndian.Uint32(p[4:8])
	h.SSRC = binary.BigEndian.Uint32(p[8:12])
	return h, nil
}

// Data carries one application data block: a sequence number and NTP stamp
// (spec.md §3) plus the payload bytes, optionally LZ4-compressed and
// AES-CTR-encrypted by the caller before Encode is invoked (§4.7 treats
// those transforms as applying to the Payload bytes, not the header). On
// the wire (spec.md §6) only the RTP sub-header's 16-bit sequence and
// 32-bit timestamp survive; Sequence and NTPStamp hold the full-resolution
// values an encoder already knows, and after Decode hold only that
// truncated low/middle-bits form — callers with a nearby reference widen
// them back via expandSequence/WidenMiddleBits before using them as keys.
type Data struct {
	FlowID      uint32
	VirtSrcPort uint16
	VirtDstPort uint16
	Sequence    uint32
	NTPStamp    uint64
	Marker      bool
	Encrypted   bool
	Compressed  bool
	Salt        [16]byte
	Payload     []byte
}

func (*Data) PayloadType() protocol.PayloadType { return protocol.PayloadData }

func (d *Data) Encode() []byte {
	rtp := encodeRTP(RTPHeader{
		Marker:         d.Marker,
		SequenceLow16:  uint16(d.Sequence),
		NTPTimestamp32: MiddleBits(d.NTPStamp),
		SSRC:           d.FlowID,
	})

	saltLen := 0
	if d.Encrypted {
		saltLen = len(d.Salt)
	}

	b := make([]byte, 0, protocol.RTPHeaderSize+saltLen+len(d.Payload))
	b = append(b, rtp...)
	if d.Encrypted {
		b = append(b, d.Salt[:]...)
	}
	b = append(b, d.Payload...)
	return b
}

func (d *Data) Decode(p []byte) error {
	rtp, err := decodeRTP(p)
	if err != nil {
		return err
	}

	off := protocol.RTPHeaderSize
	d.Marker = rtp.Marker
	d.FlowID = rtp.SSRC
	d.Sequence = uint32(rtp.SequenceLow16)
	d.NTPStamp = uint64(rtp.NTPTimestamp32)

	if d.Encrypted {
		if len(p) < off+len(d.Salt) {
			return fmt.Errorf("frame: short data frame salt")
		}
		copy(d.Salt[:], p[off:off+len(d.Salt)])
		off += len(d.Salt)
	}

	d.Payload = append(d.Payload[:0], p[off:]...)
	return nil
}

// Reset clears d for reuse from the pool, keeping Payload's backing array
// the way the teacher's StreamData.Reset keeps its own.
func (d *Data) Reset() {
	d.FlowID = 0
	d.VirtSrcPort = 0
	d.VirtDstPort = 0
	d.Sequence = 0
	d.NTPStamp = 0
	d.Marker = false
	d.Encrypted = false
	d.Compressed = false
	d.Salt = [16]byte{}
	d.Payload = d.Payload[:0]
}
