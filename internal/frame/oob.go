package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rist/rist/internal/protocol"
)

// OOB is an unsequenced, unretransmitted auxiliary block (spec.md §6:
// payload type 0x05; §3: "opaque payload with destination peer and NTP
// stamp; not sequenced and not retransmitted").
type OOB struct {
	NTPStamp   uint64
	Encrypted  bool
	Salt       [16]byte
	Payload    []byte
}

func (*OOB) PayloadType() protocol.PayloadType { return protocol.PayloadOOB }

func (o *OOB) Encode() []byte {
	saltLen := 0
	if o.Encrypted {
		saltLen = len(o.Salt)
	}
	b := make([]byte, 8, 8+saltLen+len(o.Payload))
	binary.BigEndian.PutUint64(b, o.NTPStamp)
	if o.Encrypted {
		b = append(b, o.Salt[:]...)
	}
	b = append(b, o.Payload...)
	return b
}

func (o *OOB) Decode(p []byte) error {
	if len(p) < 8 {
		return fmt.Errorf("frame: short oob frame")
	}
	o.NTPStamp = binary.BigEndian.Uint64(p[0:8])
	off := 8
	if o.Encrypted {
		if len(p) < off+len(o.Salt) {
			return fmt.Errorf("frame: short oob frame salt")
		}
		copy(o.Salt[:], p[off:off+len(o.Salt)])
		off += len(o.Salt)
	}
	o.Payload = append([]byte(nil), p[off:]...)
	return nil
}
