package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rist/rist/internal/protocol"
)

// ReceiverReport is the RTCP-style reception summary (spec.md §6: payload
// type 0x03): cumulative received, lost, jitter, LSR, DLSR.
type ReceiverReport struct {
	Received uint32
	Lost     uint32
	Jitter   uint32
	LSR      uint32 // last sender report timestamp, NTP short format
	DLSR     uint32 // delay since LSR, in 1/65536 seconds
}

func (*ReceiverReport) PayloadType() protocol.PayloadType { return protocol.PayloadReceiverReport }

func (r *ReceiverReport) Encode() []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint32(b[0:4], r.Received)
	binary.BigEndian.PutUint32(b[4:8], r.Lost)
	binary.BigEndian.PutUint32(b[8:12], r.Jitter)
	binary.BigEndian.PutUint32(b[12:16], r.LSR)
	binary.BigEndian.PutUint32(b[16:20], r.DLSR)
	return b
}

func (r *ReceiverReport) Decode(p []byte) error {
	if len(p) < 20 {
		return fmt.Errorf("frame: short receiver-report frame")
	}
	r.Received = binary.BigEndian.Uint32(p[0:4])
	r.Lost = binary.BigEndian.Uint32(p[4:8])
	r.Jitter = binary.BigEndian.Uint32(p[8:12])
	r.LSR = binary.BigEndian.Uint32(p[12:16])
	r.DLSR = binary.BigEndian.Uint32(p[16:20])
	return nil
}
