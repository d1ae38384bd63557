package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rist/rist/internal/protocol"
)

// KeepAlive carries the peer's cname and a reserved capabilities bitmap
// (spec.md §6: payload type 0x04, cname <= 128 bytes, capabilities bitmap).
type KeepAlive struct {
	CName        string
	Capabilities uint32
}

func (*KeepAlive) PayloadType() protocol.PayloadType { return protocol.PayloadKeepAlive }

func (k *KeepAlive) Encode() []byte {
	name := k.CName
	if len(name) > protocol.MaxCNameLength {
		name = name[:protocol.MaxCNameLength]
	}

	b := make([]byte, 1+4+len(name))
	b[0] = byte(len(name))
	binary.BigEndian.PutUint32(b[1:5], k.Capabilities)
	copy(b[5:], name)
	return b
}

func (k *KeepAlive) Decode(p []byte) error {
	if len(p) < 5 {
		return fmt.Errorf("frame: short keep-alive frame")
	}

	nameLen := int(p[0])
	if nameLen > protocol.MaxCNameLength || len(p) < 5+nameLen {
		return fmt.Errorf("frame: invalid keep-alive cname length %d", nameLen)
	}

	k.Capabilities = binary.BigEndian.Uint32(p[1:5])
	k.CName = string(p[5 : 5+nameLen])
	return nil
}
