package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rist/rist/internal/protocol"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:     protocol.ProtocolVersion,
		Flags:       protocol.FlagEncrypted | protocol.FlagCompressed,
		PayloadType: protocol.PayloadData,
		Length:      42,
		VirtSrcPort: 1000,
		VirtDstPort: 2000,
		FlowID:      0xDEADBEEF,
	}
	got, n, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	assert.Equal(t, protocol.GREHeaderSize, n)
	assert.Equal(t, h, got)
	assert.True(t, got.Encrypted())
	assert.True(t, got.Compressed())
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, _, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsWrongVersion(t *testing.T) {
	h := Header{Version: protocol.ProtocolVersion + 1, PayloadType: protocol.PayloadData}
	_, _, err := DecodeHeader(EncodeHeader(h))
	assert.Error(t, err)
}

// TestDataRoundTrip checks the wire layout spec.md §6 pins for main-profile
// data packets: only the RTP sub-header's 16-bit sequence and 32-bit
// (middle-bits) timestamp survive, so Decode recovers a truncated form of
// whatever full-resolution Sequence/NTPStamp Encode was given, not the
// originals — widening back requires a nearby reference and is the
// caller's job (see receiver.go's handleData).
func TestDataRoundTrip(t *testing.T) {
	d := &Data{
		FlowID:   7,
		Sequence: 0x01020304,
		NTPStamp: 0x1122334455667788,
		Marker:   true,
		Payload:  []byte("hello world"),
	}
	wire := Pack(Header{Version: protocol.ProtocolVersion, FlowID: d.FlowID}, d)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got, ok := pk.Payload.(*Data)
	require.True(t, ok)
	assert.Equal(t, d.FlowID, got.FlowID)
	assert.Equal(t, uint32(uint16(d.Sequence)), got.Sequence)
	assert.Equal(t, uint64(MiddleBits(d.NTPStamp)), got.NTPStamp)
	assert.True(t, got.Marker)
	assert.Equal(t, d.Payload, got.Payload)
}

func TestDataRoundTripEncryptedCarriesSalt(t *testing.T) {
	d := &Data{FlowID: 1, Sequence: 1, NTPStamp: 1, Encrypted: true, Payload: []byte("x")}
	for i := range d.Salt {
		d.Salt[i] = byte(i)
	}
	h := Header{Version: protocol.ProtocolVersion, Flags: protocol.FlagEncrypted, FlowID: d.FlowID}
	wire := Pack(h, d)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got := pk.Payload.(*Data)
	assert.True(t, got.Encrypted)
	assert.Equal(t, d.Salt, got.Salt)
	assert.Equal(t, d.Payload, got.Payload)
}

func TestUnpackSimpleProfile(t *testing.T) {
	d := &Data{FlowID: 3, Sequence: 5, NTPStamp: 9, Payload: []byte("simple")}
	pk, err := UnpackSimple(d.Encode())
	require.NoError(t, err)
	assert.True(t, pk.Simple)
	got := pk.Payload.(*Data)
	assert.Equal(t, d.Sequence, got.Sequence) // fits in 16 bits, survives untruncated
	assert.Equal(t, d.Payload, got.Payload)
}

func TestKeepAliveRoundTrip(t *testing.T) {
	k := &KeepAlive{CName: "sender-1", Capabilities: 0xFF}
	wire := Pack(Header{Version: protocol.ProtocolVersion}, k)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got := pk.Payload.(*KeepAlive)
	assert.Equal(t, k.CName, got.CName)
	assert.Equal(t, k.Capabilities, got.Capabilities)
}

func TestKeepAliveTruncatesOverlongCName(t *testing.T) {
	long := make([]byte, protocol.MaxCNameLength+50)
	for i := range long {
		long[i] = 'a'
	}
	k := &KeepAlive{CName: string(long)}
	encoded := k.Encode()

	var decoded KeepAlive
	require.NoError(t, decoded.Decode(encoded))
	assert.Len(t, decoded.CName, protocol.MaxCNameLength)
}

func TestOOBRoundTrip(t *testing.T) {
	o := &OOB{NTPStamp: 123456, Payload: []byte("control-channel-blob")}
	wire := Pack(Header{Version: protocol.ProtocolVersion}, o)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got := pk.Payload.(*OOB)
	assert.Equal(t, o.NTPStamp, got.NTPStamp)
	assert.Equal(t, o.Payload, got.Payload)
}

func TestNACKRangeRoundTrip(t *testing.T) {
	n := &NACKRange{Ranges: []Range{{Base: 100, Count: 3}, {Base: 200, Count: 1}}}
	wire := Pack(Header{Version: protocol.ProtocolVersion}, n)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got := pk.Payload.(*NACKRange)
	assert.Equal(t, n.Ranges, got.Ranges)
}

func TestNACKBitmaskRoundTrip(t *testing.T) {
	n := &NACKBitmask{Base: 1000}
	n.Set(0)
	n.Set(5)
	n.Set(127)
	wire := Pack(Header{Version: protocol.ProtocolVersion}, n)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got := pk.Payload.(*NACKBitmask)
	assert.Equal(t, n.Base, got.Base)
	assert.True(t, got.IsSet(0))
	assert.True(t, got.IsSet(5))
	assert.True(t, got.IsSet(127))
	assert.False(t, got.IsSet(1))
}

func TestReceiverReportRoundTrip(t *testing.T) {
	rr := &ReceiverReport{Received: 1000, Lost: 5, Jitter: 42, LSR: 0xAABBCCDD, DLSR: 0x1234}
	wire := Pack(Header{Version: protocol.ProtocolVersion}, rr)

	pk, err := Unpack(wire)
	require.NoError(t, err)
	got := pk.Payload.(*ReceiverReport)
	assert.Equal(t, *rr, *got)
}

func TestDataPoolResetsBeforeReuse(t *testing.T) {
	d := GetData()
	d.FlowID = 9
	d.Sequence = 42
	d.Payload = append(d.Payload, "leftover"...)
	PutData(d)

	got := GetData()
	assert.Equal(t, uint32(0), got.FlowID)
	assert.Equal(t, uint32(0), got.Sequence)
	assert.Empty(t, got.Payload)
}

func TestUnpackRejectsLengthMismatch(t *testing.T) {
	d := &Data{FlowID: 1, Sequence: 1, NTPStamp: 1, Payload: []byte("x")}
	h := Header{Version: protocol.ProtocolVersion, FlowID: d.FlowID}
	wire := Pack(h, d)
	wire = append(wire, 0xFF) // body now longer than header.Length claims

	_, err := Unpack(wire)
	assert.Error(t, err)
}
