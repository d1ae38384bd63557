package frame

import (
	"fmt"
)

// Packet is a fully parsed datagram: the GRE-style envelope (absent in the
// simple profile) plus its one payload frame.
type Packet struct {
	Header  Header
	Simple  bool
	Payload Frame
}

// Pack serializes header+payload for the main/advanced profiles.
func Pack(h Header, fr Frame) []byte {
	payload := fr.Encode()
	h.PayloadType = fr.PayloadType()
	h.Length = uint16(len(payload))
	return append(EncodeHeader(h), payload...)
}

// Unpack parses a main/advanced-profile datagram. It is total: on any
// length mismatch or reserved-bit violation it returns ErrMalformedPacket
// semantics via a plain error, never a partially populated Packet.
func Unpack(p []byte) (Packet, error) {
	h, n, err := DecodeHeader(p)
	if err != nil {
		return Packet{}, err
	}

	body := p[n:]
	if int(h.Length) != len(body) {
		return Packet{}, fmt.Errorf("frame: length mismatch: header=%d actual=%d", h.Length, len(body))
	}

	fr, err := New(h.PayloadType)
	if err != nil {
		return Packet{}, err
	}

	switch typed := fr.(type) {
	case *Data:
		typed.Encrypted = h.Encrypted()
		typed.Compressed = h.Compressed()
	case *OOB:
		typed.Encrypted = h.Encrypted()
	}

	if err := fr.Decode(body); err != nil {
		return Packet{}, err
	}
	return Packet{Header: h, Payload: fr}, nil
}

// UnpackSimple parses a simple-profile datagram: bare RTP, always a Data
// frame, never encrypted/compressed flags (the simple profile has no GRE
// envelope to carry them).
func UnpackSimple(p []byte) (Packet, error) {
	d := GetData()
	if err := d.Decode(p); err != nil {
		return Packet{}, err
	}
	return Packet{Simple: true, Payload: d}, nil
}
