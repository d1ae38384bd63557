// Package protocol defines wire-level constants shared by the framer, the
// sender and the receiver: the profile set, payload type identifiers, fixed
// header sizes and the defaults used when a peer does not negotiate
// otherwise.
package protocol

import "time"

// Profile selects the wire framing used for a context.
type Profile byte

const (
	// ProfileSimple carries bare RTP over UDP: no GRE envelope, no virtual
	// ports, no OOB, no keep-alives.
	ProfileSimple Profile = iota
	// ProfileMain adds the GRE-style envelope, virtual ports, OOB and
	// keep-alives.
	ProfileMain
	// ProfileAdvanced is ProfileMain plus encryption and compression.
	ProfileAdvanced
)

// PayloadType is the GRE-header payload type field.
type PayloadType byte

const (
	PayloadData PayloadType = iota
	PayloadNACKRange
	PayloadNACKBitmask
	PayloadReceiverReport
	PayloadKeepAlive
	PayloadOOB
)

// GRE-style header flag bits.
const (
	FlagEncrypted byte = 1 << iota
	FlagCompressed
)

const (
	// GREHeaderSize is the [version:4|flags:4|payload_type:8|length:16]
	// word plus [virt_src_port:16|virt_dst_port:16|flow_id:32].
	GREHeaderSize = 4 + 8
	// RTPHeaderSize is the fixed 12-byte RTP header carried by data packets.
	RTPHeaderSize = 12

	// ProtocolVersion is the only version this core speaks.
	ProtocolVersion byte = 1

	// MaxCNameLength bounds the keep-alive cname field (spec.md §6/§3).
	MaxCNameLength = 128
	// MaxSecretLength bounds the configured PSK (spec.md §6).
	MaxSecretLength = 128

	// MaxUDPPayloadSize is the largest datagram this core will ever emit or
	// accept; callers configure a smaller MTU for path safety.
	MaxUDPPayloadSize = 1500

	// NACKBitmaskWindow is the width, in sequence numbers, of a single
	// bitmask NACK (spec.md §6: base:32, mask:128 -> 128 bits).
	NACKBitmaskWindow = 128
	// NACKBitmaskDensityThreshold is the fraction of a 16-bit coalescing
	// window that must be missing before the scheduler switches from range
	// to bitmask encoding (spec.md §4.3).
	NACKBitmaskDensityThreshold = 0.5

	// TimerGranularity is the minimum resolution the NACK wheel and the
	// pacer schedule against.
	TimerGranularity = time.Millisecond

	// ReceiveBufferSize and SendBufferSize size the underlying UDP socket's
	// kernel buffers, large enough to absorb a burst of retransmits without
	// the kernel dropping datagrams before this core ever sees them.
	ReceiveBufferSize = 4 << 20
	SendBufferSize    = 4 << 20
)

// Defaults applied when a PeerConfig leaves a field at its zero value.
const (
	DefaultRecoveryLengthMin = 50 * time.Millisecond
	DefaultRecoveryLengthMax = 1000 * time.Millisecond
	DefaultRTTMin            = 3 * time.Millisecond
	DefaultRTTMax            = 500 * time.Millisecond
	DefaultReorderBuffer     = 500 * time.Millisecond
	DefaultKeepAliveInterval = 1000 * time.Millisecond
	DefaultSessionTimeout    = 5 * DefaultKeepAliveInterval
	DefaultMaxRetries        = 20
	DefaultMTU               = 1400
	DefaultOOBQueueSize      = 1024
	DefaultMaxBitrate        = 100_000_000 // bps
)
