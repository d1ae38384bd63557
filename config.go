package rist

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-rist/rist/internal/congestion"
	"github.com/go-rist/rist/internal/protocol"
	"github.com/go-rist/rist/internal/xcrypto"
)

// RecoveryMode selects how the retransmit/reorder window is sized
// (spec.md §6 recovery_mode).
type RecoveryMode byte

const (
	RecoveryUnconfigured RecoveryMode = iota
	RecoveryDisabled
	RecoveryBytes
	RecoveryTime
)

// Profile re-exports protocol.Profile for callers that only need the
// public API surface.
type Profile = protocol.Profile

const (
	ProfileSimple   = protocol.ProfileSimple
	ProfileMain     = protocol.ProfileMain
	ProfileAdvanced = protocol.ProfileAdvanced
)

// BufferBloatMode re-exports congestion.BufferBloatMode.
type BufferBloatMode = congestion.BufferBloatMode

const (
	BufferBloatOff        = congestion.BufferBloatOff
	BufferBloatNormal     = congestion.BufferBloatNormal
	BufferBloatAggressive = congestion.BufferBloatAggressive
)

// PeerConfig configures one peer (spec.md §6). Zero-valued recovery length,
// reorder buffer, RTT bound, keep-alive, session timeout, retry, MTU and
// max-bitrate fields take the protocol package's defaults at
// NewSender/NewReceiver time, and a zero Weight becomes 5; the buffer-bloat
// limits and RecoveryMaxBitrateReturn have no default. Validation happens
// synchronously and leaves no side effects on failure (spec.md §7).
type PeerConfig struct {
	Address string // host:port of the remote endpoint

	GREDstPort uint16

	RecoveryMode            RecoveryMode
	RecoveryMaxBitrate      uint64 // bps
	RecoveryMaxBitrateReturn uint64
	RecoveryLengthMin       time.Duration
	RecoveryLengthMax       time.Duration
	RecoveryReorderBuffer   time.Duration
	RecoveryRTTMin          time.Duration
	RecoveryRTTMax          time.Duration

	Weight uint32

	BufferBloatMode      BufferBloatMode
	BufferBloatLimit     time.Duration
	BufferBloatHardLimit time.Duration

	KeySize KeySize
	Secret  []byte // <= MaxSecretLength bytes

	KeepAliveInterval time.Duration
	SessionTimeout    time.Duration
	MaxRetries        int
	MTU               int

	CName string
}

// KeySize re-exports xcrypto.KeySize.
type KeySize = xcrypto.KeySize

const (
	KeySizeNone = xcrypto.KeySizeNone
	KeySize128  = xcrypto.KeySize128
	KeySize256  = xcrypto.KeySize256
)

func (c *PeerConfig) applyDefaults() {
	if c.RecoveryLengthMin == 0 {
		c.RecoveryLengthMin = protocol.DefaultRecoveryLengthMin
	}
	if c.RecoveryLengthMax == 0 {
		c.RecoveryLengthMax = protocol.DefaultRecoveryLengthMax
	}
	if c.RecoveryReorderBuffer == 0 {
		c.RecoveryReorderBuffer = protocol.DefaultReorderBuffer
	}
	if c.RecoveryRTTMin == 0 {
		c.RecoveryRTTMin = protocol.DefaultRTTMin
	}
	if c.RecoveryRTTMax == 0 {
		c.RecoveryRTTMax = protocol.DefaultRTTMax
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = protocol.DefaultKeepAliveInterval
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = protocol.DefaultSessionTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = protocol.DefaultMaxRetries
	}
	if c.MTU == 0 {
		c.MTU = protocol.DefaultMTU
	}
	if c.RecoveryMaxBitrate == 0 {
		c.RecoveryMaxBitrate = protocol.DefaultMaxBitrate
	}
	if c.Weight == 0 {
		c.Weight = 5
	}
}

func (c *PeerConfig) validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: peer address is required", ErrInvalidConfig)
	}
	if c.RecoveryLengthMin > c.RecoveryLengthMax {
		return fmt.Errorf("%w: recovery_length_min > recovery_length_max", ErrInvalidConfig)
	}
	if c.RecoveryRTTMin > c.RecoveryRTTMax {
		return fmt.Errorf("%w: recovery_rtt_min > recovery_rtt_max", ErrInvalidConfig)
	}
	if len(c.Secret) > protocol.MaxSecretLength {
		return fmt.Errorf("%w: secret exceeds %d bytes", ErrInvalidConfig, protocol.MaxSecretLength)
	}
	if len(c.CName) > protocol.MaxCNameLength {
		return fmt.Errorf("%w: cname exceeds %d bytes", ErrInvalidConfig, protocol.MaxCNameLength)
	}
	switch c.KeySize {
	case KeySizeNone, KeySize128, KeySize256:
	default:
		return fmt.Errorf("%w: unsupported key size %d", ErrInvalidConfig, c.KeySize)
	}
	if c.KeySize != KeySizeNone && len(c.Secret) == 0 {
		return fmt.Errorf("%w: key_size set without a secret", ErrInvalidConfig)
	}
	return nil
}

// Config configures a Sender or Receiver context (spec.md §6).
type Config struct {
	Profile Profile
	Peers   []PeerConfig

	// ListenAddress is the local UDP endpoint this context binds. Empty
	// takes ":0" (ephemeral port) for a Sender; a Receiver almost always
	// needs an explicit port so peers have somewhere fixed to send to.
	ListenAddress string

	// StatsInterval governs how often the Stats callback fires; zero
	// disables periodic stats.
	StatsInterval time.Duration

	// OOBQueueSize bounds the per-peer OOB FIFO when no OOB callback is
	// installed (spec.md §4.6); zero takes protocol.DefaultOOBQueueSize.
	OOBQueueSize int

	Callbacks Callbacks
	Logger    *logrus.Logger
}

func (c *Config) applyDefaults() {
	if c.OOBQueueSize == 0 {
		c.OOBQueueSize = protocol.DefaultOOBQueueSize
	}
	for i := range c.Peers {
		c.Peers[i].applyDefaults()
	}
}

func (c *Config) validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("%w: at least one peer is required", ErrInvalidConfig)
	}
	for i := range c.Peers {
		if err := c.Peers[i].validate(); err != nil {
			return err
		}
	}
	return nil
}
