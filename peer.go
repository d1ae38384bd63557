package rist

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/go-rist/rist/internal/congestion"
	"github.com/go-rist/rist/internal/log"
	"github.com/go-rist/rist/internal/xcrypto"
)

// PeerState is one of the five states spec.md §4.4 names.
type PeerState byte

const (
	PeerIdle PeerState = iota
	PeerHandshaking
	PeerAuthenticated
	PeerActive
	PeerDead
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerHandshaking:
		return "handshaking"
	case PeerAuthenticated:
		return "authenticated"
	case PeerActive:
		return "active"
	default:
		return "dead"
	}
}

const maxDecryptFailures = 8

// Peer is an endpoint identified by (remote-address, local-bind,
// virtual-port-pair) per spec.md §3. It is owned by exactly one Sender or
// Receiver context, which the Peer reaches only through an opaque index
// (spec.md §9: "the peer an opaque index; call-sites looking up a peer go
// through the context"), never a back-pointer cycle.
type Peer struct {
	cfg  PeerConfig
	addr *net.UDPAddr

	state PeerState
	cname string

	rtt         *congestion.RTT
	bufferBloat *congestion.BufferBloat

	keepAliveDeadline time.Time
	sessionTimeout    time.Duration

	decryptFailures int
	authenticated   bool

	cipher *xcrypto.Cipher
	salt   [xcrypto.SaltSize]byte

	// recvCiphers caches one Cipher per distinct salt seen on the wire: the
	// peer at the other end picks its own salt and carries it on every
	// encrypted Data/OOB frame (spec.md §4.7), so decoding needs to derive a
	// key on demand rather than assume the local salt applies.
	recvCiphers map[[xcrypto.SaltSize]byte]*xcrypto.Cipher

	weight   uint32
	lossRate float64

	stats collector

	logger *log.Logger
}

func newPeer(cfg PeerConfig, logger *log.Logger) (*Peer, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, err
	}

	cname := cfg.CName
	if cname == "" {
		cname = uuid.NewString()
	}

	p := &Peer{
		cfg:            cfg,
		addr:           addr,
		state:          PeerIdle,
		cname:          cname,
		rtt:            congestion.NewRTT(cfg.RecoveryRTTMin, cfg.RecoveryRTTMax),
		bufferBloat:    congestion.NewBufferBloat(cfg.BufferBloatMode, cfg.BufferBloatLimit, cfg.BufferBloatHardLimit),
		sessionTimeout: cfg.SessionTimeout,
		weight:         cfg.Weight,
		logger:         logger.With(map[string]any{"peer": cfg.Address}),
	}

	if cfg.KeySize != KeySizeNone {
		if _, err := readRandom(p.salt[:]); err != nil {
			return nil, err
		}
		key, err := xcrypto.DeriveKey(cfg.Secret, p.salt, cfg.KeySize)
		if err != nil {
			return nil, err
		}
		cipher, err := xcrypto.New(key, p.salt)
		if err != nil {
			return nil, err
		}
		p.cipher = cipher
	}
	return p, nil
}

// cipherForSalt returns the Cipher that decodes frames carrying salt,
// deriving and caching one the first time each distinct salt is seen.
func (p *Peer) cipherForSalt(salt [xcrypto.SaltSize]byte) (*xcrypto.Cipher, error) {
	if salt == p.salt && p.cipher != nil {
		return p.cipher, nil
	}
	if c, ok := p.recvCiphers[salt]; ok {
		return c, nil
	}

	key, err := xcrypto.DeriveKey(p.cfg.Secret, salt, p.cfg.KeySize)
	if err != nil {
		return nil, err
	}
	c, err := xcrypto.New(key, salt)
	if err != nil {
		return nil, err
	}
	if p.recvCiphers == nil {
		p.recvCiphers = make(map[[xcrypto.SaltSize]byte]*xcrypto.Cipher)
	}
	p.recvCiphers[salt] = c
	return c, nil
}

// Address returns the peer's remote endpoint.
func (p *Peer) Address() string { return p.cfg.Address }

// State returns the peer's current lifecycle state.
func (p *Peer) State() PeerState { return p.state }

// CName returns the peer's canonical endpoint name.
func (p *Peer) CName() string { return p.cname }

// RTT returns the current smoothed RTT estimate.
func (p *Peer) RTT() time.Duration { return p.rtt.Smoothed() }

// touch resets the liveness deadline on receipt of any inbound packet
// (spec.md §4.4: "receipt of any packet from the peer resets its liveness
// deadline"), and drives the idle->handshaking transition.
func (p *Peer) touch(now time.Time) {
	p.keepAliveDeadline = now.Add(p.sessionTimeout)
	if p.state == PeerIdle {
		p.state = PeerHandshaking
		p.logger.Info("peer_state", map[string]any{"state": p.state.String()})
	}
}

// accept completes the handshaking->authenticated transition, either
// because an installed auth.connect callback accepted the peer or because
// no handler is installed (implicit accept, spec.md §4.4).
func (p *Peer) accept() {
	if p.state == PeerHandshaking {
		p.authenticated = true
		p.state = PeerAuthenticated
		p.logger.Info("peer_state", map[string]any{"state": p.state.String()})
	}
}

// activate completes authenticated->active on first data or RR exchanged.
func (p *Peer) activate() {
	if p.state == PeerAuthenticated {
		p.state = PeerActive
		p.logger.Info("peer_state", map[string]any{"state": p.state.String()})
	}
}

// markDead transitions any state to dead. Idempotent; the caller is
// responsible for invoking the disconnect callback exactly once.
func (p *Peer) markDead(reason string) {
	if p.state == PeerDead {
		return
	}
	p.state = PeerDead
	p.logger.Info("peer_dead", map[string]any{"reason": reason})
}

// checkLiveness returns true if the peer should transition to dead because
// no inbound packet arrived within session_timeout (spec.md §4.4).
func (p *Peer) checkLiveness(now time.Time) bool {
	return p.state != PeerIdle && p.state != PeerDead && now.After(p.keepAliveDeadline)
}

// onDecryptFailure counts a decryption failure and reports whether the
// peer has now crossed the K-failures-within-a-window threshold that kills
// it (spec.md §4.4).
func (p *Peer) onDecryptFailure() bool {
	p.decryptFailures++
	return p.decryptFailures >= maxDecryptFailures
}

func (p *Peer) resetDecryptFailures() { p.decryptFailures = 0 }

// addRTTSample folds a round-trip sample into the estimator and the
// buffer-bloat controller. Its only caller is the sender's ReceiverReport
// handler (LSR/DLSR delay); retransmit request/response pairs are not
// sampled.
func (p *Peer) addRTTSample(now time.Time, sample time.Duration) {
	p.rtt.Add(sample)
	p.bufferBloat.Observe(now, p.rtt.Smoothed())
}

// keepAliveCName returns the cname carried in outbound keep-alives (spec.md
// §4.4, §6); the capabilities bitmap is left zero by the caller.
func (p *Peer) keepAliveCName() string { return p.cname }
