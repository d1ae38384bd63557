package rist

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rist/rist/internal/congestion"
	"github.com/go-rist/rist/internal/frame"
	"github.com/go-rist/rist/internal/log"
	"github.com/go-rist/rist/internal/lz4frame"
	"github.com/go-rist/rist/internal/protocol"
)

const deadlineInf = time.Duration(math.MaxInt64)

// senderPeer pairs a Peer with the per-peer output state spec.md §4.2
// describes: a retransmit ring and a token-bucket pacer.
type senderPeer struct {
	*Peer
	ring  *retransmitRing
	pacer *congestion.Pacer

	lastKeepAliveSent time.Time
}

// inboundDatagram is one UDP read, handed from the background read
// goroutine to the run loop, mirroring the teacher's packets channel
// (connection.go's `packets chan *receivedPacket`).
type inboundDatagram struct {
	addr *net.UDPAddr
	data []byte
}

// Sender is the send-side context of spec.md §4.2: one cooperative event
// loop driving N peers, each carrying every flow submitted through
// Enqueue (flows are redundant across all authenticated peers, per
// spec.md §4.5's "a receiver may bind several peers to the same flow").
type Sender struct {
	cfg  Config
	conn *udpConn

	peers []*senderPeer

	seqMu sync.Mutex
	seq   map[uint32]uint32 // flow_id -> next sequence

	queue *sendQueue

	incoming chan inboundDatagram
	notify   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool

	lastStats time.Time

	logger *log.Logger
}

// NewSender validates cfg and builds one senderPeer per configured peer. No
// socket is opened and the run loop does not start until Start (spec.md §7:
// configuration errors are synchronous and side-effect-free).
func NewSender(cfg Config) (*Sender, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := log.New(cfg.Logger, log.PerspectiveSender)

	peers := make([]*senderPeer, 0, len(cfg.Peers))
	for _, pc := range cfg.Peers {
		p, err := newPeer(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		sp := &senderPeer{
			Peer:  p,
			ring:  newRetransmitRing(pc.RecoveryLengthMax, pc.RecoveryMaxBitrate, pc.MTU, pc.MaxRetries),
			pacer: congestion.NewPacer(time.Now(), pc.RecoveryMaxBitrate, uint64(pc.MTU)),
		}
		peers = append(peers, sp)
	}

	return &Sender{
		cfg:      cfg,
		peers:    peers,
		seq:      make(map[uint32]uint32),
		queue:    newSendQueue(512),
		incoming: make(chan inboundDatagram, 512),
		notify:   make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// Start binds the local socket, authenticates every peer the auth.connect
// handler accepts (every peer when no handler is installed), and launches
// the run loop.
func (s *Sender) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddress)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	raw, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	conn, err := newUDPConn(raw, s.logger)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	s.conn = conn

	var localIP string
	var localPort int
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		localIP, localPort = local.IP.String(), local.Port
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	now := time.Now()
	for _, sp := range s.peers {
		sp.touch(now)
		accept := s.cfg.Callbacks.AuthConnect
		if accept == nil || accept(sp.addr.IP.String(), sp.addr.Port, localIP, localPort, sp.Peer) {
			sp.accept()
		}
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.run(now)
	return nil
}

// LocalAddr returns the bound UDP address, useful when ListenAddress was
// configured as ":0" and the actual ephemeral port is needed by a peer.
func (s *Sender) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close stops the run loop and closes the socket, invoking auth.disconnect
// for every still-live peer. Datagrams and Enqueue requests still queued
// when Close is called are discarded, not processed.
func (s *Sender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	// Closing the socket is what unblocks readLoop's ReadFrom, so it has to
	// happen before waiting on the goroutines.
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	s.wg.Wait()
	return err
}

// Enqueue implements spec.md §4.2's enqueue(data_block). It never touches
// peer, pacer or ring state itself (spec.md §5: "MUST NOT share peer state
// across threads without a mutex; the canonical design uses message-
// passing between the loop and application-facing queues") — it only
// hands the payload to the bounded sendQueue and wakes the run loop, which
// alone stamps the sequence, fans the datagram out to every authenticated
// peer and stores one copy per peer's retransmit ring. Fails with
// WouldBlock if the queue is already full.
func (s *Sender) Enqueue(flowID uint32, payload []byte, marker bool) (int, error) {
	if !s.started.Load() {
		return 0, ErrNotStarted
	}

	req := enqueueRequest{
		flowID:  flowID,
		payload: append([]byte(nil), payload...),
		marker:  marker,
	}
	if !s.queue.push(req) {
		return 0, ErrWouldBlock
	}

	s.wake()
	return len(payload), nil
}

// drainSendQueue moves every request queued by Enqueue into a real
// transmission, run only from the loop goroutine so the peer/pacer/ring
// mutations below never race with handleInbound or tick.
func (s *Sender) drainSendQueue(now time.Time) {
	for _, req := range s.queue.drain() {
		s.transmit(now, req.flowID, req.payload, req.marker)
	}
}

// transmit stamps a fresh sequence for flowID, transmits it on every
// authenticated peer, and stores one copy per peer's retransmit ring. A
// peer whose pacer is currently empty skips this send: the block is neither
// written to that peer nor stored in its retransmit ring, so a later NACK
// for it cannot be served and no error reaches the Enqueue caller.
func (s *Sender) transmit(now time.Time, flowID uint32, payload []byte, marker bool) {
	sequence := s.nextSequence(flowID)

	for _, sp := range s.peers {
		if sp.State() != PeerActive && sp.State() != PeerAuthenticated {
			continue
		}
		if sp.bufferBloat.ThrottleOriginals(now) {
			continue
		}

		d := &frame.Data{
			FlowID:      flowID,
			VirtDstPort: sp.cfg.GREDstPort,
			Sequence:    sequence,
			NTPStamp:    frame.NTPStamp(now),
			Marker:      marker,
			Payload:     payload,
		}

		wire, err := s.encode(sp, d)
		if err != nil {
			s.logger.Error("encode_failed", map[string]any{"error": err.Error()})
			continue
		}

		if !sp.pacer.Allow(now, uint64(len(wire))) {
			continue
		}

		if _, err := s.conn.WriteTo(wire, sp.addr); err != nil {
			s.logger.Error("write_failed", map[string]any{"peer": sp.Address(), "error": err.Error()})
			continue
		}

		sp.ring.Add(now, sequence, wire)
		sp.activate()
		sp.stats.addSent(1)
	}
}

// SendOOB implements spec.md §4.6's unsequenced, unretransmitted auxiliary
// channel on the send side.
func (s *Sender) SendOOB(peerAddr string, payload []byte) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	now := time.Now()
	for _, sp := range s.peers {
		if sp.Address() != peerAddr {
			continue
		}

		o := &frame.OOB{NTPStamp: frame.NTPStamp(now), Payload: payload}
		if sp.cipher != nil {
			o.Salt = sp.salt
			o.Encrypted = true
			o.Payload = sp.cipher.Encrypt(0, 0, payload)
		}

		h := frame.Header{Version: protocol.ProtocolVersion, FlowID: 0}
		if o.Encrypted {
			h.Flags |= protocol.FlagEncrypted
		}
		wire := frame.Pack(h, o)
		_, err := s.conn.WriteTo(wire, sp.addr)
		return err
	}
	return ErrPeerDead
}

func (s *Sender) nextSequence(flowID uint32) uint32 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	seq := s.seq[flowID]
	s.seq[flowID] = seq + 1
	return seq
}

// encode applies compression then encryption (spec.md §4.7) and builds the
// wire datagram for the sender's configured profile.
func (s *Sender) encode(sp *senderPeer, d *frame.Data) ([]byte, error) {
	payload := d.Payload
	compressed := false

	// Compression precedes encryption so the cipher never has to compress
	// already-opaque ciphertext (spec.md §4.7 order).
	if s.cfg.Profile == ProfileAdvanced {
		out, err := lz4frame.Compress(payload)
		if err == nil && len(out) < len(payload) {
			payload, compressed = out, true
		}
	}

	local := *d
	local.Payload = payload
	local.Compressed = compressed

	if sp.cipher != nil {
		local.Encrypted = true
		local.Salt = sp.salt
		local.Payload = sp.cipher.Encrypt(local.FlowID, local.Sequence, payload)
	}

	if s.cfg.Profile == ProfileSimple {
		return local.Encode(), nil
	}

	h := frame.Header{
		Version:     protocol.ProtocolVersion,
		VirtSrcPort: local.VirtSrcPort,
		VirtDstPort: local.VirtDstPort,
		FlowID:      local.FlowID,
	}
	if local.Encrypted {
		h.Flags |= protocol.FlagEncrypted
	}
	if local.Compressed {
		h.Flags |= protocol.FlagCompressed
	}
	return frame.Pack(h, &local), nil
}

func (s *Sender) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, protocol.MaxUDPPayloadSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case s.incoming <- inboundDatagram{addr: addr, data: cp}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Sender) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// run is the single cooperative event loop (spec.md §5), grounded on the
// teacher's connection.run: select over inbound datagrams, a single timer
// set to the earliest of the per-peer pacer/keep-alive/liveness deadlines,
// and a notify channel for externally triggered wakeups.
func (s *Sender) run(now time.Time) {
	defer s.wg.Done()
	defer s.shutdown()

	timer := time.NewTimer(deadlineInf)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.tick(now)

		next := s.nextDeadline(now)
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-s.ctx.Done():
			return
		case dgram := <-s.incoming:
			now = time.Now()
			s.handleInbound(now, dgram)
		case <-timer.C:
			now = time.Now()
		case <-s.notify:
			now = time.Now()
		}
	}
}

func (s *Sender) tick(now time.Time) {
	s.drainSendQueue(now)

	for _, sp := range s.peers {
		if sp.checkLiveness(now) {
			sp.markDead("session_timeout")
			if cb := s.cfg.Callbacks.AuthDisconnect; cb != nil {
				cb(sp.Peer)
			}
			continue
		}
		if sp.State() == PeerAuthenticated || sp.State() == PeerActive {
			s.maybeKeepAlive(now, sp)
		}
	}

	if s.cfg.StatsInterval > 0 && now.Sub(s.lastStats) >= s.cfg.StatsInterval {
		s.lastStats = now
		if cb := s.cfg.Callbacks.Stats; cb != nil {
			cb(s.snapshotStats(now))
		}
	}
}

// maybeKeepAlive sends a keep-alive every keepalive_timeout/3 while the
// peer is connected (spec.md §4.4). Only receipt of a packet from the peer
// resets its liveness deadline; sending a keep-alive does not, so this
// tracks its own send cadence independently.
func (s *Sender) maybeKeepAlive(now time.Time, sp *senderPeer) {
	due := sp.lastKeepAliveSent.Add(sp.cfg.KeepAliveInterval / 3)
	if now.Before(due) {
		return
	}

	ka := &frame.KeepAlive{CName: sp.keepAliveCName()}
	h := frame.Header{Version: protocol.ProtocolVersion, FlowID: 0}
	wire := frame.Pack(h, ka)
	_, _ = s.conn.WriteTo(wire, sp.addr)
	sp.lastKeepAliveSent = now
}

func (s *Sender) nextDeadline(now time.Time) time.Time {
	deadline := now.Add(s.cfg.Peers[0].KeepAliveInterval / 3)
	for _, sp := range s.peers {
		due := sp.lastKeepAliveSent.Add(sp.cfg.KeepAliveInterval / 3)
		if due.Before(deadline) {
			deadline = due
		}
		if !sp.keepAliveDeadline.IsZero() && sp.keepAliveDeadline.Before(deadline) {
			deadline = sp.keepAliveDeadline
		}
	}
	return deadline
}

func (s *Sender) handleInbound(now time.Time, dgram inboundDatagram) {
	sp := s.peerByAddr(dgram.addr)
	if sp == nil {
		s.logger.Debug("unknown_peer", map[string]any{"addr": dgram.addr.String()})
		return
	}
	sp.touch(now)

	var pk frame.Packet
	var err error
	if s.cfg.Profile == ProfileSimple {
		pk, err = frame.UnpackSimple(dgram.data)
	} else {
		pk, err = frame.Unpack(dgram.data)
	}
	if err != nil {
		s.logger.Debug("malformed_packet", map[string]any{"peer": sp.Address(), "error": err.Error()})
		return
	}

	switch fr := pk.Payload.(type) {
	case *frame.NACKRange:
		s.handleNACKRange(now, sp, pk.Header.FlowID, fr)
	case *frame.NACKBitmask:
		s.handleNACKBitmask(now, sp, fr)
	case *frame.ReceiverReport:
		s.handleReceiverReport(now, sp, fr)
	case *frame.KeepAlive:
		sp.activate()
	case *frame.OOB:
		s.handleOOB(sp, fr)
	}
}

// handleOOB delivers an inbound out-of-band block, decrypting with the
// peer's key if it carries one (spec.md §4.6: the OOB channel is
// bidirectional, unsequenced and unretransmitted).
func (s *Sender) handleOOB(sp *senderPeer, fr *frame.OOB) {
	payload := fr.Payload
	if fr.Encrypted {
		cipher, err := sp.cipherForSalt(fr.Salt)
		if err != nil {
			s.logger.Debug("oob_decrypt_failed", map[string]any{"peer": sp.Address(), "error": err.Error()})
			return
		}
		decoded, err := cipher.Decrypt(0, 0, payload)
		if err != nil {
			s.logger.Debug("oob_decrypt_failed", map[string]any{"peer": sp.Address(), "error": err.Error()})
			return
		}
		payload = decoded
	}

	if cb := s.cfg.Callbacks.OOB; cb != nil {
		cb(sp.Peer, payload)
	}
}

func (s *Sender) peerByAddr(addr *net.UDPAddr) *senderPeer {
	for _, sp := range s.peers {
		if sp.addr.IP.Equal(addr.IP) && sp.addr.Port == addr.Port {
			return sp
		}
	}
	return nil
}

func (s *Sender) handleNACKRange(now time.Time, sp *senderPeer, flowID uint32, fr *frame.NACKRange) {
	near := s.nextSequenceHint(flowID)
	for _, r := range fr.Ranges {
		for i := uint16(0); i < r.Count; i++ {
			seq := expandSequence(r.Base+i, near)
			s.retransmit(now, sp, seq)
		}
	}
}

// nextSequenceHint returns the most recently stamped sequence for flowID,
// used as the "near" reference expandSequence needs to reconstruct a full
// 32-bit sequence from a NACK's 16-bit low word.
func (s *Sender) nextSequenceHint(flowID uint32) uint32 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.seq[flowID] - 1
}

func (s *Sender) handleNACKBitmask(now time.Time, sp *senderPeer, fr *frame.NACKBitmask) {
	for offset := uint32(0); offset < protocol.NACKBitmaskWindow; offset++ {
		if fr.IsSet(offset) {
			s.retransmit(now, sp, fr.Base+offset)
		}
	}
}

// retransmit implements spec.md §4.2's NACK response: only present,
// unexpired, under-retry-limit sequences are retransmitted, gated by
// buffer-bloat and one-RTT duplicate suppression.
func (s *Sender) retransmit(now time.Time, sp *senderPeer, sequence uint32) {
	if sp.bufferBloat.DropRetransmits() {
		return
	}
	if !sp.ring.Eligible(now, sequence) {
		return
	}

	slot, ok := sp.ring.Lookup(now, sequence)
	if !ok {
		return
	}
	if now.Sub(slot.sentAt) < sp.RTT() {
		// suppress duplicate NACKs arriving within one RTT of the last
		// retransmit for the same sequence.
		return
	}

	if !sp.pacer.Allow(now, uint64(len(slot.payload))) {
		return
	}

	if _, err := s.conn.WriteTo(slot.payload, sp.addr); err != nil {
		s.logger.Error("retransmit_failed", map[string]any{"peer": sp.Address(), "sequence": sequence, "error": err.Error()})
		return
	}
	sp.ring.MarkRetransmitted(now, sequence)
	sp.stats.addRetransmitted(1)
}

func (s *Sender) handleReceiverReport(now time.Time, sp *senderPeer, fr *frame.ReceiverReport) {
	if fr.LSR == 0 {
		return
	}
	nowMid := frame.MiddleBits(frame.NTPStamp(now))
	sample := frame.DurationFromMiddleBits(nowMid - fr.LSR - fr.DLSR)
	if sample > 0 && sample < sp.RTT()*10+time.Second {
		sp.addRTTSample(now, sample)
	}
	sp.activate()
}

func (s *Sender) snapshotStats(now time.Time) Stats {
	out := Stats{Timestamp: now}
	for _, sp := range s.peers {
		out.Peers = append(out.Peers, PeerStats{
			Address:            sp.Address(),
			Sent:               sp.stats.sent,
			Retransmitted:      sp.stats.retransmitted,
			RTT:                sp.RTT(),
			RTTMin:             sp.rtt.Min(),
			RTTMax:             sp.rtt.Max(),
			RetransmitQueueLen: len(sp.ring.slots),
		})
	}
	return out
}

func (s *Sender) shutdown() {
	for _, sp := range s.peers {
		if sp.State() != PeerDead {
			sp.markDead("context_closed")
			if cb := s.cfg.Callbacks.AuthDisconnect; cb != nil {
				cb(sp.Peer)
			}
		}
	}
}
