package rist

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rist/rist/internal/frame"
	"github.com/go-rist/rist/internal/log"
	"github.com/go-rist/rist/internal/lz4frame"
	"github.com/go-rist/rist/internal/protocol"
)

// receiverPeer pairs a Peer with the per-peer state its ReceiverReports
// need: when the last RR went out, the last data timestamp and arrival
// time (LSR/DLSR) and the interarrival jitter estimate. Redundant-path
// dedup is per flow, in Receiver.dedup, not per peer.
type receiverPeer struct {
	*Peer

	lastRRSent time.Time

	lastDataNTPMid  uint32
	lastDataArrival time.Time

	hasTransit  bool
	lastTransit time.Duration
	jitter      float64 // RFC 3550 interarrival jitter estimate, in seconds
}

// pendingPull is one block waiting in the bounded pull queue an
// application drains via Read when no Data callback is installed (spec.md
// §9: "the context exposes both a push callback and a bounded pull
// queue").
type pendingPull struct {
	flowID   uint32
	sequence uint32
	payload  []byte
}

// Receiver is the receive-side context of spec.md §4.3/§4.5: one
// cooperative event loop fanning inbound datagrams into per-flow reorder
// buffers, driving their release loops and NACK schedulers, and delivering
// recovered blocks to the application either synchronously (a Data
// callback) or through a bounded pull queue.
type Receiver struct {
	cfg  Config
	conn *udpConn

	peers []*receiverPeer

	flowsMu sync.Mutex
	flows   map[uint32]*Flow
	dedup   map[uint32]*dedupWindow // flow_id -> recent-sequence bitmap

	oob *oobQueue

	pull chan pendingPull

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

// NewReceiver validates cfg and builds the per-peer state. No socket is
// opened and no goroutine runs until Start (spec.md §7: synchronous,
// side-effect-free configuration errors).
func NewReceiver(cfg Config) (*Receiver, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := log.New(cfg.Logger, log.PerspectiveReceiver)

	peers := make([]*receiverPeer, 0, len(cfg.Peers))
	for _, pc := range cfg.Peers {
		p, err := newPeer(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		peers = append(peers, &receiverPeer{Peer: p})
	}

	return &Receiver{
		cfg:      cfg,
		peers:    peers,
		flows:    make(map[uint32]*Flow),
		dedup:    make(map[uint32]*dedupWindow),
		oob:      newOOBQueue(cfg.OOBQueueSize),
		pull:     make(chan pendingPull, 1024),
		incoming: make(chan inboundDatagram, 512),
		notify:   make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// Start binds the local socket and launches the run loop.
func (r *Receiver) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	addr, err := net.ResolveUDPAddr("udp", r.cfg.ListenAddress)
	if err != nil {
		r.started.Store(false)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	raw, err := net.ListenUDP("udp", addr)
	if err != nil {
		r.started.Store(false)
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	conn, err := newUDPConn(raw, r.logger)
	if err != nil {
		r.started.Store(false)
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	r.conn = conn

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(2)
	go r.readLoop()
	go r.run(time.Now())
	return nil
}

// LocalAddr returns the bound UDP address, useful when ListenAddress was
// configured as ":0" and the actual ephemeral port is needed by a peer.
func (r *Receiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Close signals the run loop to stop, invoking auth.disconnect for every
// still-live peer (spec.md §5).
func (r *Receiver) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	// Closing the socket is what unblocks readLoop's ReadFrom, so it has to
	// happen before waiting on the goroutines.
	var err error
	if r.conn != nil {
		err = r.conn.Close()
	}
	r.wg.Wait()
	return err
}

// Read pulls one delivered block from the bounded application queue,
// blocking until one arrives, ctx is done, or timeout elapses (spec.md
// §7: "read returns {ok, TimedOut, NotStarted}").
func (r *Receiver) Read(ctx context.Context) (block []byte, flowID uint32, sequence uint32, err error) {
	if !r.started.Load() {
		return nil, 0, 0, ErrNotStarted
	}
	select {
	case p := <-r.pull:
		return p.payload, p.flowID, p.sequence, nil
	case <-ctx.Done():
		return nil, 0, 0, ErrTimedOut
	case <-r.ctx.Done():
		return nil, 0, 0, ErrNotStarted
	}
}

func (r *Receiver) readLoop() {
	defer r.wg.Done()
	buf := make([]byte, protocol.MaxUDPPayloadSize)
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case r.incoming <- inboundDatagram{addr: addr, data: cp}:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Receiver) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// run is the single cooperative event loop (spec.md §5): inbound
// datagrams, the earliest of every flow's reorder/NACK deadline and every
// peer's liveness deadline, and external wakeups.
func (r *Receiver) run(now time.Time) {
	defer r.wg.Done()
	defer r.shutdown()

	timer := time.NewTimer(deadlineInf)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.drainDeadlines(now)

		next := r.nextDeadline(now)
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-r.ctx.Done():
			return
		case dgram := <-r.incoming:
			now = time.Now()
			r.handleInbound(now, dgram)
		case <-timer.C:
			now = time.Now()
		case <-r.notify:
			now = time.Now()
		}
	}
}

// drainDeadlines polls every flow's release loop and NACK scheduler, marks
// dead peers, and fires Stats on its configured interval.
func (r *Receiver) drainDeadlines(now time.Time) {
	r.flowsMu.Lock()
	flows := make([]*Flow, 0, len(r.flows))
	for _, f := range r.flows {
		flows = append(flows, f)
	}
	r.flowsMu.Unlock()

	var totalReceived, totalLost uint64
	for _, f := range flows {
		r.deliver(f, f.poll(now))
		for _, ev := range f.dueNACKs(now) {
			r.sendNACK(f.id, ev)
		}
		totalReceived += f.stats.received
		totalLost += f.stats.lost
	}

	for _, p := range r.peers {
		if p.checkLiveness(now) {
			p.markDead("session_timeout")
			if cb := r.cfg.Callbacks.AuthDisconnect; cb != nil {
				cb(p.Peer)
			}
			continue
		}
		if p.State() == PeerAuthenticated || p.State() == PeerActive {
			r.maybeSendRR(now, p, totalReceived, totalLost)
		}
	}

	if r.cfg.StatsInterval > 0 && now.Sub(r.lastStats) >= r.cfg.StatsInterval {
		r.lastStats = now
		if cb := r.cfg.Callbacks.Stats; cb != nil {
			cb(r.snapshotStats(now))
		}
	}
}

func (r *Receiver) nextDeadline(now time.Time) time.Time {
	deadline := now.Add(protocol.DefaultKeepAliveInterval)

	r.flowsMu.Lock()
	for _, f := range r.flows {
		if d := f.nextDeadline(); !d.IsZero() && d.Before(deadline) {
			deadline = d
		}
	}
	r.flowsMu.Unlock()

	for _, p := range r.peers {
		if !p.keepAliveDeadline.IsZero() && p.keepAliveDeadline.Before(deadline) {
			deadline = p.keepAliveDeadline
		}
		due := p.lastRRSent.Add(p.cfg.KeepAliveInterval / 3)
		if due.Before(deadline) {
			deadline = due
		}
	}
	return deadline
}

func (r *Receiver) handleInbound(now time.Time, dgram inboundDatagram) {
	p := r.peerByAddr(dgram.addr)
	if p == nil {
		r.logger.Debug("unknown_peer", map[string]any{"addr": dgram.addr.String()})
		return
	}
	p.touch(now)

	var pk frame.Packet
	var err error
	if r.cfg.Profile == ProfileSimple {
		pk, err = frame.UnpackSimple(dgram.data)
	} else {
		pk, err = frame.Unpack(dgram.data)
	}
	if err != nil {
		r.logger.Debug("malformed_packet", map[string]any{"peer": p.Address(), "error": err.Error()})
		return
	}

	switch fr := pk.Payload.(type) {
	case *frame.Data:
		r.handleData(now, p, fr)
		frame.PutData(fr)
	case *frame.KeepAlive:
		p.cname = fr.CName
		p.accept()
		p.activate()
	case *frame.OOB:
		r.handleOOB(now, p, fr)
	}
}

func (r *Receiver) peerByAddr(addr *net.UDPAddr) *receiverPeer {
	for _, p := range r.peers {
		if p.addr.IP.Equal(addr.IP) && p.addr.Port == addr.Port {
			return p
		}
	}
	return nil
}

// handleData implements spec.md §4.3/§4.5/§4.7 for one inbound data
// packet: decrypt, decompress, dedup across redundant peers, then hand off
// to the packet's flow.
func (r *Receiver) handleData(now time.Time, p *receiverPeer, d *frame.Data) {
	// Decode only produced the wire-truncated RTP sub-header fields (spec.md
	// §6): widen them back to full resolution against this flow's own
	// sequence space and the local clock before they're used as a cipher
	// nonce or a ring index.
	f := r.flowFor(d.FlowID, p.cfg)
	d.Sequence = expandSequence(uint16(d.Sequence), f.highSeen)
	d.NTPStamp = frame.WidenMiddleBits(uint32(d.NTPStamp), now)

	p.trackArrival(now, d.NTPStamp)

	payload := d.Payload
	if d.Encrypted {
		cipher, err := p.cipherForSalt(d.Salt)
		if err != nil {
			p.logger.Debug("decrypt_failed", map[string]any{"error": err.Error()})
			r.onDecryptFailure(p)
			return
		}
		decoded, err := cipher.Decrypt(d.FlowID, d.Sequence, payload)
		if err != nil {
			p.logger.Debug("decrypt_failed", map[string]any{"error": err.Error()})
			r.onDecryptFailure(p)
			return
		}
		payload = decoded
	}
	p.resetDecryptFailures()

	if d.Compressed {
		decoded, err := lz4frame.Decompress(payload)
		if err != nil {
			p.logger.Debug("malformed_packet", map[string]any{"error": err.Error()})
			return
		}
		payload = decoded
	}

	if r.dedupSeen(f, d.Sequence) {
		p.stats.addDuplicate(1)
		return
	}

	if err := f.onData(now, p.Address(), d.Sequence, payload); err != nil {
		p.logger.Debug("late_drop", map[string]any{"flow": d.FlowID, "sequence": d.Sequence})
	} else {
		p.stats.addReceived(1)
	}
	p.accept()
	p.activate()

	r.deliver(f, f.poll(now))
	r.wake()
}

// trackArrival folds one Data packet's send timestamp into the RTCP-style
// state a ReceiverReport needs: the NTP middle-bits of the most recent
// timestamp seen (LSR) and the RFC 3550 interarrival jitter estimate,
// computed on the cleartext NTPStamp every Data packet carries regardless
// of encryption (spec.md §4.7 only transforms Payload).
func (p *receiverPeer) trackArrival(now time.Time, ntpStamp uint64) {
	p.lastDataNTPMid = frame.MiddleBits(ntpStamp)
	p.lastDataArrival = now

	transit := now.Sub(frame.NTPToTime(ntpStamp))
	if p.hasTransit {
		delta := transit - p.lastTransit
		if delta < 0 {
			delta = -delta
		}
		p.jitter += (delta.Seconds() - p.jitter) / 16
	}
	p.lastTransit = transit
	p.hasTransit = true
}

// maybeSendRR emits a ReceiverReport every KeepAliveInterval/3 (spec.md
// §4.4's cadence for control traffic), carrying the LSR/DLSR pair the
// sender needs for its own RTT estimate (see sender.go's
// handleReceiverReport).
func (r *Receiver) maybeSendRR(now time.Time, p *receiverPeer, received, lost uint64) {
	due := p.lastRRSent.Add(p.cfg.KeepAliveInterval / 3)
	if now.Before(due) {
		return
	}
	p.lastRRSent = now

	rr := &frame.ReceiverReport{
		Received: uint32(received),
		Lost:     uint32(lost),
		Jitter:   frame.MiddleBitsFromDuration(time.Duration(p.jitter * float64(time.Second))),
		LSR:      p.lastDataNTPMid,
	}
	if !p.lastDataArrival.IsZero() {
		rr.DLSR = frame.MiddleBitsFromDuration(now.Sub(p.lastDataArrival))
	}

	h := frame.Header{Version: protocol.ProtocolVersion, FlowID: 0}
	wire := frame.Pack(h, rr)
	if _, err := r.conn.WriteTo(wire, p.addr); err != nil {
		r.logger.Error("rr_send_failed", map[string]any{"peer": p.Address(), "error": err.Error()})
	}
}

func (r *Receiver) onDecryptFailure(p *receiverPeer) {
	if p.onDecryptFailure() {
		p.markDead("decrypt_failures")
		if cb := r.cfg.Callbacks.AuthDisconnect; cb != nil {
			cb(p.Peer)
		}
	}
}

// handleOOB delivers an out-of-band block (spec.md §4.6): synchronously if
// a callback is installed, else through the bounded drop-oldest FIFO.
func (r *Receiver) handleOOB(now time.Time, p *receiverPeer, o *frame.OOB) {
	payload := o.Payload
	if o.Encrypted {
		cipher, err := p.cipherForSalt(o.Salt)
		if err != nil {
			p.logger.Debug("decrypt_failed", map[string]any{"error": err.Error()})
			return
		}
		decoded, err := cipher.Decrypt(0, 0, payload)
		if err != nil {
			p.logger.Debug("decrypt_failed", map[string]any{"error": err.Error()})
			return
		}
		payload = decoded
	}

	if cb := r.cfg.Callbacks.OOB; cb != nil {
		cb(p.Peer, payload)
		return
	}
	r.oob.push(p.Address(), payload)
}

// PollOOB drains queued out-of-band blocks for peerAddr in delivery order,
// used when no OOB callback is installed.
func (r *Receiver) PollOOB(peerAddr string) [][]byte {
	return r.oob.drain(peerAddr)
}

// flowFor returns flowID's Flow, lazily creating it from the config of
// whichever peer first delivers a packet on it (spec.md §9: a flow_id seen
// from a new peer is treated as the same flow, never a second instance).
func (r *Receiver) flowFor(flowID uint32, cfg PeerConfig) *Flow {
	r.flowsMu.Lock()
	defer r.flowsMu.Unlock()
	f, ok := r.flows[flowID]
	if !ok {
		f = newFlow(flowID, cfg, r.logger)
		r.flows[flowID] = f
		r.dedup[flowID] = newDedupWindow(f.window)
	}
	return f
}

// dedupSeen implements spec.md §4.5: first arrival wins per (flow_id,
// sequence); later duplicates across redundant peers update per-peer stats
// but never re-enter the reorder buffer.
func (r *Receiver) dedupSeen(f *Flow, sequence uint32) bool {
	r.flowsMu.Lock()
	defer r.flowsMu.Unlock()
	w, ok := r.dedup[f.id]
	if !ok {
		w = newDedupWindow(f.window)
		r.dedup[f.id] = w
	}
	return w.check(sequence)
}

func (r *Receiver) deliver(f *Flow, blocks []deliveredBlock) {
	for _, b := range blocks {
		if cb := r.cfg.Callbacks.Data; cb != nil {
			cb(b.payload, f.id, b.sequence)
			continue
		}
		select {
		case r.pull <- pendingPull{flowID: f.id, sequence: b.sequence, payload: b.payload}:
		default:
			f.logger.Debug("pull_queue_full", map[string]any{"sequence": b.sequence})
		}
	}
}

// sendNACK implements spec.md §4.3's peer-selection rule, coalescing the
// sequences the flow's wheel fired into a range or bitmask frame addressed
// to the peer the flow chose.
func (r *Receiver) sendNACK(flowID uint32, ev nackEvent) {
	p := r.peerByAddrString(ev.peerAddr)
	if p == nil {
		return
	}

	fr := coalesceNACK(ev.sequences)
	h := frame.Header{Version: protocol.ProtocolVersion, FlowID: flowID}
	wire := frame.Pack(h, fr)
	if _, err := r.conn.WriteTo(wire, p.addr); err != nil {
		r.logger.Error("nack_send_failed", map[string]any{"peer": p.Address(), "error": err.Error()})
	}
}

func (r *Receiver) peerByAddrString(addr string) *receiverPeer {
	for _, p := range r.peers {
		if p.Address() == addr {
			return p
		}
	}
	return nil
}

// coalesceNACK picks range or bitmask encoding per spec.md §4.3: bitmask
// once density within a 16-bit window reaches the configured threshold.
func coalesceNACK(sequences []uint32) frame.Frame {
	if len(sequences) == 0 {
		return &frame.NACKRange{}
	}

	min, max := sequences[0], sequences[0]
	for _, s := range sequences[1:] {
		if seqLess(s, min) {
			min = s
		}
		if seqLess(max, s) {
			max = s
		}
	}

	span := seqDistance(max, min) + 1
	density := float64(len(sequences)) / float64(span)
	if span <= protocol.NACKBitmaskWindow && density >= protocol.NACKBitmaskDensityThreshold {
		bm := &frame.NACKBitmask{Base: min}
		for _, s := range sequences {
			bm.Set(uint32(seqDistance(s, min)))
		}
		return bm
	}

	ranges := make([]frame.Range, 0, len(sequences))
	sortUint32(sequences)
	i := 0
	for i < len(sequences) {
		base := sequences[i]
		count := uint16(1)
		j := i + 1
		for j < len(sequences) && sequences[j] == sequences[j-1]+1 {
			count++
			j++
		}
		ranges = append(ranges, frame.Range{Base: uint16(base), Count: count})
		i = j
	}
	return &frame.NACKRange{Ranges: ranges}
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (r *Receiver) snapshotStats(now time.Time) Stats {
	out := Stats{Timestamp: now}
	for _, p := range r.peers {
		out.Peers = append(out.Peers, PeerStats{
			Address:  p.Address(),
			Received: p.stats.received,
			Lost:     p.stats.lost,
			RTT:      p.RTT(),
			RTTMin:   p.rtt.Min(),
			RTTMax:   p.rtt.Max(),
		})
	}

	r.flowsMu.Lock()
	for id, f := range r.flows {
		out.Flows = append(out.Flows, FlowStats{
			FlowID:    id,
			Received:  f.stats.received,
			Recovered: f.stats.recovered,
			Lost:      f.stats.lost,
			Reordered: f.stats.reordered,
			Resets:    f.resets,
		})
	}
	r.flowsMu.Unlock()

	return out
}

func (r *Receiver) shutdown() {
	for _, p := range r.peers {
		if p.State() != PeerDead {
			p.markDead("context_closed")
			if cb := r.cfg.Callbacks.AuthDisconnect; cb != nil {
				cb(p.Peer)
			}
		}
	}
}
