package rist

import "time"

// PeerStats summarizes one peer's reception/transmission quality, shaped
// after datarhei-gosrt's congestion.SendStats/ReceiveStats (spec.md §8,
// used to check scenario S1-S6 counters).
type PeerStats struct {
	Address string

	// Cumulative.
	Sent       uint64
	Received   uint64
	Recovered  uint64
	Lost       uint64
	Reordered  uint64
	Retransmitted uint64
	Duplicate  uint64

	// Instantaneous.
	RTT          time.Duration
	RTTMin       time.Duration
	RTTMax       time.Duration
	RetransmitQueueLen int
	ReorderBufferLen   int
}

// FlowStats summarizes one flow's delivery quality, aggregated across its
// peers.
type FlowStats struct {
	FlowID    uint32
	Received  uint64
	Recovered uint64
	Lost      uint64
	Reordered uint64
	Resets    uint64
}

// Stats is the snapshot delivered to Callbacks.Stats on the configured
// interval (spec.md §6).
type Stats struct {
	Timestamp time.Time
	Peers     []PeerStats
	Flows     []FlowStats
}

// collector accumulates the counters a Peer or Flow exposes via Stats. It
// is intentionally a set of plain counters rather than a library
// dependency: spec.md §1 explicitly puts "the stats JSON encoder" out of
// scope, leaving only the in-memory counters this core owns.
type collector struct {
	sent, received, recovered, lost, reordered, retransmitted, duplicate uint64
}

func (c *collector) addSent(n uint64)          { c.sent += n }
func (c *collector) addReceived(n uint64)      { c.received += n }
func (c *collector) addRecovered(n uint64)     { c.recovered += n }
func (c *collector) addLost(n uint64)          { c.lost += n }
func (c *collector) addReordered(n uint64)     { c.reordered += n }
func (c *collector) addRetransmitted(n uint64) { c.retransmitted += n }
func (c *collector) addDuplicate(n uint64)     { c.duplicate += n }
