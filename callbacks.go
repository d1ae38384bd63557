package rist

// Callbacks is the capability record handed to a context (spec.md §6, §9
// "dynamic callback dispatch is modeled as a capability record held by the
// context"). A nil field is valid and means "use the default": implicit
// accept for AuthConnect; on a Receiver, the bounded queues drained by Read
// (Data) and PollOOB (OOB); nothing for the rest, so a Sender drops
// inbound OOB blocks when OOB is nil.
type Callbacks struct {
	// AuthConnect decides whether to accept a configured peer. It MUST NOT
	// call back into the context (spec.md §6). A nil AuthConnect means
	// implicit accept. Only a Sender consults it, once per peer in Start; a
	// Receiver accepts every configured peer on its first keep-alive or
	// data packet without calling it.
	AuthConnect func(remoteIP string, remotePort int, localIP string, localPort int, peer *Peer) bool

	// AuthDisconnect is invoked exactly once per peer when it dies.
	AuthDisconnect func(peer *Peer)

	// Data delivers one released data block to the application. Ownership
	// of the block returns to the library when the callback returns, so
	// the application must copy anything it keeps past the call.
	Data func(block []byte, flowID uint32, sequence uint32)

	// OOB delivers one out-of-band block synchronously from the receive
	// loop. When nil, a Receiver queues blocks in a bounded per-peer FIFO
	// instead (spec.md §4.6); a Sender drops them.
	OOB func(peer *Peer, block []byte)

	// Stats fires on the configured interval with a snapshot.
	Stats func(stats Stats)
}
