package rist

import "errors"

// Error kinds surfaced synchronously from API calls (spec.md §7). Per-packet
// and per-peer failures are never returned to callers; they are counted and
// logged, or they drive a peer state transition and the disconnect callback.
var (
	ErrInvalidConfig   = errors.New("rist: invalid config")
	ErrWouldBlock      = errors.New("rist: would block")
	ErrTimedOut        = errors.New("rist: timed out")
	ErrMalformedPacket = errors.New("rist: malformed packet")
	ErrDecryptFailed   = errors.New("rist: decrypt failed")
	ErrPeerDead        = errors.New("rist: peer dead")
	ErrRingFull        = errors.New("rist: ring full")
	ErrUnauthorized    = errors.New("rist: unauthorized")
	ErrNotStarted      = errors.New("rist: not started")
	ErrAlreadyStarted  = errors.New("rist: already started")
	ErrFatal           = errors.New("rist: fatal")

	// errLateDrop is an internal bookkeeping signal, never returned to the
	// application (spec.md §7: "LateDrop" is counted, not surfaced).
	errLateDrop = errors.New("rist: late drop")
)
