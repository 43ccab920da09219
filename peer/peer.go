// Package peer implements the peer directory (PD): per-peer
// connection, credit, backoff, and reorder state, created lazily on
// first reference and mutated exclusively by the progress loop under
// the endpoint lock, per spec.md §4.2.
package peer

import (
	"fmt"

	"github.com/m-lab/rdmtp/bufpool"
)

// Handle is the directory's key type, re-exported from bufpool so
// callers never need to import bufpool just to look a peer up.
type Handle = bufpool.PeerHandle

// ConnState is a peer's connection lifecycle stage.
type ConnState int32

const (
	Init ConnState = iota
	ConnReqSent
	Acked
)

var connStateName = map[ConnState]string{
	Init:        "INIT",
	ConnReqSent: "CONN_REQ_SENT",
	Acked:       "ACKED",
}

func (s ConnState) String() string {
	if n, ok := connStateName[s]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_CONN_STATE_%d", s)
}

// RNRState is a bitmask of receiver-not-ready related flags.
type RNRState uint8

const (
	// InBackoff is set by EnterBackoff and cleared only by
	// ResetBackoffAttempts.
	InBackoff RNRState = 1 << 0
	// BackedOff is set by EnterBackoff and gates sends until the
	// progress loop's backoff-list walk (spec.md §4.5 step 6) clears it
	// once the deadline has passed.
	BackedOff RNRState = 1 << 1
)

// SHMHandle is an opaque shared-memory endpoint handle, valid only
// when Locality is true.
type SHMHandle uintptr

// Peer holds all per-peer state the transfer engine and progress loop
// consult. Every field is documented in spec.md §3; fields here in
// addition to spec.md are the supplemented counters/timestamps from
// SPEC_FULL.md's "Peer-keepalive" and "Per-peer debug snapshot" items.
type Peer struct {
	Handle Handle
	Addr   []byte // raw core-level address bytes, as returned by the AV

	ConnState ConnState
	Locality  bool
	SHM       SHMHandle

	TxCredits int64
	RxCredits int64
	TxPending int
	TxInit    bool

	RNR             RNRState
	BackoffDeadline int64 // monotonic nanoseconds; 0 means "not set"
	backoffAttempt  uint  // exponential-backoff exponent

	Reorder *ReorderWindow

	// LastActivity is a monotonic timestamp (nanoseconds) slot for the
	// peer's most recent packet (SPEC_FULL.md "Peer-keepalive"). Nothing
	// in this module sets or reads it, and no step compacts an idle
	// peer's reorder window.
	LastActivity int64

	// Debug counters (SPEC_FULL.md "Per-peer debug snapshot").
	RNRCount   uint64
	CTSCount   uint64
	BytesSent  uint64
	BytesRecv  uint64
}

// newPeer constructs a Peer in its initial state for handle/addr. Only
// the directory calls this, so it stays unexported.
func newPeer(handle Handle, addr []byte, locality bool, recvwinSize int) *Peer {
	return &Peer{
		Handle:    handle,
		Addr:      addr,
		ConnState: Init,
		Locality:  locality,
		Reorder:   NewReorderWindow(recvwinSize),
	}
}

// InitTxSide lazily initializes the TX credit side on first send to
// this peer, per spec.md §4.4 "set_tx_credit_request" step 1.
func (p *Peer) InitTxSide(txMaxCredits int64) {
	if p.TxInit {
		return
	}
	p.TxCredits = txMaxCredits
	p.TxInit = true
}

// EnterBackoff places the peer into RNR backoff for the given base
// interval scaled exponentially by the number of consecutive RNR
// events observed, per spec.md §7 "bounded, exponentially-increasing
// interval".
func (p *Peer) EnterBackoff(nowNanos int64, baseNanos int64, maxNanos int64) {
	shift := p.backoffAttempt
	if shift > 30 {
		shift = 30
	}
	delta := baseNanos << shift
	if delta <= 0 || delta > maxNanos {
		delta = maxNanos
	}
	p.BackoffDeadline = nowNanos + delta
	p.RNR |= InBackoff | BackedOff
	p.RNRCount++
	if p.backoffAttempt < 30 {
		p.backoffAttempt++
	}
}

// ClearBackoffIfExpired clears BackedOff once nowNanos has passed the
// deadline, returning whether it did so. InBackoff stays set; only
// ResetBackoffAttempts clears it. BackedOff gates new sends, InBackoff
// records that the peer has RNR'd since the last reset.
func (p *Peer) ClearBackoffIfExpired(nowNanos int64) bool {
	if p.RNR&BackedOff == 0 {
		return false
	}
	if nowNanos < p.BackoffDeadline {
		return false
	}
	p.RNR &^= BackedOff
	return true
}

// IsBackedOff reports whether sends to this peer must currently be
// rejected with a retryable error.
func (p *Peer) IsBackedOff() bool {
	return p.RNR&BackedOff != 0
}

// ResetBackoffAttempts clears InBackoff and restarts the exponential
// sequence, so the next RNR begins again at the base interval. No send
// path in this module calls it; without a call the exponent keeps
// growing across RNR events up to its cap.
func (p *Peer) ResetBackoffAttempts() {
	p.backoffAttempt = 0
	p.RNR &^= InBackoff
}
