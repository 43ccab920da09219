package xfer

import (
	"errors"

	"github.com/m-lab/rdmtp/bufpool"
)

// ErrInvalidTransition is returned by a state-machine method called
// from a state that does not permit it, signalling a core bug rather
// than an external condition.
var ErrInvalidTransition = errors.New("xfer: invalid state transition")

// TXEntry represents one application-initiated send/write/read-request,
// per spec.md §3 "Logical TX Entry". Its id equals its index in the TX
// entry pool (spec.md §9 "Pool-indexed ids").
type TXEntry struct {
	ID   uint32
	Op   OpKind
	Dest bufpool.PeerHandle

	Segs   []IOSeg
	Cursor IOCursor

	TotalLen      uint64
	BytesSent     uint64
	BytesAcked    uint64
	Window        uint64
	CreditRequest uint16

	Tag      uint64
	MsgID    uint32
	Comp     CompletionDesc
	Flags    AppFlag
	State    TXState

	// QueuedPkts holds packet-entry indices deferred on this entry
	// while it sits in TXStateQueuedDataRNR (spec.md §4.4 "the data
	// packet entry sits on the entry's own queued_pkts list").
	QueuedPkts bufpool.IndexQueue
}

// Reset clears a TXEntry for reuse after release-and-reacquire from its
// pool. Pool-indexed ids are safe to reuse across lifetimes per
// spec.md §9, provided the previous transfer fully terminated first.
func (e *TXEntry) Reset(id uint32) {
	*e = TXEntry{ID: id}
}

// Create transitions a freshly allocated entry into TXStateRTS, the
// only valid starting state (spec.md §4.4 "create -> RTS").
func (e *TXEntry) Create() {
	e.State = TXStateRTS
}

// RTSPosted transitions out of TXStateRTS after the RTS itself has
// been accepted by the lower transport. moreData indicates bytes
// remain to stream as DATA (rendezvous); eagerDone indicates the
// transfer is already fully delivered (pure eager send).
func (e *TXEntry) RTSPosted(moreData, eagerDone bool) (released bool, err error) {
	if e.State != TXStateRTS {
		return false, ErrInvalidTransition
	}
	switch {
	case e.Op == OpReadReq:
		e.State = TXStateWaitReadFinish
	case moreData:
		e.State = TXStateSend
	case eagerDone:
		return true, nil
	default:
		e.State = TXStateSend
	}
	return false, nil
}

// CtrlEagain records that posting a control packet hit StatusAgain,
// queuing the entry per spec.md §4.4 "any state on lower-transport
// EAGAIN for a control packet -> QUEUED_CTRL".
func (e *TXEntry) CtrlEagain() {
	e.State = TXStateQueuedCtrl
}

// DataRNR records that a DATA send for this entry hit StatusRNR,
// per spec.md §4.4 "SEND on RNR ... -> QUEUED_DATA_RNR".
func (e *TXEntry) DataRNR(pktIdx uint32) error {
	if e.State != TXStateSend {
		return ErrInvalidTransition
	}
	e.State = TXStateQueuedDataRNR
	e.QueuedPkts.PushBack(pktIdx)
	return nil
}

// FlushedFromDataRNR transitions back to SEND once the queued DATA
// packets have been successfully reposted, per spec.md §4.4
// "QUEUED_DATA_RNR on successful flush -> SEND".
func (e *TXEntry) FlushedFromDataRNR() error {
	if e.State != TXStateQueuedDataRNR {
		return ErrInvalidTransition
	}
	e.State = TXStateSend
	return nil
}

// FlushedFromCtrlQueue resumes from TXStateQueuedCtrl (or its RNR
// variants) after the retried control packet succeeds, landing back in
// the state the entry would be in had the control send succeeded the
// first time.
func (e *TXEntry) FlushedFromCtrlQueue(next TXState) error {
	switch e.State {
	case TXStateQueuedCtrl, TXStateQueuedRTSRNR:
		e.State = next
		return nil
	default:
		return ErrInvalidTransition
	}
}

// ReadFinished transitions WAIT_READ_FINISH to completed-and-released
// on EOR arrival, per spec.md §4.4 "WAIT_READ_FINISH on EOR received ->
// completed-and-released".
func (e *TXEntry) ReadFinished() error {
	if e.State != TXStateWaitReadFinish {
		return ErrInvalidTransition
	}
	return nil
}

// RecordSent advances BytesSent, preserving spec.md §8 invariant 1
// (bytes_acked <= bytes_sent <= total_len).
func (e *TXEntry) RecordSent(n uint64) {
	e.BytesSent += n
	if e.BytesSent > e.TotalLen {
		e.BytesSent = e.TotalLen
	}
}

// RecordAcked advances BytesAcked on a CTS/credit replenishment.
func (e *TXEntry) RecordAcked(n uint64) {
	e.BytesAcked += n
	if e.BytesAcked > e.BytesSent {
		e.BytesAcked = e.BytesSent
	}
}

// IsComplete reports whether every byte of the transfer has been sent
// and acknowledged.
func (e *TXEntry) IsComplete() bool {
	return e.BytesSent >= e.TotalLen && e.BytesAcked >= e.BytesSent
}
