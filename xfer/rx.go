package xfer

import "github.com/m-lab/rdmtp/bufpool"

// RXEntry represents an application-posted recv or an unexpected
// match, per spec.md §3 "Logical RX Entry". Its id equals its index in
// the RX entry pool.
type RXEntry struct {
	ID   uint32
	Peer bufpool.PeerHandle
	HasPeer bool // false for an undirected (any-source) posted recv

	Segs   []IOSeg
	Cursor IOCursor

	TotalLen  uint64
	BytesDone uint64
	Window    uint64
	CreditCTS uint16

	// PeerTxID is the sender's TX entry id, echoed from the matched
	// RTS's TxID field so a CTS can be correlated back to the sender's
	// logical TX entry (spec.md §4.3 "the CTS carries the original
	// transfer identifier").
	PeerTxID uint32

	Flags AppFlag
	Tag   uint64
	Ignore uint64

	Comp  CompletionDesc
	State RXState

	// UnexpectedRTS holds the packet-entry index of the RTS that
	// created this entry on the unexpected list, retained per spec.md
	// §4.4 "the RTS packet entry is retained", until a matching
	// post_recv consumes it. Index 0 is a valid packet index, so
	// HasUnexpectedRTS, not a zero value, tells whether one is held.
	UnexpectedRTS   uint32
	hasUnexpected   bool

	// Master is the multi-recv master this entry consumes from, if it
	// is tagged FlagMultiRecvConsumer (spec.md §4.4 Multi-recv).
	Master *RXEntry

	// Consumers lists the pool indices of RX entries this master has
	// split off, if this entry is itself a multi-recv master.
	Consumers []uint32

	QueuedPkts bufpool.IndexQueue
}

// Reset clears an RXEntry for reuse.
func (e *RXEntry) Reset(id uint32) {
	*e = RXEntry{ID: id}
}

// Post transitions a freshly allocated, application-posted entry into
// RXStateInit, per spec.md §4.4 "App-post creates an entry in INIT".
// ignore is applied verbatim only for tagged ops; for non-tagged ops it
// is left unused, resolving spec.md §9's open question about the
// ignore-mask write.
func (e *RXEntry) Post(op OpKind, tag, ignore uint64) {
	e.State = RXStateInit
	if op == OpTagged {
		e.Flags |= FlagTagged
		e.Tag = tag
		e.Ignore = ignore
	}
}

// MatchTag reports whether an incoming tag matches this entry's
// tag/ignore mask. Untagged entries match any incoming tag.
func (e *RXEntry) MatchTag(incoming uint64) bool {
	if e.Flags&FlagTagged == 0 {
		return true
	}
	return (e.Tag &^ e.Ignore) == (incoming &^ e.Ignore)
}

// MarkUnexpected transitions an entry created by an unmatched RTS
// arrival into RXStateUnexp, retaining the RTS packet entry index, per
// spec.md §4.4 "RTS arrival without a matching entry creates an entry
// in UNEXP".
func (e *RXEntry) MarkUnexpected(rtsPktIdx uint32) {
	e.State = RXStateUnexp
	e.UnexpectedRTS = rtsPktIdx
	e.hasUnexpected = true
}

// HasUnexpectedRTS reports whether UnexpectedRTS holds a valid index.
func (e *RXEntry) HasUnexpectedRTS() bool { return e.hasUnexpected }

// MatchEager transitions directly to RXStateMatched and records
// totalLen, per spec.md §4.4 "eager -> directly MATCHED then
// completed"; the entry reports IsComplete once the caller has written
// the inline payload with WriteData.
func (e *RXEntry) MatchEager(totalLen uint64) error {
	if e.State != RXStateInit && e.State != RXStateUnexp {
		return ErrInvalidTransition
	}
	e.State = RXStateMatched
	e.TotalLen = totalLen
	return nil
}

// MatchRendezvous transitions to RXStateMatched in preparation for
// sending a CTS, per spec.md §4.4 "rendezvous -> MATCHED -> send CTS ->
// RECV".
func (e *RXEntry) MatchRendezvous(totalLen uint64) error {
	if e.State != RXStateInit && e.State != RXStateUnexp {
		return ErrInvalidTransition
	}
	e.State = RXStateMatched
	e.TotalLen = totalLen
	return nil
}

// CTSPosted transitions RXStateMatched to RXStateRecv once the CTS has
// been accepted by the lower transport.
func (e *RXEntry) CTSPosted() error {
	if e.State != RXStateMatched {
		return ErrInvalidTransition
	}
	e.State = RXStateRecv
	return nil
}

// CTSEagain queues the entry for a CTS retry, per spec.md §4.4 "Lower
// transport EAGAIN on CTS -> QUEUED_CTRL".
func (e *RXEntry) CTSEagain() {
	e.State = RXStateQueuedCtrl
}

// FlushedFromCtrlQueue resumes from RXStateQueuedCtrl once the retried
// CTS succeeds.
func (e *RXEntry) FlushedFromCtrlQueue() error {
	if e.State != RXStateQueuedCtrl {
		return ErrInvalidTransition
	}
	e.State = RXStateRecv
	return nil
}

// WriteData copies n bytes into the entry's iov at BytesDone,
// advancing the cursor, preserving spec.md §8 invariant 2 (bytes
// written into iov equal BytesDone).
func (e *RXEntry) WriteData(payload []byte, segOffset uint64) {
	if segOffset != e.BytesDone {
		// Out-of-order arrival for this (peer, rx_id): the caller is
		// responsible for holding it in the OOO pool instead of
		// calling WriteData until segOffset == BytesDone.
		return
	}
	writeIntoSegs(e.Segs, &e.Cursor, payload)
	e.BytesDone += uint64(len(payload))
}

// writeIntoSegs copies data into segs starting at cursor's position,
// advancing cursor by len(data) bytes.
func writeIntoSegs(segs []IOSeg, cursor *IOCursor, data []byte) {
	for len(data) > 0 && cursor.SegIndex < len(segs) {
		seg := segs[cursor.SegIndex].Base
		room := len(seg) - cursor.SegOff
		n := len(data)
		if n > room {
			n = room
		}
		copy(seg[cursor.SegOff:cursor.SegOff+n], data[:n])
		cursor.SegOff += n
		data = data[n:]
		if cursor.SegOff == len(seg) {
			cursor.SegIndex++
			cursor.SegOff = 0
		}
	}
}

// IsComplete reports whether the entry has received every byte of its
// matched transfer.
func (e *RXEntry) IsComplete() bool {
	return e.BytesDone >= e.TotalLen
}

// Cancel marks the entry cancelled, per spec.md §5 "cancel(context)"
// and §7 "Cancelled (ECANCELED)".
func (e *RXEntry) Cancel() {
	e.Flags |= FlagRecvCancel
	e.Comp.Err = ErrCancelled
}

// IsCancelled reports whether Cancel has been called on this entry.
func (e *RXEntry) IsCancelled() bool {
	return e.Flags&FlagRecvCancel != 0
}
