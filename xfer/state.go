// Package xfer implements the transfer engine (TE): the TX and RX
// logical-entry state machines, credit and window computation, and
// multi-recv splitting, per spec.md §4.4. The queued-retry lists are
// bufpool.IndexQueue fields of endpoint.Endpoint.
package xfer

import "fmt"

// TXState is a logical TX entry's position in spec.md §4.4's TX state
// machine.
type TXState int32

const (
	TXStateRTS TXState = iota
	TXStateQueuedCtrl
	TXStateQueuedRTSRNR
	TXStateQueuedDataRNR
	TXStateQueuedSHMRMA
	TXStateSHMRMA
	TXStateSend
	TXStateWaitReadFinish
)

var txStateName = map[TXState]string{
	TXStateRTS:            "RTS",
	TXStateQueuedCtrl:     "QUEUED_CTRL",
	TXStateQueuedRTSRNR:   "QUEUED_RTS_RNR",
	TXStateQueuedDataRNR:  "QUEUED_DATA_RNR",
	TXStateQueuedSHMRMA:   "QUEUED_SHM_RMA",
	TXStateSHMRMA:         "SHM_RMA",
	TXStateSend:           "SEND",
	TXStateWaitReadFinish: "WAIT_READ_FINISH",
}

func (s TXState) String() string {
	if n, ok := txStateName[s]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_TX_STATE_%d", s)
}

// RXState is a logical RX entry's position in spec.md §4.4's RX state
// machine.
type RXState int32

const (
	RXStateInit RXState = iota
	RXStateUnexp
	RXStateMatched
	RXStateRecv
	RXStateQueuedCtrl
	RXStateQueuedSHMLargeRead
)

var rxStateName = map[RXState]string{
	RXStateInit:               "INIT",
	RXStateUnexp:               "UNEXP",
	RXStateMatched:             "MATCHED",
	RXStateRecv:                "RECV",
	RXStateQueuedCtrl:          "QUEUED_CTRL",
	RXStateQueuedSHMLargeRead:  "QUEUED_SHM_LARGE_READ",
}

func (s RXState) String() string {
	if n, ok := rxStateName[s]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_RX_STATE_%d", s)
}

// OpKind identifies what kind of operation a TX entry represents.
type OpKind int32

const (
	OpMsg OpKind = iota
	OpTagged
	OpWrite
	OpReadReq
)

func (k OpKind) String() string {
	switch k {
	case OpMsg:
		return "MSG"
	case OpTagged:
		return "TAGGED"
	case OpWrite:
		return "WRITE"
	case OpReadReq:
		return "READ_REQ"
	default:
		return fmt.Sprintf("UNKNOWN_OP_%d", k)
	}
}

// AppFlag is the set of application- and internal-level flags carried
// on TX/RX entries (distinct from wire.Flags, which is the on-wire
// encoding of a subset of these).
type AppFlag uint32

const (
	FlagTagged           AppFlag = 1 << 0
	FlagRemoteCQData     AppFlag = 1 << 1
	FlagInject           AppFlag = 1 << 2
	FlagCancel           AppFlag = 1 << 3
	FlagMultiRecvPosted  AppFlag = 1 << 4
	FlagMultiRecvConsumer AppFlag = 1 << 5
	FlagMultiRecvRelease AppFlag = 1 << 6
	FlagRecvCancel       AppFlag = 1 << 7
)

// CompletionDesc is the data a completed (or errored) TX/RX entry
// hands back to the application, per spec.md §3 and §7.
type CompletionDesc struct {
	Context   uint64
	Flags     uint32
	Data      uint64
	Tag       uint64
	Buf       []byte
	Len       int
	Err       error
	ProvErrno int32
}

// IOSeg is one application IO segment, with its NIC registration
// handle populated lazily (spec.md §4.4 "Inline memory registration").
type IOSeg struct {
	Base []byte
	Desc uint64 // a bufpool.MRHandle stored as a plain uint64;
	// callers cast via bufpool.MRHandle(seg.Desc).
}

// IOCursor tracks a position within a []IOSeg: which segment, and the
// byte offset into it.
type IOCursor struct {
	SegIndex int
	SegOff   int
}

// Advance moves the cursor forward n bytes across segs, returning the
// number of bytes it could actually advance (less than n only if the
// cursor reached the end of segs).
func (c *IOCursor) Advance(segs []IOSeg, n int) int {
	advanced := 0
	for n > 0 && c.SegIndex < len(segs) {
		remaining := len(segs[c.SegIndex].Base) - c.SegOff
		step := n
		if step > remaining {
			step = remaining
		}
		c.SegOff += step
		advanced += step
		n -= step
		if c.SegOff == len(segs[c.SegIndex].Base) {
			c.SegIndex++
			c.SegOff = 0
		}
	}
	return advanced
}

// Done reports whether the cursor has consumed every byte of segs.
func (c *IOCursor) Done(segs []IOSeg) bool {
	return c.SegIndex >= len(segs)
}
