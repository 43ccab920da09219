package endpoint

import (
	"errors"

	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/peer"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/xfer"
)

// ErrPoolExhausted is returned by the Alloc* calls when their backing
// pool has no free slot; spec.md §7 Retryable.
var ErrPoolExhausted = errors.New("endpoint: pool exhausted")

// ErrContextNotFound is returned by Cancel when no posted entry carries
// the given application context.
var ErrContextNotFound = errors.New("endpoint: context not found")

// Endpoint is the single-threaded transport core of spec.md §3: the
// buffer pools, peer directory, and the lists the progress loop walks
// on every tick, all owned behind one caller-held lock (spec.md §5 "a
// single endpoint lock serializes every operation"). It plays the role
// github.com/m-lab/tcp-info/saver.Saver plays for collector.Run: a pure
// state container the loop in package progress drives from outside.
type Endpoint struct {
	Cfg Config
	AV  transport.AddressVector

	// LocalAddr is this endpoint's own core-level address, piggybacked
	// on the first RTS sent to a peer still in peer.Init.
	LocalAddr []byte

	TXPkt          *bufpool.Pool[bufpool.PacketEntry]
	RXPktFabric    *bufpool.Pool[bufpool.PacketEntry]
	RXPktSHM       *bufpool.Pool[bufpool.PacketEntry] // nil unless Cfg.EnableSHMTransfer
	UnexpectedCopy *bufpool.Pool[bufpool.PacketEntry] // nil unless Cfg.RxCopyUnexp
	OOOCopy        *bufpool.Pool[bufpool.PacketEntry] // nil unless Cfg.RxCopyOOO

	TXEntries *bufpool.Pool[xfer.TXEntry]
	RXEntries *bufpool.Pool[xfer.RXEntry]
	ReadRspTX *bufpool.Pool[xfer.TXEntry]

	Peers *peer.Directory

	// TXPending holds TX entry ids in TXStateSend with bytes left to
	// stream (spec.md §4.5 step 9's tx_pending_list).
	TXPending bufpool.IndexQueue
	// TXQueued holds TX entry ids sitting in a QUEUED_* state awaiting a
	// retry (spec.md §4.5 step 8's tx_entry_queued_list).
	TXQueued bufpool.IndexQueue
	// RXQueued holds RX entry ids in RXStateQueuedCtrl (spec.md §4.5
	// step 7's rx_entry_queued_list).
	RXQueued bufpool.IndexQueue

	// Unexpected/UnexpectedTagged hold RX entry ids in RXStateUnexp,
	// split by whether a tag match is required. AllocRXEntry does not
	// search them: a newly posted recv only goes onto an expected list,
	// so it is not matched against an RTS already held here.
	Unexpected       []uint32
	UnexpectedTagged []uint32

	// ExpectedUntagged/ExpectedTagged hold RX entry ids posted by the
	// application and not yet matched, walked by Cancel (spec.md §5
	// "cancel ... walks both expected lists").
	ExpectedUntagged []uint32
	ExpectedTagged   []uint32

	PostedRecvBufsFabric int
	PostedRecvBufsSHM    int

	// AvailableDataBufs is the shared receive-buffer budget spec.md §4.4
	// debits on CTS issue. Reclaimed buffers are not credited back; the
	// only refill is progress.Tick's step 1 reset to the fabric RX pool
	// capacity after the zero-budget timeout.
	AvailableDataBufs int64
	// AvailableDataBufsZeroAt is the monotonic timestamp (nanoseconds)
	// at which AvailableDataBufs last reached zero, or 0 if it is not
	// currently exhausted (spec.md §4.5 step 1).
	AvailableDataBufsZeroAt int64
}

// New constructs an Endpoint with every pool sized from cfg. mrReg, if
// non-nil, registers each packet-pool slab with the lower transport's
// memory-registration call (spec.md §4.1 "registers each slab region at
// allocation time").
func New(cfg Config, av transport.AddressVector, mrReg func([]byte) bufpool.MRHandle) *Endpoint {
	ep := &Endpoint{
		Cfg:               cfg,
		AV:                av,
		TXPkt:             bufpool.NewPacketPool(cfg.TxPktPoolSize, cfg.MTU, mrReg),
		RXPktFabric:       bufpool.NewPacketPool(cfg.RxPktPoolSizeFabric, cfg.MTU, mrReg),
		TXEntries:         bufpool.New[xfer.TXEntry](cfg.TxEntryPoolSize),
		RXEntries:         bufpool.New[xfer.RXEntry](cfg.RxEntryPoolSize),
		ReadRspTX:         bufpool.New[xfer.TXEntry](cfg.ReadRspTXPoolSize),
		Peers:             peer.NewDirectory(cfg.RecvWinSize),
		AvailableDataBufs: cfg.AvailableDataBufsInit,
	}
	if cfg.EnableSHMTransfer {
		ep.RXPktSHM = bufpool.NewPacketPool(cfg.RxPktPoolSizeSHM, cfg.MTU, mrReg)
	}
	if cfg.RxCopyUnexp && cfg.UnexpectedCopyPoolSize > 0 {
		ep.UnexpectedCopy = bufpool.NewPacketPool(cfg.UnexpectedCopyPoolSize, cfg.MTU, mrReg)
	}
	if cfg.RxCopyOOO && cfg.OOOCopyPoolSize > 0 {
		ep.OOOCopy = bufpool.NewPacketPool(cfg.OOOCopyPoolSize, cfg.MTU, mrReg)
	}
	return ep
}

// AllocTXEntry implements spec.md §6 alloc_tx_entry: acquire a free TX
// logical entry, initialize it for op/dest/segs, and transition it to
// TXStateRTS.
func (ep *Endpoint) AllocTXEntry(op xfer.OpKind, dest bufpool.PeerHandle, segs []xfer.IOSeg, totalLen uint64, tag uint64, flags xfer.AppFlag, context uint64) (*xfer.TXEntry, error) {
	idx, e, ok := ep.TXEntries.Acquire()
	if !ok {
		return nil, ErrPoolExhausted
	}
	e.Reset(idx)
	e.Op = op
	e.Dest = dest
	e.Segs = segs
	e.TotalLen = totalLen
	e.Tag = tag
	e.Flags = flags
	e.Comp.Context = context
	e.Create()
	return e, nil
}

// AllocRXEntry implements spec.md §6 alloc_rx_entry: acquire a free RX
// logical entry, initialize it for op/tag/ignore/segs, post it into
// RXStateInit, and register it on the tagged or untagged expected list
// (by FlagTagged) that RTS matching and Cancel walk.
func (ep *Endpoint) AllocRXEntry(op xfer.OpKind, segs []xfer.IOSeg, totalLen, tag, ignore uint64, flags xfer.AppFlag, peerHandle bufpool.PeerHandle, hasPeer bool, context uint64) (*xfer.RXEntry, error) {
	idx, e, ok := ep.RXEntries.Acquire()
	if !ok {
		return nil, ErrPoolExhausted
	}
	e.Reset(idx)
	e.Segs = segs
	e.TotalLen = totalLen
	e.Peer = peerHandle
	e.HasPeer = hasPeer
	e.Flags = flags
	e.Comp.Context = context
	e.Post(op, tag, ignore)

	if flags&xfer.FlagTagged != 0 {
		ep.ExpectedTagged = append(ep.ExpectedTagged, idx)
	} else {
		ep.ExpectedUntagged = append(ep.ExpectedUntagged, idx)
	}
	return e, nil
}

// GetOptMinMultiRecv returns the current min_multi_recv_size knob,
// spec.md §6 getopt(FI_OPT_MIN_MULTI_RECV).
func (ep *Endpoint) GetOptMinMultiRecv() uint64 { return ep.Cfg.MinMultiRecvSize }

// SetOptMinMultiRecv sets the min_multi_recv_size knob, spec.md §6
// setopt(FI_OPT_MIN_MULTI_RECV).
func (ep *Endpoint) SetOptMinMultiRecv(n uint64) { ep.Cfg.MinMultiRecvSize = n }

// Cancel implements spec.md §5 cancel(context): walk both expected
// lists for an RX entry matching context, mark it cancelled, and remove
// it from whichever expected list held it. It never touches the
// unexpected lists, since those entries are owned by an RTS the peer
// already sent (spec.md §4.4 "Cancellation applies only to
// application-posted, not-yet-matched receives").
func (ep *Endpoint) Cancel(context uint64) (*xfer.CompletionDesc, error) {
	if comp, ok := ep.cancelFrom(&ep.ExpectedUntagged, context); ok {
		return comp, nil
	}
	if comp, ok := ep.cancelFrom(&ep.ExpectedTagged, context); ok {
		return comp, nil
	}
	return nil, ErrContextNotFound
}

func (ep *Endpoint) cancelFrom(list *[]uint32, context uint64) (*xfer.CompletionDesc, bool) {
	for i, idx := range *list {
		e := ep.RXEntries.Get(idx)
		if e.Comp.Context != context || e.IsCancelled() {
			continue
		}
		e.Cancel()
		*list = append((*list)[:i], (*list)[i+1:]...)
		return &e.Comp, true
	}
	return nil, false
}
