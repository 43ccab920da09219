package progress_test

import (
	"testing"

	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/progress"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/wire"
	"github.com/m-lab/rdmtp/xfer"
)

// loopTransport is a minimal transport.LowerTransport test double: it
// records every posted recv buffer by opContext so a test can write
// directly into it to simulate an arriving datagram, and queues
// completions a test injects for the next ReadCQ.
type loopTransport struct {
	posted  map[uint64][]byte
	pending []transport.CQEntry
	sent    [][]byte
}

func newLoopTransport() *loopTransport {
	return &loopTransport{posted: make(map[uint64][]byte)}
}

func (lt *loopTransport) SendMsg(iov []transport.IOVec, peer bufpool.PeerHandle, opContext uint64, flags transport.SendFlags) (transport.Status, error) {
	buf := append([]byte(nil), iov[0].Base...)
	lt.sent = append(lt.sent, buf)
	return transport.StatusOK, nil
}

func (lt *loopTransport) RecvMsg(iov []transport.IOVec, opContext uint64, flags transport.RecvFlags) (transport.Status, error) {
	lt.posted[opContext] = iov[0].Base
	return transport.StatusOK, nil
}

func (lt *loopTransport) ReadCQ(maxEntries int) ([]transport.CQEntry, error) {
	out := lt.pending
	lt.pending = nil
	return out, nil
}

func (lt *loopTransport) MRReg(buf []byte) (bufpool.MRHandle, error) { return 0, nil }
func (lt *loopTransport) MRClose(h bufpool.MRHandle) error           { return nil }
func (lt *loopTransport) GetName() ([]byte, error)                  { return []byte("local"), nil }
func (lt *loopTransport) SetName(addr []byte) error                 { return nil }

// injectRecv writes payload into the buffer posted under opContext and
// queues a matching CQ completion, simulating the fabric delivering a
// datagram into a previously-posted receive buffer.
func (lt *loopTransport) injectRecv(opContext uint64, payload []byte, from bufpool.PeerHandle) {
	buf := lt.posted[opContext]
	copy(buf, payload)
	lt.pending = append(lt.pending, transport.CQEntry{
		OpContext: opContext,
		Len:       len(payload),
		Peer:      from,
	})
}

// rnrTransport is a transport.LowerTransport test double whose SendMsg
// always returns StatusRNR, used to drive peer backoff through the real
// post_rts path without needing a working wire round-trip.
type rnrTransport struct{ sent int }

func (lt *rnrTransport) SendMsg(iov []transport.IOVec, peer bufpool.PeerHandle, opContext uint64, flags transport.SendFlags) (transport.Status, error) {
	lt.sent++
	return transport.StatusRNR, nil
}
func (lt *rnrTransport) RecvMsg(iov []transport.IOVec, opContext uint64, flags transport.RecvFlags) (transport.Status, error) {
	return transport.StatusOK, nil
}
func (lt *rnrTransport) ReadCQ(maxEntries int) ([]transport.CQEntry, error) { return nil, nil }
func (lt *rnrTransport) MRReg(buf []byte) (bufpool.MRHandle, error)         { return 0, nil }
func (lt *rnrTransport) MRClose(h bufpool.MRHandle) error                  { return nil }
func (lt *rnrTransport) GetName() ([]byte, error)                          { return []byte("local"), nil }
func (lt *rnrTransport) SetName(addr []byte) error                         { return nil }

type fakeAV struct{ used int }

func (f *fakeAV) Insert(addr []byte) (bufpool.PeerHandle, error) { return 1, nil }
func (f *fakeAV) Lookup(h bufpool.PeerHandle) ([]byte, bool)     { return nil, false }
func (f *fakeAV) Used() int                                      { return f.used }

func newTestEndpoint() *endpoint.Endpoint {
	cfg := endpoint.Config{
		MTU:                   1024,
		TxPktPoolSize:         4,
		RxPktPoolSizeFabric:   4,
		TxEntryPoolSize:       4,
		RxEntryPoolSize:       4,
		ReadRspTXPoolSize:     2,
		RecvWinSize:           16,
		MinMultiRecvSize:      64,
		AvailableDataBufsInit: 4,
		Credit: xfer.CreditConfig{
			TxMaxCredits:       8,
			TxMinCredits:       1,
			MaxDataPayloadSize: 512,
			RxWindowSize:       1000,
		},
	}
	return endpoint.New(cfg, &fakeAV{used: 1}, nil)
}

// TestTickDeliversEagerTaggedMatch mirrors spec.md §8 scenario 1: a
// posted tagged recv matches an eager RTS arrival and completes inline,
// driven entirely through progress.Tick's CQ-poll/bulk-repost/dispatch
// steps rather than calling endpoint internals directly.
func TestTickDeliversEagerTaggedMatch(t *testing.T) {
	ep := newTestEndpoint()
	lt := newLoopTransport()

	buf := make([]byte, 8)
	if _, err := ep.AllocRXEntry(xfer.OpTagged, []xfer.IOSeg{{Base: buf}}, 8, 0x55, 0, xfer.FlagTagged, 0, false, 7); err != nil {
		t.Fatalf("AllocRXEntry: %v", err)
	}

	// First tick just bulk-reposts receive buffers.
	if err := progress.Tick(ep, lt, nil, progress.Config{}, 1); err != nil {
		t.Fatalf("Tick (repost): %v", err)
	}
	if len(lt.posted) == 0 {
		t.Fatal("expected at least one posted recv buffer after Tick")
	}

	var postedCtx uint64
	for ctx := range lt.posted {
		postedCtx = ctx
		break
	}

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	pktBuf := make([]byte, 256)
	n := wire.EncodeRTS(pktBuf, wire.RTS{Tag: 0x55, DataLen: 8, TxID: 9, MsgID: 1}, wire.FlagTagged, nil, nil)
	n += copy(pktBuf[n:], payload)
	lt.injectRecv(postedCtx, pktBuf[:n], 42)

	if err := progress.Tick(ep, lt, nil, progress.Config{}, 2); err != nil {
		t.Fatalf("Tick (dispatch): %v", err)
	}

	for i, want := range payload {
		if buf[i] != want {
			t.Errorf("buf[%d] = %d, want %d", i, buf[i], want)
		}
	}
}

// TestRNRBackoffBlocksRetryUntilDeadline mirrors spec.md §8 scenario 4:
// a peer that returns StatusRNR must stay blocked for the configured
// backoff interval, not just until the next tick, since EnterBackoff
// has to be seeded with the tick's real monotonic time rather than a
// fixed zero.
func TestRNRBackoffBlocksRetryUntilDeadline(t *testing.T) {
	ep := newTestEndpoint()
	ep.Cfg.RNRBackoffBaseNanos = 1000
	ep.Cfg.RNRBackoffMaxNanos = 1_000_000_000
	lt := &rnrTransport{}

	segs := []xfer.IOSeg{{Base: make([]byte, 8)}}
	e, err := ep.AllocTXEntry(xfer.OpMsg, 1, segs, 8, 0, 0, 1)
	if err != nil {
		t.Fatalf("AllocTXEntry: %v", err)
	}

	if err := ep.PostRTS(lt, e, 1_000_000); err != xfer.ErrRetry {
		t.Fatalf("PostRTS = %v, want ErrRetry", err)
	}
	if lt.sent != 1 {
		t.Fatalf("sent = %d, want 1", lt.sent)
	}
	p := ep.Peers.Get(1, nil, false)
	if !p.IsBackedOff() {
		t.Fatal("peer should be backed off after an RNR response")
	}

	// A tick before the deadline must not retry the send: PostRTS's own
	// backed-off check short-circuits before it ever reaches the
	// transport again.
	if err := progress.Tick(ep, lt, nil, progress.Config{}, 1_000_500); err != nil {
		t.Fatalf("Tick (still backed off): %v", err)
	}
	if lt.sent != 1 {
		t.Fatalf("sent = %d after early tick, want still 1 (peer must stay blocked)", lt.sent)
	}
	if !p.IsBackedOff() {
		t.Fatal("peer should still be backed off before the deadline elapses")
	}

	// Once now has advanced past the backoff deadline, the walk-backoff
	// step clears it and the queued-retry step fires the RTS again.
	if err := progress.Tick(ep, lt, nil, progress.Config{}, 1_002_000); err != nil {
		t.Fatalf("Tick (past deadline): %v", err)
	}
	if lt.sent != 2 {
		t.Fatalf("sent = %d after deadline tick, want 2 (retry should have fired)", lt.sent)
	}
}

// TestAvailableBufsTimeoutResetsPool mirrors spec.md §8's boundary
// behaviour: once available_data_bufs has sat at zero for longer than
// AvailableDataBufsTimeoutNanos, the progress loop resets it back to
// the full RX pool count as a liveness fallback for an unresponsive
// peer, rather than leaving the budget stuck at zero forever.
func TestAvailableBufsTimeoutResetsPool(t *testing.T) {
	ep := newTestEndpoint()
	ep.Cfg.AvailableDataBufsTimeoutNanos = 1000
	ep.AvailableDataBufs = 0
	lt := newLoopTransport()

	// The first tick that observes the budget at zero just starts the
	// clock; it must not reset anything yet.
	if err := progress.Tick(ep, lt, nil, progress.Config{}, 1); err != nil {
		t.Fatalf("Tick (zero observed): %v", err)
	}
	if ep.AvailableDataBufs != 0 {
		t.Fatalf("AvailableDataBufs = %d, want still 0 right after hitting zero", ep.AvailableDataBufs)
	}

	// Before the timeout elapses, the budget must stay at zero.
	if err := progress.Tick(ep, lt, nil, progress.Config{}, 500); err != nil {
		t.Fatalf("Tick (pre-timeout): %v", err)
	}
	if ep.AvailableDataBufs != 0 {
		t.Fatalf("AvailableDataBufs = %d, want still 0 before the timeout elapses", ep.AvailableDataBufs)
	}

	// Once the timeout has elapsed, the budget resets to the RX pool's
	// full capacity.
	if err := progress.Tick(ep, lt, nil, progress.Config{}, 1500); err != nil {
		t.Fatalf("Tick (post-timeout): %v", err)
	}
	if want := int64(ep.RXPktFabric.Cap()); ep.AvailableDataBufs != want {
		t.Fatalf("AvailableDataBufs = %d, want %d (reset to RX pool capacity)", ep.AvailableDataBufs, want)
	}
}
