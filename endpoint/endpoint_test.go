package endpoint_test

import (
	"testing"

	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/wire"
	"github.com/m-lab/rdmtp/xfer"
)

type fakeAV struct{ used int }

func (f *fakeAV) Insert(addr []byte) (bufpool.PeerHandle, error) { return 1, nil }
func (f *fakeAV) Lookup(h bufpool.PeerHandle) ([]byte, bool)     { return nil, false }
func (f *fakeAV) Used() int                                      { return f.used }

// fakeTransport is a transport.LowerTransport test double whose SendMsg
// always succeeds, enough to drive post_ctrl_or_queue paths without a
// working wire round-trip.
type fakeTransport struct{ sent int }

func (lt *fakeTransport) SendMsg(iov []transport.IOVec, peer bufpool.PeerHandle, opContext uint64, flags transport.SendFlags) (transport.Status, error) {
	lt.sent++
	return transport.StatusOK, nil
}
func (lt *fakeTransport) RecvMsg(iov []transport.IOVec, opContext uint64, flags transport.RecvFlags) (transport.Status, error) {
	return transport.StatusOK, nil
}
func (lt *fakeTransport) ReadCQ(maxEntries int) ([]transport.CQEntry, error) { return nil, nil }
func (lt *fakeTransport) MRReg(buf []byte) (bufpool.MRHandle, error)         { return 0, nil }
func (lt *fakeTransport) MRClose(h bufpool.MRHandle) error                  { return nil }
func (lt *fakeTransport) GetName() ([]byte, error)                          { return []byte("local"), nil }
func (lt *fakeTransport) SetName(addr []byte) error                         { return nil }

func testConfig() endpoint.Config {
	return endpoint.Config{
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
}

func newTestEndpoint() *endpoint.Endpoint {
	return endpoint.New(testConfig(), &fakeAV{used: 1}, nil)
}

func TestAllocTXEntryAndCancel(t *testing.T) {
	ep := newTestEndpoint()
	segs := []xfer.IOSeg{{Base: make([]byte, 8)}}

	_, err := ep.AllocTXEntry(xfer.OpMsg, 1, segs, 8, 0, 0, 42)
	if err != nil {
		t.Fatalf("AllocTXEntry: %v", err)
	}

	rxSegs := []xfer.IOSeg{{Base: make([]byte, 8)}}
	_, err = ep.AllocRXEntry(xfer.OpMsg, rxSegs, 8, 0, 0, 0, 0, false, 99)
	if err != nil {
		t.Fatalf("AllocRXEntry: %v", err)
	}

	comp, err := ep.Cancel(99)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if comp.Err != xfer.ErrCancelled {
		t.Errorf("Comp.Err = %v, want ErrCancelled", comp.Err)
	}

	if _, err := ep.Cancel(99); err != endpoint.ErrContextNotFound {
		t.Errorf("second Cancel = %v, want ErrContextNotFound (already removed from the expected list)", err)
	}
}

func TestAllocRXEntryPoolExhaustion(t *testing.T) {
	ep := newTestEndpoint()
	for i := 0; i < 4; i++ {
		if _, err := ep.AllocRXEntry(xfer.OpMsg, nil, 0, 0, 0, 0, 0, false, uint64(i)); err != nil {
			t.Fatalf("AllocRXEntry[%d]: %v", i, err)
		}
	}
	if _, err := ep.AllocRXEntry(xfer.OpMsg, nil, 0, 0, 0, 0, 0, false, 100); err != endpoint.ErrPoolExhausted {
		t.Errorf("AllocRXEntry on exhausted pool = %v, want ErrPoolExhausted", err)
	}
}

func TestSetOptGetOptMinMultiRecv(t *testing.T) {
	ep := newTestEndpoint()
	if ep.GetOptMinMultiRecv() != 64 {
		t.Fatalf("GetOptMinMultiRecv() = %d, want 64", ep.GetOptMinMultiRecv())
	}
	ep.SetOptMinMultiRecv(128)
	if ep.GetOptMinMultiRecv() != 128 {
		t.Fatalf("GetOptMinMultiRecv() = %d, want 128 after SetOpt", ep.GetOptMinMultiRecv())
	}
}

// TestPostCTSDecrementsAvailableDataBufs mirrors spec.md §8 invariant 4
// and scenario 3 (credit starvation): once a CTS is actually posted,
// the shared receive-buffer budget must drop by exactly the granted
// credit count, not stay pinned at its initial value.
func TestPostCTSDecrementsAvailableDataBufs(t *testing.T) {
	ep := newTestEndpoint()
	lt := &fakeTransport{}

	buf := make([]byte, 512)
	e, err := ep.AllocRXEntry(xfer.OpMsg, []xfer.IOSeg{{Base: buf}}, 512, 0, 0, 0, 1, true, 7)
	if err != nil {
		t.Fatalf("AllocRXEntry: %v", err)
	}
	if err := e.MatchRendezvous(512); err != nil {
		t.Fatalf("MatchRendezvous: %v", err)
	}

	before := ep.AvailableDataBufs
	if err := ep.PostCTS(lt, e, 1, 1); err != nil {
		t.Fatalf("PostCTS: %v", err)
	}
	granted := int64(e.CreditCTS)
	if granted <= 0 {
		t.Fatalf("e.CreditCTS = %d, want a positive grant", granted)
	}
	if ep.AvailableDataBufs != before-granted {
		t.Fatalf("AvailableDataBufs = %d, want %d (before=%d minus granted=%d)",
			ep.AvailableDataBufs, before-granted, before, granted)
	}

	// A second rendezvous match from the same peer drives the budget
	// down further, same as two concurrent sends converging on one
	// receiver's credit pool.
	e2, err := ep.AllocRXEntry(xfer.OpMsg, []xfer.IOSeg{{Base: buf}}, 512, 0, 0, 0, 1, true, 8)
	if err != nil {
		t.Fatalf("AllocRXEntry (2nd): %v", err)
	}
	if err := e2.MatchRendezvous(512); err != nil {
		t.Fatalf("MatchRendezvous (2nd): %v", err)
	}
	midpoint := ep.AvailableDataBufs
	if err := ep.PostCTS(lt, e2, 1, 2); err != nil {
		t.Fatalf("PostCTS (2nd): %v", err)
	}
	if ep.AvailableDataBufs != midpoint-int64(e2.CreditCTS) {
		t.Fatalf("AvailableDataBufs = %d, want %d after second grant",
			ep.AvailableDataBufs, midpoint-int64(e2.CreditCTS))
	}
}

// TestCancelRacesIncomingRTSMatch mirrors spec.md §8's cancellation
// race: Cancel removes the entry from the expected list, so an RTS
// that arrives afterward for the same tag must not complete into the
// already-cancelled entry — it has to fall through to the unexpected
// path and create a fresh one instead.
func TestCancelRacesIncomingRTSMatch(t *testing.T) {
	ep := newTestEndpoint()

	buf := make([]byte, 8)
	e, err := ep.AllocRXEntry(xfer.OpTagged, []xfer.IOSeg{{Base: buf}}, 8, 0x55, 0, xfer.FlagTagged, 1, true, 7)
	if err != nil {
		t.Fatalf("AllocRXEntry: %v", err)
	}

	comp, err := ep.Cancel(7)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if comp.Err != xfer.ErrCancelled {
		t.Fatalf("Comp.Err = %v, want ErrCancelled", comp.Err)
	}

	pktBuf := make([]byte, 64)
	n := wire.EncodeRTS(pktBuf, wire.RTS{Tag: 0x55, DataLen: 8, TxID: 1, MsgID: 2}, wire.FlagTagged, nil, nil)
	raw := wire.RawPacket(pktBuf[:n])

	matched, needsCTS, err := ep.HandleRTS(1, raw, 0)
	if err != nil {
		t.Fatalf("HandleRTS: %v", err)
	}
	if matched == e {
		t.Fatal("HandleRTS matched the already-cancelled entry instead of creating a new unexpected one")
	}
	if needsCTS {
		t.Fatal("a freshly unexpected entry should not need a CTS yet")
	}
	if !matched.HasUnexpectedRTS() {
		t.Fatal("the new entry should be marked unexpected, holding the arriving RTS's packet-entry index")
	}
}
