package xfer_test

import (
	"testing"

	"github.com/m-lab/rdmtp/xfer"
)

func TestRXIgnoreMaskOnlyAppliesToTagged(t *testing.T) {
	var tagged, untagged xfer.RXEntry
	tagged.Post(xfer.OpTagged, 0x7, 0xF0)
	if tagged.Tag != 0x7 || tagged.Ignore != 0xF0 {
		t.Errorf("tagged entry should carry the caller's tag/ignore, got tag=%x ignore=%x", tagged.Tag, tagged.Ignore)
	}
	untagged.Post(xfer.OpMsg, 0x7, 0xF0)
	if untagged.Ignore != 0 {
		t.Errorf("untagged entry's Ignore should be left unused (zero), got %x", untagged.Ignore)
	}
	if !untagged.MatchTag(0xAAAA) {
		t.Error("untagged entry should match any incoming tag")
	}
}

func TestRXMatchTagRespectsIgnore(t *testing.T) {
	var e xfer.RXEntry
	e.Post(xfer.OpTagged, 0b1010, 0b0001)
	if !e.MatchTag(0b1011) {
		t.Error("incoming tag differing only in an ignored bit should match")
	}
	if e.MatchTag(0b1000) {
		t.Error("incoming tag differing in a non-ignored bit should not match")
	}
}

func TestRXEagerLifecycle(t *testing.T) {
	var e xfer.RXEntry
	e.Post(xfer.OpMsg, 0, 0)
	if err := e.MatchEager(128); err != nil {
		t.Fatalf("MatchEager: %v", err)
	}
	if e.State != xfer.RXStateMatched {
		t.Fatalf("State = %v, want MATCHED", e.State)
	}
}

func TestRXRendezvousLifecycle(t *testing.T) {
	var e xfer.RXEntry
	e.Post(xfer.OpMsg, 0, 0)
	if err := e.MatchRendezvous(1 << 20); err != nil {
		t.Fatalf("MatchRendezvous: %v", err)
	}
	if err := e.CTSPosted(); err != nil {
		t.Fatalf("CTSPosted: %v", err)
	}
	if e.State != xfer.RXStateRecv {
		t.Fatalf("State = %v, want RECV", e.State)
	}
}

func TestRXCTSEagainRequeue(t *testing.T) {
	var e xfer.RXEntry
	e.Post(xfer.OpMsg, 0, 0)
	e.MatchRendezvous(1 << 20)
	e.CTSEagain()
	if e.State != xfer.RXStateQueuedCtrl {
		t.Fatalf("State = %v, want QUEUED_CTRL", e.State)
	}
	if err := e.FlushedFromCtrlQueue(); err != nil {
		t.Fatalf("FlushedFromCtrlQueue: %v", err)
	}
	if e.State != xfer.RXStateRecv {
		t.Fatalf("State = %v, want RECV", e.State)
	}
}

func TestRXWriteDataInOrderOnly(t *testing.T) {
	buf := make([]byte, 16)
	var e xfer.RXEntry
	e.Segs = []xfer.IOSeg{{Base: buf}}
	e.TotalLen = 16

	// Out-of-order: offset 8 arrives before offset 0 has been written.
	e.WriteData([]byte{9, 9, 9, 9, 9, 9, 9, 9}, 8)
	if e.BytesDone != 0 {
		t.Fatalf("out-of-order WriteData should be a no-op, BytesDone = %d", e.BytesDone)
	}

	e.WriteData([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)
	if e.BytesDone != 8 {
		t.Fatalf("BytesDone = %d, want 8", e.BytesDone)
	}
	e.WriteData([]byte{9, 9, 9, 9, 9, 9, 9, 9}, 8)
	if e.BytesDone != 16 || !e.IsComplete() {
		t.Fatalf("BytesDone = %d complete=%v, want 16,true", e.BytesDone, e.IsComplete())
	}
	for i, want := range []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 9, 9, 9, 9, 9, 9, 9} {
		if buf[i] != want {
			t.Errorf("buf[%d] = %d, want %d", i, buf[i], want)
		}
	}
}

func TestRXCancel(t *testing.T) {
	var e xfer.RXEntry
	e.Post(xfer.OpMsg, 0, 0)
	e.Cancel()
	if !e.IsCancelled() {
		t.Error("entry should be cancelled")
	}
	if e.Comp.Err != xfer.ErrCancelled {
		t.Errorf("Comp.Err = %v, want ErrCancelled", e.Comp.Err)
	}
}
