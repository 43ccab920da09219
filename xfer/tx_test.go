package xfer_test

import (
	"testing"

	"github.com/m-lab/rdmtp/xfer"
)

func TestTXLifecycleEager(t *testing.T) {
	var e xfer.TXEntry
	e.Reset(1)
	e.Create()
	if e.State != xfer.TXStateRTS {
		t.Fatalf("State = %v, want RTS", e.State)
	}
	released, err := e.RTSPosted(false, true)
	if err != nil {
		t.Fatalf("RTSPosted: %v", err)
	}
	if !released {
		t.Error("a fully eager send with no remaining data should release on RTSPosted")
	}
}

func TestTXLifecycleRendezvous(t *testing.T) {
	var e xfer.TXEntry
	e.Reset(2)
	e.Create()
	released, err := e.RTSPosted(true, false)
	if err != nil || released {
		t.Fatalf("RTSPosted(moreData=true) = released=%v err=%v, want false,nil", released, err)
	}
	if e.State != xfer.TXStateSend {
		t.Fatalf("State = %v, want SEND", e.State)
	}
	if err := e.DataRNR(7); err != nil {
		t.Fatalf("DataRNR: %v", err)
	}
	if e.State != xfer.TXStateQueuedDataRNR {
		t.Fatalf("State = %v, want QUEUED_DATA_RNR", e.State)
	}
	if e.QueuedPkts.Len() != 1 {
		t.Fatalf("QueuedPkts.Len() = %d, want 1", e.QueuedPkts.Len())
	}
	if err := e.FlushedFromDataRNR(); err != nil {
		t.Fatalf("FlushedFromDataRNR: %v", err)
	}
	if e.State != xfer.TXStateSend {
		t.Fatalf("State = %v, want SEND", e.State)
	}
}

func TestTXReadRequestLifecycle(t *testing.T) {
	var e xfer.TXEntry
	e.Reset(3)
	e.Op = xfer.OpReadReq
	e.Create()
	if _, err := e.RTSPosted(false, false); err != nil {
		t.Fatalf("RTSPosted: %v", err)
	}
	if e.State != xfer.TXStateWaitReadFinish {
		t.Fatalf("State = %v, want WAIT_READ_FINISH", e.State)
	}
	if err := e.ReadFinished(); err != nil {
		t.Fatalf("ReadFinished: %v", err)
	}
}

func TestTXInvalidTransition(t *testing.T) {
	var e xfer.TXEntry
	e.Reset(4)
	e.State = xfer.TXStateSend
	if _, err := e.RTSPosted(false, false); err != xfer.ErrInvalidTransition {
		t.Errorf("RTSPosted from SEND = %v, want ErrInvalidTransition", err)
	}
}

func TestTXByteCounterInvariant(t *testing.T) {
	var e xfer.TXEntry
	e.Reset(5)
	e.TotalLen = 100
	e.RecordSent(40)
	e.RecordAcked(60) // acked cannot exceed sent
	if e.BytesAcked != 40 {
		t.Errorf("BytesAcked = %d, want capped at BytesSent=40", e.BytesAcked)
	}
	e.RecordSent(1000) // sent cannot exceed total
	if e.BytesSent != 100 {
		t.Errorf("BytesSent = %d, want capped at TotalLen=100", e.BytesSent)
	}
}
