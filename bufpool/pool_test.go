package bufpool_test

import (
	"testing"

	"github.com/m-lab/rdmtp/bufpool"
)

type widget struct {
	n int
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := bufpool.New[widget](4)
	if p.Cap() != 4 || p.Available() != 4 || p.InUse() != 0 {
		t.Fatalf("unexpected initial state: cap=%d avail=%d inUse=%d", p.Cap(), p.Available(), p.InUse())
	}

	idx, w, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire should succeed")
	}
	w.n = 42
	if p.InUse() != 1 || p.Available() != 3 {
		t.Errorf("unexpected state after Acquire: inUse=%d avail=%d", p.InUse(), p.Available())
	}
	if p.IndexOf(w) != idx {
		t.Errorf("IndexOf(w) = %d, want %d", p.IndexOf(w), idx)
	}
	if p.Get(idx).n != 42 {
		t.Errorf("Get(idx).n = %d, want 42", p.Get(idx).n)
	}

	p.Release(idx)
	if p.InUse() != 0 || p.Available() != 4 {
		t.Errorf("unexpected state after Release: inUse=%d avail=%d", p.InUse(), p.Available())
	}
}

func TestAcquireExhaustion(t *testing.T) {
	p := bufpool.New[widget](2)
	_, _, ok1 := p.Acquire()
	_, _, ok2 := p.Acquire()
	_, _, ok3 := p.Acquire()
	if !ok1 || !ok2 {
		t.Fatal("first two acquires should succeed")
	}
	if ok3 {
		t.Error("third acquire should fail: pool is exhausted")
	}
}

func TestIndexQueueFIFO(t *testing.T) {
	var q bufpool.IndexQueue
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	if idx, ok := q.PopFront(); !ok || idx != 1 {
		t.Errorf("PopFront() = %d,%v want 1,true", idx, ok)
	}
	if !q.Remove(3) {
		t.Error("Remove(3) should find and remove 3")
	}
	if q.Contains(3) {
		t.Error("3 should no longer be contained")
	}
	if idx, ok := q.PopFront(); !ok || idx != 2 {
		t.Errorf("PopFront() = %d,%v want 2,true", idx, ok)
	}
	if _, ok := q.PopFront(); ok {
		t.Error("queue should be empty")
	}
}

func TestNewPacketPoolRegistersEachSlot(t *testing.T) {
	var registered int
	p := bufpool.NewPacketPool(3, 128, func(buf []byte) bufpool.MRHandle {
		registered++
		return bufpool.MRHandle(uintptr(len(buf)))
	})
	if registered != 3 {
		t.Errorf("registered = %d, want 3", registered)
	}
	idx, e, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire should succeed")
	}
	if len(e.Buf) != 128 {
		t.Errorf("Buf len = %d, want 128", len(e.Buf))
	}
	if e.MR != 128 {
		t.Errorf("MR = %d, want 128", e.MR)
	}
	p.Release(idx)
}
