package endpoint

import (
	"github.com/m-lab/rdmtp/metrics"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/wire"
	"github.com/m-lab/rdmtp/xfer"
)

// PostData implements spec.md §4.5 step 9: push one DATA packet's worth
// of bytes for a TXStateSend entry, bounded by its granted window and
// by MTU. It is a no-op (returning false, nil) once the entry has
// nothing left to send within its current window.
func (ep *Endpoint) PostData(lt transport.LowerTransport, e *xfer.TXEntry, now int64) (posted bool, err error) {
	if e.State != xfer.TXStateSend {
		return false, nil
	}
	remaining := e.TotalLen - e.BytesSent
	windowLeft := e.Window
	if remaining == 0 || windowLeft == 0 {
		return false, nil
	}

	segSize := ep.Cfg.MaxMemcpySize
	if segSize <= 0 || uint64(segSize) > remaining {
		segSize = int(remaining)
	}
	if uint64(segSize) > windowLeft {
		segSize = int(windowLeft)
	}
	hdrLen := wire.DataHdrSize + wire.BaseHeaderSize
	if segSize > ep.Cfg.MTU-hdrLen {
		segSize = ep.Cfg.MTU - hdrLen
	}
	if segSize <= 0 {
		return false, nil
	}

	idx, pkt, ok := ep.TXPkt.Acquire()
	if !ok {
		return false, ErrPoolExhausted
	}

	n := wire.EncodeDataHeader(pkt.Buf, wire.DataHdr{
		SegOffset: e.BytesSent,
		RxID:      e.MsgID,
		SegSize:   uint16(segSize),
	})
	n += readFromSegs(e.Segs, &e.Cursor, pkt.Buf[n:n+segSize])
	pkt.Size = n

	status, serr := lt.SendMsg([]transport.IOVec{{Base: pkt.Buf[:n]}}, e.Dest, uint64(e.ID), 0)
	if serr != nil {
		ep.TXPkt.Release(idx)
		e.Comp.Err = serr
		return false, serr
	}
	switch status {
	case transport.StatusOK:
		ep.TXPkt.Release(idx)
		e.RecordSent(uint64(segSize))
		e.Window -= uint64(segSize)
		if e.IsComplete() {
			ep.TXEntries.Release(e.ID)
		}
		return true, nil
	case transport.StatusAgain:
		// Keep the packet entry alive: DataRNR retains idx on the
		// entry's own queued_pkts list for ReflushQueuedData to repost
		// without re-encoding.
		if derr := e.DataRNR(idx); derr != nil {
			ep.TXPkt.Release(idx)
			return false, derr
		}
		ep.TXQueued.PushBack(e.ID)
		return false, xfer.ErrRetry
	case transport.StatusRNR:
		p := ep.Peers.Get(e.Dest, nil, false)
		p.EnterBackoff(now, ep.Cfg.RNRBackoffBaseNanos, ep.Cfg.RNRBackoffMaxNanos)
		metrics.RNREvents.WithLabelValues(localityLabel(p.Locality)).Inc()
		if derr := e.DataRNR(idx); derr != nil {
			ep.TXPkt.Release(idx)
			return false, derr
		}
		ep.TXQueued.PushBack(e.ID)
		return false, xfer.ErrRetry
	default:
		ep.TXPkt.Release(idx)
		return false, transport.ErrTerminal
	}
}

// ReflushQueuedData retries every DATA packet an entry accumulated in
// TXStateQueuedDataRNR, in order, stopping at the first retry that
// itself hits StatusAgain/StatusRNR (spec.md §4.5 step 8: "retries
// preserve packet order within an entry").
func (ep *Endpoint) ReflushQueuedData(lt transport.LowerTransport, e *xfer.TXEntry, now int64) error {
	p := ep.Peers.Get(e.Dest, nil, false)
	for e.QueuedPkts.Len() > 0 {
		if p.IsBackedOff() {
			return xfer.ErrRetry
		}
		pktIdx, _ := e.QueuedPkts.Front()
		pkt := ep.TXPkt.Get(pktIdx)
		status, err := lt.SendMsg([]transport.IOVec{{Base: pkt.Buf[:pkt.Size]}}, e.Dest, uint64(e.ID), 0)
		if err != nil {
			return err
		}
		switch status {
		case transport.StatusOK:
			e.QueuedPkts.PopFront()
			ep.TXPkt.Release(pktIdx)
		case transport.StatusRNR:
			p.EnterBackoff(now, ep.Cfg.RNRBackoffBaseNanos, ep.Cfg.RNRBackoffMaxNanos)
			metrics.RNREvents.WithLabelValues(localityLabel(p.Locality)).Inc()
			return xfer.ErrRetry
		default:
			return xfer.ErrRetry
		}
	}
	return e.FlushedFromDataRNR()
}
