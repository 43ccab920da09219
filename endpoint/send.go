package endpoint

import (
	"github.com/m-lab/rdmtp/metrics"
	"github.com/m-lab/rdmtp/peer"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/wire"
	"github.com/m-lab/rdmtp/xfer"
)

// localityLabel turns peer.Peer's Locality flag into the prometheus
// label value used by metrics.RNREvents.
func localityLabel(local bool) string {
	if local {
		return "local"
	}
	return "remote"
}

// SetLocalAddr records this endpoint's own core-level address, obtained
// from the lower transport's GetName, so it can be piggybacked on the
// first RTS to a peer still in peer.Init (spec.md §4.2 "the initiator's
// address travels on the first packet rather than a separate handshake
// message").
func (ep *Endpoint) SetLocalAddr(addr []byte) { ep.LocalAddr = addr }

// PostRTS implements spec.md §4.4's "On send" path for the RTS itself:
// compute the credit request, decide eager vs rendezvous, encode, and
// attempt to post. On StatusAgain or StatusRNR it queues e for a later
// retry instead of returning the entry to the application as failed.
func (ep *Endpoint) PostRTS(lt transport.LowerTransport, e *xfer.TXEntry, now int64) error {
	p := ep.Peers.Get(e.Dest, nil, false)
	if p.IsBackedOff() {
		ep.TXQueued.PushBack(e.ID)
		e.CtrlEagain()
		return xfer.ErrRetry
	}

	request, err := xfer.SetTXCreditRequest(p, e.TotalLen, ep.Cfg.Credit)
	if err != nil {
		ep.TXQueued.PushBack(e.ID)
		e.CtrlEagain()
		return err
	}
	e.CreditRequest = uint16(request)

	idx, pkt, ok := ep.TXPkt.Acquire()
	if !ok {
		return ErrPoolExhausted
	}
	defer ep.TXPkt.Release(idx)

	needsAddr := p.ConnState == peer.Init
	hasCQData := e.Flags&xfer.FlagRemoteCQData != 0
	eager := wire.IsEager(e.TotalLen, ep.Cfg.MTU, needsAddr, len(ep.LocalAddr), hasCQData)

	r := wire.RTS{
		Tag:           e.Tag,
		DataLen:       e.TotalLen,
		TxID:          e.ID,
		MsgID:         e.MsgID,
		CreditRequest: uint16(request),
	}
	if needsAddr {
		r.AddrLen = uint16(len(ep.LocalAddr))
	}

	var flags wire.Flags
	if needsAddr {
		flags |= wire.FlagRemoteSrcAddr
	}
	if hasCQData {
		flags |= wire.FlagRemoteCQData
	}
	if e.Flags&xfer.FlagTagged != 0 {
		flags |= wire.FlagTagged
	}

	var cqData *uint64
	if hasCQData {
		cqData = &e.Comp.Data
	}
	n := wire.EncodeRTS(pkt.Buf, r, flags, ep.LocalAddr, cqData)

	moreData := !eager
	if eager {
		n += readFromSegs(e.Segs, &e.Cursor, pkt.Buf[n:n+int(e.TotalLen)])
	}
	pkt.Size = n

	status, serr := lt.SendMsg([]transport.IOVec{{Base: pkt.Buf[:n]}}, e.Dest, uint64(e.ID), 0)
	if serr != nil {
		e.Comp.Err = serr
		return serr
	}
	switch status {
	case transport.StatusOK:
		if needsAddr {
			p.ConnState = peer.ConnReqSent
		}
		if e.State != xfer.TXStateRTS {
			if ferr := e.FlushedFromCtrlQueue(xfer.TXStateRTS); ferr != nil {
				return ferr
			}
		}
		released, rerr := e.RTSPosted(moreData, eager)
		if rerr != nil {
			return rerr
		}
		if eager {
			e.RecordSent(e.TotalLen)
			e.RecordAcked(e.TotalLen)
		}
		if released {
			ep.TXEntries.Release(e.ID)
		} else if moreData {
			ep.TXPending.PushBack(e.ID)
		}
		return nil
	case transport.StatusAgain:
		e.CtrlEagain()
		ep.TXQueued.PushBack(e.ID)
		return xfer.ErrRetry
	case transport.StatusRNR:
		p.EnterBackoff(now, ep.Cfg.RNRBackoffBaseNanos, ep.Cfg.RNRBackoffMaxNanos)
		metrics.RNREvents.WithLabelValues(localityLabel(p.Locality)).Inc()
		e.CtrlEagain()
		ep.TXQueued.PushBack(e.ID)
		return xfer.ErrRetry
	default:
		return transport.ErrTerminal
	}
}

// PostCTS implements spec.md §4.4's CTS build path: compute the window
// via xfer.CalcCTSWindowCredits and attempt to post it.
func (ep *Endpoint) PostCTS(lt transport.LowerTransport, e *xfer.RXEntry, senderHandle uint64, now int64) error {
	p := ep.Peers.Get(peerHandleOf(senderHandle), nil, false)

	numPeers := int64(ep.AV.Used() - 1)
	if numPeers < 0 {
		numPeers = 0
	}
	wc := xfer.WindowConfig{
		CreditConfig:      ep.Cfg.Credit,
		AvailableDataBufs: ep.AvailableDataBufs,
		PostedBufsFabric:  int64(ep.PostedRecvBufsFabric),
	}
	remaining := e.TotalLen - e.BytesDone
	credits, window := xfer.CalcCTSWindowCredits(p, int64(e.CreditCTS), remaining, numPeers, wc)
	e.CreditCTS = uint16(credits)
	e.Window = window

	idx, pkt, ok := ep.TXPkt.Acquire()
	if !ok {
		return ErrPoolExhausted
	}
	defer ep.TXPkt.Release(idx)

	n := wire.EncodeCTS(pkt.Buf, wire.CTS{Window: window, TxID: e.PeerTxID, RxID: e.ID}, false)
	pkt.Size = n

	status, err := lt.SendMsg([]transport.IOVec{{Base: pkt.Buf[:n]}}, p.Handle, uint64(e.ID), 0)
	if err != nil {
		return err
	}
	switch status {
	case transport.StatusOK:
		p.CTSCount++
		ep.AvailableDataBufs -= credits
		if e.State == xfer.RXStateQueuedCtrl {
			return e.FlushedFromCtrlQueue()
		}
		return e.CTSPosted()
	case transport.StatusAgain, transport.StatusRNR:
		if status == transport.StatusRNR {
			p.EnterBackoff(now, ep.Cfg.RNRBackoffBaseNanos, ep.Cfg.RNRBackoffMaxNanos)
			metrics.RNREvents.WithLabelValues(localityLabel(p.Locality)).Inc()
		}
		e.CTSEagain()
		ep.RXQueued.PushBack(e.ID)
		return xfer.ErrRetry
	default:
		return transport.ErrTerminal
	}
}

// peerHandleOf is a tiny adapter so PostCTS's signature stays in terms
// of the raw handle a CQ entry carries.
func peerHandleOf(h uint64) (handle peer.Handle) { return peer.Handle(h) }

// readFromSegs copies data out of segs starting at cursor's position
// into dst, advancing cursor by len(dst) bytes. It is writeIntoSegs run
// in reverse, needed here because an eager RTS inlines the application
// payload directly into the packet buffer rather than writing the other
// way around.
func readFromSegs(segs []xfer.IOSeg, cursor *xfer.IOCursor, dst []byte) int {
	n := 0
	for len(dst) > 0 && cursor.SegIndex < len(segs) {
		seg := segs[cursor.SegIndex].Base
		avail := len(seg) - cursor.SegOff
		step := len(dst)
		if step > avail {
			step = avail
		}
		copy(dst[:step], seg[cursor.SegOff:cursor.SegOff+step])
		cursor.SegOff += step
		dst = dst[step:]
		n += step
		if cursor.SegOff == len(seg) {
			cursor.SegIndex++
			cursor.SegOff = 0
		}
	}
	return n
}
