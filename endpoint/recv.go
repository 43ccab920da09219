package endpoint

import (
	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/metrics"
	"github.com/m-lab/rdmtp/peer"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/wire"
	"github.com/m-lab/rdmtp/xfer"
)

// recvCtxTag marks an opContext value as a posted-recv packet-pool
// index rather than a TX/RX logical-entry id, so CQ dispatch can tell
// send completions and receive completions apart without a side
// channel (spec.md §4.5 step 4 "route each completion by its opaque
// context").
const recvCtxTag uint64 = 1 << 63

func recvContext(idx uint32) uint64 { return recvCtxTag | uint64(idx) }

func isRecvContext(ctx uint64) (idx uint32, ok bool) {
	if ctx&recvCtxTag == 0 {
		return 0, false
	}
	return uint32(ctx &^ recvCtxTag), true
}

// BulkRepostFabric implements spec.md §4.5 step 5: post fresh recv
// buffers for every fabric packet-entry slot not currently posted or
// in flight, up to the pool's capacity. It is safe to call every tick;
// once every slot is posted it is a no-op.
func (ep *Endpoint) BulkRepostFabric(lt transport.LowerTransport) error {
	for ep.PostedRecvBufsFabric < ep.RXPktFabric.Cap() {
		idx, pkt, ok := ep.RXPktFabric.Acquire()
		if !ok {
			break
		}
		status, err := lt.RecvMsg([]transport.IOVec{{Base: pkt.Buf}}, recvContext(idx), 0)
		if err != nil {
			ep.RXPktFabric.Release(idx)
			return err
		}
		if status != transport.StatusOK {
			ep.RXPktFabric.Release(idx)
			break
		}
		ep.PostedRecvBufsFabric++
	}
	return nil
}

// BulkRepostSHM mirrors BulkRepostFabric for the shm-side pool, a
// no-op when shm transfer is disabled.
func (ep *Endpoint) BulkRepostSHM(lt transport.LowerTransport) error {
	if ep.RXPktSHM == nil {
		return nil
	}
	for ep.PostedRecvBufsSHM < ep.RXPktSHM.Cap() {
		idx, pkt, ok := ep.RXPktSHM.Acquire()
		if !ok {
			break
		}
		status, err := lt.RecvMsg([]transport.IOVec{{Base: pkt.Buf}}, recvContext(idx), 0)
		if err != nil {
			ep.RXPktSHM.Release(idx)
			return err
		}
		if status != transport.StatusOK {
			ep.RXPktSHM.Release(idx)
			break
		}
		ep.PostedRecvBufsSHM++
	}
	return nil
}

// DispatchCQ implements spec.md §4.5 step 4: route one completion to
// its handler, whether it is a freshly arrived packet or the
// acknowledgement of a prior send.
func (ep *Endpoint) DispatchCQ(lt transport.LowerTransport, cq transport.CQEntry, fromSHM bool, now int64) error {
	if idx, ok := isRecvContext(cq.OpContext); ok {
		return ep.dispatchRecv(lt, idx, cq, fromSHM, now)
	}
	return ep.dispatchSendCompletion(cq)
}

func (ep *Endpoint) dispatchSendCompletion(cq transport.CQEntry) error {
	if cq.Err == nil {
		return nil
	}
	// A terminal error on a previously-accepted send: surface it on
	// whichever entry pool the context indexes. TX entry ids and RX
	// entry ids (posted for a CTS) share the uint64 context space by
	// convention (callers only ever pass one or the other per op), so
	// the caller that posted this context is responsible for knowing
	// which pool owns it; DispatchCQ itself stays agnostic and simply
	// reports the error upward for the caller's own bookkeeping.
	return cq.Err
}

func (ep *Endpoint) dispatchRecv(lt transport.LowerTransport, pktIdx uint32, cq transport.CQEntry, fromSHM bool, now int64) error {
	pool := ep.RXPktFabric
	if fromSHM {
		pool = ep.RXPktSHM
	}
	pkt := pool.Get(pktIdx)
	pkt.Size = cq.Len
	pkt.Peer = cq.Peer
	if fromSHM {
		ep.PostedRecvBufsSHM--
	} else {
		ep.PostedRecvBufsFabric--
	}

	raw := wire.RawPacket(pkt.Buf[:cq.Len])
	base, derr := raw.Dispatch()
	if derr != nil {
		pool.Release(pktIdx)
		return derr
	}

	metrics.PacketsByType.WithLabelValues(base.PktType.String()).Inc()

	switch base.PktType {
	case wire.TypeRTS:
		return ep.handleIncomingRTS(lt, cq.Peer, raw, pktIdx, pool, now)
	case wire.TypeCTS:
		err := ep.handleIncomingCTS(raw)
		pool.Release(pktIdx)
		return err
	case wire.TypeData:
		err := ep.handleIncomingData(raw)
		pool.Release(pktIdx)
		return err
	case wire.TypeReadRsp:
		err := ep.handleIncomingReadRsp(raw)
		pool.Release(pktIdx)
		return err
	case wire.TypeConnack:
		ep.Peers.Get(cq.Peer, nil, false).ConnState = peer.Acked
		pool.Release(pktIdx)
		return nil
	case wire.TypeEOR:
		err := ep.handleIncomingEOR(raw)
		pool.Release(pktIdx)
		return err
	default:
		pool.Release(pktIdx)
		return nil
	}
}

// handleIncomingRTS keeps the RTS's originating packet entry alive only
// if HandleRTS marked it unexpected and retained (spec.md §4.4 "the RTS
// packet entry is retained" for UNEXP); otherwise the packet is
// released back to the pool immediately.
func (ep *Endpoint) handleIncomingRTS(lt transport.LowerTransport, sender bufpool.PeerHandle, raw wire.RawPacket, pktIdx uint32, pool *bufpool.Pool[bufpool.PacketEntry], now int64) error {
	e, needsCTS, err := ep.HandleRTS(sender, raw, pktIdx)
	if err != nil {
		pool.Release(pktIdx)
		return err
	}
	if e != nil && e.HasUnexpectedRTS() && e.UnexpectedRTS == pktIdx {
		// Retained until a matching post_recv consumes it; do not
		// release or repost this slot.
		return nil
	}
	pool.Release(pktIdx)
	if needsCTS {
		return ep.PostCTS(lt, e, uint64(sender), now)
	}
	return nil
}

func (ep *Endpoint) handleIncomingCTS(raw wire.RawPacket) error {
	c, _, err := wire.DecodeCTS(raw)
	if err != nil {
		return err
	}
	e := ep.TXEntries.Get(c.TxID)
	e.MsgID = c.RxID
	e.Window = c.Window
	if e.State != xfer.TXStateSend {
		return xfer.ErrInvalidTransition
	}
	if !ep.TXPending.Contains(e.ID) {
		ep.TXPending.PushBack(e.ID)
	}
	return nil
}

func (ep *Endpoint) handleIncomingData(raw wire.RawPacket) error {
	d, payloadOff, err := wire.DecodeDataHeader(raw)
	if err != nil {
		return err
	}
	e := ep.RXEntries.Get(d.RxID)
	e.WriteData(raw[payloadOff:payloadOff+int(d.SegSize)], d.SegOffset)
	if e.IsComplete() {
		ep.RXEntries.Release(e.ID)
	}
	return nil
}

func (ep *Endpoint) handleIncomingReadRsp(raw wire.RawPacket) error {
	d, payloadOff, err := wire.DecodeReadRsp(raw)
	if err != nil {
		return err
	}
	e := ep.RXEntries.Get(d.RxID)
	e.WriteData(raw[payloadOff:payloadOff+int(d.SegSize)], d.SegOffset)
	if e.IsComplete() {
		ep.RXEntries.Release(e.ID)
	}
	return nil
}

func (ep *Endpoint) handleIncomingEOR(raw wire.RawPacket) error {
	eor, err := wire.DecodeEOR(raw)
	if err != nil {
		return err
	}
	e := ep.ReadRspTX.Get(eor.RxID)
	if rerr := e.ReadFinished(); rerr != nil {
		return rerr
	}
	ep.ReadRspTX.Release(eor.RxID)
	return nil
}

