package endpoint

import (
	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/wire"
	"github.com/m-lab/rdmtp/xfer"
)

// matchIncomingRTS implements the matching half of spec.md §4.4's RTS
// handling: search the tagged or untagged expected list (chosen by the
// RTS's taggedness) for a non-multi-recv entry whose peer filter and
// tag match, falling through to "create an entry in
// RXStateUnexp" if none does. It does not itself decide eager vs
// rendezvous or perform multi-recv splitting; callers (HandleRTS) chain
// those in per spec.md's ordering.
func (ep *Endpoint) matchIncomingRTS(senderHandle bufpool.PeerHandle, tag uint64, tagged bool) (*xfer.RXEntry, bool) {
	list := &ep.ExpectedUntagged
	if tagged {
		list = &ep.ExpectedTagged
	}
	for i, idx := range *list {
		e := ep.RXEntries.Get(idx)
		if e.Flags&xfer.FlagMultiRecvPosted != 0 {
			continue
		}
		if e.HasPeer && e.Peer != senderHandle {
			continue
		}
		if !e.MatchTag(tag) {
			continue
		}
		*list = append((*list)[:i], (*list)[i+1:]...)
		return e, true
	}
	return nil, false
}

// HandleRTS implements spec.md §4.4's RTS arrival handling: decode the
// packet, match (or multi-recv split, or mark unexpected), and for a
// rendezvous match hand back the RX entry in RXStateMatched so the
// caller (progress.Tick) can build and post a CTS. Eager transfers are
// written and completed inline, since no CTS round-trip is needed.
//
// rtsPktIdx is the fabric RX packet-entry index the RTS arrived in,
// retained on an unexpected entry per spec.md §4.4 "the RTS packet
// entry is retained".
func (ep *Endpoint) HandleRTS(senderHandle bufpool.PeerHandle, raw wire.RawPacket, rtsPktIdx uint32) (matched *xfer.RXEntry, needsCTS bool, err error) {
	r, flags, _, cqData, payloadOff, derr := wire.DecodeRTS(raw)
	if derr != nil {
		return nil, false, derr
	}
	tagged := flags&wire.FlagTagged != 0

	e, ok := ep.matchIncomingRTS(senderHandle, r.Tag, tagged)
	if !ok {
		// No posted entry: try a multi-recv master for this kind of
		// traffic before falling back to UNEXP, per spec.md §4.4
		// "Multi-recv consumes a posted buffer before falling back to
		// the unexpected path."
		if master, mok := ep.findMultiRecvMaster(tagged); mok {
			return ep.consumeMultiRecv(master, r, raw, payloadOff, cqData, tagged)
		}
		idx, ue, pok := ep.RXEntries.Acquire()
		if !pok {
			return nil, false, ErrPoolExhausted
		}
		ue.Reset(idx)
		ue.Peer = senderHandle
		ue.HasPeer = true
		ue.Tag = r.Tag
		if tagged {
			ue.Flags |= xfer.FlagTagged
			ep.UnexpectedTagged = append(ep.UnexpectedTagged, idx)
		} else {
			ep.Unexpected = append(ep.Unexpected, idx)
		}
		ue.MarkUnexpected(rtsPktIdx)
		return ue, false, nil
	}

	return ep.completeOrArm(e, r, raw, payloadOff, cqData)
}

// completeOrArm decides eager vs rendezvous for a just-matched RX entry
// and, for eager, writes the inline payload and completes it; for
// rendezvous it arms the entry for a CTS.
func (ep *Endpoint) completeOrArm(e *xfer.RXEntry, r wire.RTS, raw wire.RawPacket, payloadOff int, cqData *uint64) (*xfer.RXEntry, bool, error) {
	// The sender already decided eager vs rendezvous when it sized the
	// RTS (wire.IsEager, from its own side's header overhead); the
	// receiver doesn't need to recompute that decision; whether the
	// full payload rode along on this packet says it directly.
	eager := uint64(len(raw)-payloadOff) >= r.DataLen
	if eager {
		if err := e.MatchEager(r.DataLen); err != nil {
			return nil, false, err
		}
		e.WriteData(raw[payloadOff:payloadOff+int(r.DataLen)], 0)
		if cqData != nil {
			e.Comp.Data = *cqData
			e.Comp.Flags |= uint32(xfer.FlagRemoteCQData)
		}
		return e, false, nil
	}
	if err := e.MatchRendezvous(r.DataLen); err != nil {
		return nil, false, err
	}
	e.PeerTxID = r.TxID
	return e, true, nil
}

// findMultiRecvMaster returns the first posted multi-recv master
// matching taggedness, without removing it (it stays posted until its
// remaining capacity drops below min_multi_recv_size).
func (ep *Endpoint) findMultiRecvMaster(tagged bool) (*xfer.RXEntry, bool) {
	list := ep.ExpectedUntagged
	if tagged {
		list = ep.ExpectedTagged
	}
	for _, idx := range list {
		e := ep.RXEntries.Get(idx)
		if e.Flags&xfer.FlagMultiRecvPosted != 0 {
			return e, true
		}
	}
	return nil, false
}

// consumeMultiRecv splits a consumer off master for one RTS arrival and
// completes (eager) or arms (rendezvous) it the same way completeOrArm
// does for a directly-matched entry. If the split drops master below
// min_multi_recv_size, master is released from the expected list (the
// application already saw FI_MULTI_RECV on the releasing consumer's
// completion, spec.md §4.4 Multi-recv).
func (ep *Endpoint) consumeMultiRecv(master *xfer.RXEntry, r wire.RTS, raw wire.RawPacket, payloadOff int, cqData *uint64, tagged bool) (*xfer.RXEntry, bool, error) {
	idx, consumer, ok := ep.RXEntries.Acquire()
	if !ok {
		return nil, false, ErrPoolExhausted
	}
	consumer.Reset(idx)
	consumedLen, release := xfer.SplitMultiRecv(master, consumer, r.DataLen, ep.Cfg.MinMultiRecvSize)
	if release {
		ep.removeFromExpected(master.ID, tagged)
	}
	// A multi-recv master can only ever be offered as much of the
	// transfer as it has remaining capacity for; completeOrArm must
	// match/write exactly that much, not the RTS's full DataLen.
	r.DataLen = consumedLen
	return ep.completeOrArm(consumer, r, raw, payloadOff, cqData)
}

func (ep *Endpoint) removeFromExpected(idx uint32, tagged bool) {
	list := &ep.ExpectedUntagged
	if tagged {
		list = &ep.ExpectedTagged
	}
	for i, v := range *list {
		if v == idx {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}
