package progress

import (
	"time"

	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/metrics"
	"github.com/m-lab/rdmtp/peer"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/xfer"
)

// Config bundles the per-tick read-size knobs spec.md §6 names for the
// progress loop specifically (as opposed to endpoint.Config's
// allocation-time knobs).
type Config struct {
	CQReadSizeFabric int
	CQReadSizeSHM    int
}

// Tick runs exactly one pass of spec.md §4.5's nine-step progress():
// available-buffer timeout check, fabric/shm CQ poll and dispatch,
// bulk-repost, backoff walk, and the two queued-retry drains plus the
// pending-data push. shm may be nil when shm transfer is disabled.
//
// now is the caller-supplied CLOCK_MONOTONIC reading (NowNanos), passed
// in rather than read internally so callers (and tests) can control it.
func Tick(ep *endpoint.Endpoint, fabric, shm transport.LowerTransport, cfg Config, now int64) error {
	start := time.Now()
	defer func() { metrics.TickHistogram.Observe(time.Since(start).Seconds()) }()

	if step1AvailableBufsTimeout(ep, now) {
		ep.AvailableDataBufs = int64(ep.RXPktFabric.Cap())
		ep.AvailableDataBufsZeroAt = 0
	}

	if err := step2PollCQ(ep, fabric, cfg.CQReadSizeFabric, now, false); err != nil {
		return err
	}
	if shm != nil {
		if err := step2PollCQ(ep, shm, cfg.CQReadSizeSHM, now, true); err != nil {
			return err
		}
	}

	if err := ep.BulkRepostFabric(fabric); err != nil {
		return err
	}
	if shm != nil {
		if err := ep.BulkRepostSHM(shm); err != nil {
			return err
		}
	}

	step6WalkBackoff(ep, now)
	step7DrainRXQueued(ep, fabric, now)
	step8DrainTXQueued(ep, fabric, now)
	step9PushPendingData(ep, fabric, now)

	reportPoolGauges(ep)

	return nil
}

// reportPoolGauges refreshes the point-in-time occupancy gauges once per
// tick rather than on every Acquire/Release, since these are scraped
// rather than sampled per-event.
func reportPoolGauges(ep *endpoint.Endpoint) {
	metrics.PoolInUse.WithLabelValues("tx_pkt").Set(float64(ep.TXPkt.InUse()))
	metrics.PoolInUse.WithLabelValues("rx_pkt_fabric").Set(float64(ep.RXPktFabric.InUse()))
	metrics.PoolInUse.WithLabelValues("tx_entry").Set(float64(ep.TXEntries.InUse()))
	metrics.PoolInUse.WithLabelValues("rx_entry").Set(float64(ep.RXEntries.InUse()))
	if ep.RXPktSHM != nil {
		metrics.PoolInUse.WithLabelValues("rx_pkt_shm").Set(float64(ep.RXPktSHM.InUse()))
	}
	metrics.AvailableDataBufs.Set(float64(ep.AvailableDataBufs))
}

// step1AvailableBufsTimeout reports whether the shared receive-buffer
// budget has been stuck at zero longer than
// Cfg.AvailableDataBufsTimeoutNanos, per spec.md §4.4's
// AVAILABLE_DATA_BUFS_TIMEOUT. The caller resets AvailableDataBufs back
// to the full RX pool count when this returns true, as the liveness
// fallback for an unresponsive peer that never frees its share.
func step1AvailableBufsTimeout(ep *endpoint.Endpoint, now int64) bool {
	if ep.AvailableDataBufs > 0 {
		ep.AvailableDataBufsZeroAt = 0
		return false
	}
	if ep.AvailableDataBufsZeroAt == 0 {
		ep.AvailableDataBufsZeroAt = now
		return false
	}
	return now-ep.AvailableDataBufsZeroAt > ep.Cfg.AvailableDataBufsTimeoutNanos
}

func step2PollCQ(ep *endpoint.Endpoint, lt transport.LowerTransport, maxEntries int, now int64, fromSHM bool) error {
	if maxEntries <= 0 {
		maxEntries = 32
	}
	entries, err := lt.ReadCQ(maxEntries)
	if err != nil {
		return err
	}
	side := "fabric"
	if fromSHM {
		side = "shm"
	}
	metrics.CQEntriesHistogram.WithLabelValues(side).Observe(float64(len(entries)))
	for _, cq := range entries {
		if derr := ep.DispatchCQ(lt, cq, fromSHM, now); derr != nil {
			// A single bad completion must not stall the rest of the
			// batch: the dispatch error is counted under this CQ side
			// and the loop moves on. It is not attached to any entry's
			// completion here or inside DispatchCQ.
			metrics.CompletionErrors.WithLabelValues(side).Inc()
			continue
		}
	}
	return nil
}

func step6WalkBackoff(ep *endpoint.Endpoint, now int64) {
	ep.Peers.Each(func(p *peer.Peer) {
		p.ClearBackoffIfExpired(now)
	})
}

func step7DrainRXQueued(ep *endpoint.Endpoint, lt transport.LowerTransport, now int64) {
	n := ep.RXQueued.Len()
	for i := 0; i < n; i++ {
		idx, ok := ep.RXQueued.PopFront()
		if !ok {
			return
		}
		e := ep.RXEntries.Get(idx)
		if err := ep.PostCTS(lt, e, uint64(e.Peer), now); err != nil {
			if err == xfer.ErrRetry {
				ep.RXQueued.PushBack(idx)
			}
			continue
		}
	}
}

func step8DrainTXQueued(ep *endpoint.Endpoint, lt transport.LowerTransport, now int64) {
	n := ep.TXQueued.Len()
	for i := 0; i < n; i++ {
		idx, ok := ep.TXQueued.PopFront()
		if !ok {
			return
		}
		e := ep.TXEntries.Get(idx)
		var err error
		switch e.State {
		case xfer.TXStateQueuedDataRNR:
			err = ep.ReflushQueuedData(lt, e, now)
		default:
			err = ep.PostRTS(lt, e, now)
		}
		if err == xfer.ErrRetry {
			ep.TXQueued.PushBack(idx)
		}
	}
}

func step9PushPendingData(ep *endpoint.Endpoint, lt transport.LowerTransport, now int64) {
	n := ep.TXPending.Len()
	for i := 0; i < n; i++ {
		idx, ok := ep.TXPending.PopFront()
		if !ok {
			return
		}
		e := ep.TXEntries.Get(idx)
		if e.IsComplete() {
			continue
		}
		if _, err := ep.PostData(lt, e, now); err != nil && err != xfer.ErrRetry {
			continue
		}
		if !e.IsComplete() {
			ep.TXPending.PushBack(idx)
		}
	}
}
