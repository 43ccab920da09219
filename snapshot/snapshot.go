// Package snapshot renders a point-in-time view of peer and transfer
// engine state as CSV for offline debugging: plain structs with `csv`
// tags, marshaled with gocarina/gocsv, no protocol logic of its own.
package snapshot

import (
	"io"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/peer"
)

// PeerRow is one gocsv-marshalable row describing a single peer's
// connection, credit, backoff and debug-counter state.
type PeerRow struct {
	Handle    uint64 `csv:"handle"`
	ConnState string `csv:"conn_state"`
	Locality  bool   `csv:"locality"`

	TxCredits int64 `csv:"tx_credits"`
	RxCredits int64 `csv:"rx_credits"`
	TxPending int   `csv:"tx_pending"`

	BackedOff    bool  `csv:"backed_off"`
	LastActivity int64 `csv:"last_activity_ns"`

	RNRCount  uint64 `csv:"rnr_count"`
	CTSCount  uint64 `csv:"cts_count"`
	BytesSent uint64 `csv:"bytes_sent"`
	BytesRecv uint64 `csv:"bytes_recv"`
}

// PoolRow is one gocsv-marshalable row describing a fixed-capacity
// pool's occupancy, the same data progress.reportPoolGauges exports to
// prometheus, but readable standalone via CSV.
type PoolRow struct {
	Name     string `csv:"name"`
	InUse    int    `csv:"in_use"`
	Capacity int    `csv:"capacity"`
}

// PeerRows walks ep.Peers and returns one PeerRow per known peer. Row
// order is not stable across calls, matching Directory.Each's map
// iteration.
func PeerRows(ep *endpoint.Endpoint) []*PeerRow {
	var rows []*PeerRow
	ep.Peers.Each(func(p *peer.Peer) {
		rows = append(rows, &PeerRow{
			Handle:       uint64(p.Handle),
			ConnState:    p.ConnState.String(),
			Locality:     p.Locality,
			TxCredits:    p.TxCredits,
			RxCredits:    p.RxCredits,
			TxPending:    p.TxPending,
			BackedOff:    p.IsBackedOff(),
			LastActivity: p.LastActivity,
			RNRCount:     p.RNRCount,
			CTSCount:     p.CTSCount,
			BytesSent:    p.BytesSent,
			BytesRecv:    p.BytesRecv,
		})
	})
	return rows
}

// PoolRows returns one PoolRow per fixed-capacity pool the endpoint
// owns.
func PoolRows(ep *endpoint.Endpoint) []*PoolRow {
	rows := []*PoolRow{
		{Name: "tx_pkt", InUse: ep.TXPkt.InUse(), Capacity: ep.TXPkt.Cap()},
		{Name: "rx_pkt_fabric", InUse: ep.RXPktFabric.InUse(), Capacity: ep.RXPktFabric.Cap()},
		{Name: "tx_entry", InUse: ep.TXEntries.InUse(), Capacity: ep.TXEntries.Cap()},
		{Name: "rx_entry", InUse: ep.RXEntries.InUse(), Capacity: ep.RXEntries.Cap()},
	}
	if ep.RXPktSHM != nil {
		rows = append(rows, &PoolRow{Name: "rx_pkt_shm", InUse: ep.RXPktSHM.InUse(), Capacity: ep.RXPktSHM.Cap()})
	}
	return rows
}

// WritePeerCSV marshals PeerRows(ep) to w.
func WritePeerCSV(ep *endpoint.Endpoint, w io.Writer) error {
	return gocsv.Marshal(PeerRows(ep), w)
}

// WritePoolCSV marshals PoolRows(ep) to w.
func WritePoolCSV(ep *endpoint.Endpoint, w io.Writer) error {
	return gocsv.Marshal(PoolRows(ep), w)
}
