// Package endpoint ties the buffer pools (bufpool), peer directory
// (peer), transfer engine (xfer) and wire protocol (wire) together into
// the Endpoint entity of spec.md §3 and exposes the application
// contract of spec.md §6 (alloc_tx_entry, alloc_rx_entry,
// post_ctrl_or_queue, post_data, cancel, getopt/setopt). The progress
// loop (package progress) drives Endpoint from the outside, the way
// github.com/m-lab/tcp-info/collector drives a
// github.com/m-lab/tcp-info/saver.Saver.
package endpoint

import "github.com/m-lab/rdmtp/xfer"

// Config bundles every construction-time and per-tick knob spec.md §6
// enumerates, plus the SPEC_FULL.md supplements.
type Config struct {
	MTU              int
	MaxOutstandingTX int

	TxPktPoolSize          int
	RxPktPoolSizeFabric    int
	RxPktPoolSizeSHM       int
	TxEntryPoolSize        int
	RxEntryPoolSize        int
	UnexpectedCopyPoolSize int // 0 disables the pool (RxCopyUnexp must also be false)
	OOOCopyPoolSize        int // 0 disables the pool (RxCopyOOO must also be false)
	ReadRspTXPoolSize      int

	RxCopyUnexp bool
	RxCopyOOO   bool

	EnableSHMTransfer bool
	ShmMaxMediumSize  int
	MaxMemcpySize     int

	RecvWinSize           int
	MinMultiRecvSize      uint64
	MaxQueuedPktsPerEntry int

	Credit xfer.CreditConfig

	// AvailableDataBufsInit seeds available_data_bufs, normally equal
	// to RxPktPoolSizeFabric (spec.md §4.4 "the shared receive-buffer
	// budget").
	AvailableDataBufsInit int64

	// AvailableDataBufsTimeoutNanos is spec.md §4.4's
	// AVAILABLE_DATA_BUFS_TIMEOUT, expressed in monotonic nanoseconds.
	AvailableDataBufsTimeoutNanos int64

	// ReorderIdleCompactNanos carries SPEC_FULL.md's peer-keepalive
	// knob (reorder_idle_compact). Nothing reads it: no step compacts
	// an idle peer's reorder window.
	ReorderIdleCompactNanos int64

	// RNRBackoffBaseNanos / RNRBackoffMaxNanos bound peer.EnterBackoff.
	RNRBackoffBaseNanos int64
	RNRBackoffMaxNanos  int64

	CQReadSizeFabric int
	CQReadSizeSHM    int
}
