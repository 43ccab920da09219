// Package config turns the process environment and command-line flags
// into an endpoint.Config and progress.Config, the way main.go used to
// turn flags into collector/saver arguments: flag.Parse plus
// flagx.ArgsFromEnv so every knob is also settable as an environment
// variable in a container.
package config

import (
	"flag"

	"github.com/m-lab/go/flagx"

	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/progress"
	"github.com/m-lab/rdmtp/xfer"
)

var (
	mtu              = flag.Int("mtu_size", 8960, "Maximum transmission unit of the underlying fabric, in bytes")
	maxOutstandingTX = flag.Int("tx_queue_size", 1024, "Maximum number of concurrently outstanding TX entries")

	txPktPoolSize       = flag.Int("tx_pkt_pool_size", 1024, "Number of preallocated TX packet buffers")
	rxPktPoolSizeFabric = flag.Int("rx_pkt_pool_size_fabric", 1024, "Number of posted recv buffers on the fabric endpoint")
	rxPktPoolSizeSHM    = flag.Int("rx_pkt_pool_size_shm", 256, "Number of posted recv buffers on the shm endpoint (ignored unless enable_shm_transfer)")
	txEntryPoolSize     = flag.Int("tx_entry_pool_size", 1024, "Number of preallocated TX logical entries")
	rxEntryPoolSize     = flag.Int("rx_entry_pool_size", 1024, "Number of preallocated RX logical entries")
	unexpCopyPoolSize   = flag.Int("rx_unexp_copy_pool_size", 256, "Size of the bounce-buffer pool allocated for unexpected RTS payloads when rx_copy_unexp is set")
	oooCopyPoolSize     = flag.Int("rx_ooo_copy_pool_size", 256, "Size of the bounce-buffer pool allocated for out-of-order DATA segments when rx_copy_ooo is set")
	readRspTXPoolSize   = flag.Int("read_rsp_tx_pool_size", 64, "Number of preallocated READRSP-side TX entries")

	rxCopyUnexp = flag.Bool("rx_copy_unexp", false, "Allocate the unexpected-RTS bounce-buffer pool; the receive path does not copy into it and keeps the RTS packet buffer")
	rxCopyOOO   = flag.Bool("rx_copy_ooo", false, "Allocate the out-of-order DATA bounce-buffer pool; the receive path does not copy into it")

	enableSHMTransfer = flag.Bool("enable_shm_transfer", false, "Use a separate shm-backed lower transport for same-host peers")
	shmMaxMediumSize  = flag.Int("shm_max_medium_size", 262144, "Largest payload size eligible for the shm medium-message path")
	maxMemcpySize     = flag.Int("max_memcpy_size", 1 << 18, "Largest single memcpy PostData will perform per DATA segment")

	recvWinSize           = flag.Int("recvwin_size", 256, "Size of the per-peer out-of-order reorder window")
	minMultiRecvSize       = flag.Uint64("min_multi_recv_size", 16384, "Remaining capacity below which a multi-recv buffer is released instead of reused")
	maxQueuedPktsPerEntry = flag.Int("max_queued_pkts_per_entry", 64, "Cap on DATA packets a single TX entry may retain on its queued_pkts list; carried into endpoint.Config but not checked by the send path")

	txMaxCredits       = flag.Int64("tx_max_credits", 128, "Maximum outstanding credits a TX peer may hold")
	txMinCredits       = flag.Int64("tx_min_credits", 1, "Minimum credits requested per RTS")
	maxDataPayloadSize = flag.Int64("max_data_payload_size", 1 << 20, "Payload bytes covered by one credit; divisor when sizing credit requests and CTS windows")
	rxWindowSize       = flag.Int64("rx_window_size", 1 << 20, "Compared against ceil(rx_window_size/num_peers) to decide whether to shrink a peer's rx_credits as fanout grows; does not seed a peer's rx_credits or CTS window")

	availableDataBufsInit    = flag.Int64("available_data_bufs_init", 1024, "Initial value of the shared receive-buffer budget, normally equal to rx_pkt_pool_size_fabric")
	availableDataBufsTimeout = flag.Duration("available_data_bufs_timeout", 0, "How long available_data_bufs may sit at zero before the progress loop resets it to the fabric RX pool capacity (with 0, the reset happens on the first later tick)")
	reorderIdleCompact       = flag.Duration("reorder_idle_compact", 0, "Idle time before a peer's reorder window would be compacted; carried into endpoint.Config, but no step compacts reorder windows")
	rnrBackoffBase           = flag.Duration("rnr_backoff_base", 0, "Initial peer RNR backoff duration")
	rnrBackoffMax            = flag.Duration("rnr_backoff_max", 0, "Maximum peer RNR backoff duration after exponential growth")

	cqReadSizeFabric = flag.Int("efa_cq_read_size", 32, "Maximum completions read per fabric ReadCQ call")
	cqReadSizeSHM    = flag.Int("shm_cq_read_size", 32, "Maximum completions read per shm ReadCQ call")
)

// Parse parses flag.CommandLine and overlays environment variables onto
// unset flags via flagx.ArgsFromEnv, mirroring main.go's flag.Parse;
// flagx.ArgsFromEnv(flag.CommandLine) startup sequence. It must run
// before Endpoint or Progress are called.
func Parse() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)
}

// Endpoint builds an endpoint.Config from the parsed flags.
func Endpoint() endpoint.Config {
	return endpoint.Config{
		MTU:              *mtu,
		MaxOutstandingTX: *maxOutstandingTX,

		TxPktPoolSize:          *txPktPoolSize,
		RxPktPoolSizeFabric:    *rxPktPoolSizeFabric,
		RxPktPoolSizeSHM:       *rxPktPoolSizeSHM,
		TxEntryPoolSize:        *txEntryPoolSize,
		RxEntryPoolSize:        *rxEntryPoolSize,
		UnexpectedCopyPoolSize: *unexpCopyPoolSize,
		OOOCopyPoolSize:        *oooCopyPoolSize,
		ReadRspTXPoolSize:      *readRspTXPoolSize,

		RxCopyUnexp: *rxCopyUnexp,
		RxCopyOOO:   *rxCopyOOO,

		EnableSHMTransfer: *enableSHMTransfer,
		ShmMaxMediumSize:  *shmMaxMediumSize,
		MaxMemcpySize:     *maxMemcpySize,

		RecvWinSize:           *recvWinSize,
		MinMultiRecvSize:      *minMultiRecvSize,
		MaxQueuedPktsPerEntry: *maxQueuedPktsPerEntry,

		Credit: xfer.CreditConfig{
			TxMaxCredits:       *txMaxCredits,
			TxMinCredits:       *txMinCredits,
			MaxDataPayloadSize: *maxDataPayloadSize,
			RxWindowSize:       *rxWindowSize,
		},

		AvailableDataBufsInit:         *availableDataBufsInit,
		AvailableDataBufsTimeoutNanos: availableDataBufsTimeout.Nanoseconds(),
		ReorderIdleCompactNanos:       reorderIdleCompact.Nanoseconds(),
		RNRBackoffBaseNanos:           rnrBackoffBase.Nanoseconds(),
		RNRBackoffMaxNanos:            rnrBackoffMax.Nanoseconds(),

		CQReadSizeFabric: *cqReadSizeFabric,
		CQReadSizeSHM:    *cqReadSizeSHM,
	}
}

// Progress builds a progress.Config from the parsed flags.
func Progress() progress.Config {
	return progress.Config{
		CQReadSizeFabric: *cqReadSizeFabric,
		CQReadSizeSHM:    *cqReadSizeSHM,
	}
}
