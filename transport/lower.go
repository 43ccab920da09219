// Package transport declares the narrow interfaces the transfer engine
// and progress loop consume from collaborators spec.md §1 places out of
// scope: the lower, unreliable datagram transport (an RDMA-capable
// fabric, optionally with a shared-memory shortcut) and the address-
// vector / peer-directory service. Nothing in this package is
// implemented here — only the contract, per spec.md §6.
package transport

import (
	"errors"

	"github.com/m-lab/rdmtp/bufpool"
)

// ErrTerminal is returned up the stack when a lower-transport call
// reports StatusError: a non-retryable, fatal condition per spec.md §7.
var ErrTerminal = errors.New("transport: terminal error")

// IOVec is a single base+len application buffer segment, optionally
// carrying a pre-registered memory descriptor.
type IOVec struct {
	Base []byte
	Desc bufpool.MRHandle // zero if not pre-registered
}

// SendFlags and RecvFlags mirror libfabric-style per-operation flags;
// only the ones the core actually branches on are named.
type SendFlags uint32

const (
	// FlagMore hints the provider that another send for the same
	// burst follows immediately, letting it defer signalling/doorbell
	// work, per spec.md §4.5 step 9 and step 5.
	FlagMore SendFlags = 1 << 0
	// FlagInject requests the provider copy small payloads inline
	// rather than registering the caller's buffer.
	FlagInject SendFlags = 1 << 1
)

type RecvFlags uint32

const (
	// FlagMultiRecv marks a posted receive buffer as capable of
	// absorbing multiple incoming messages (spec.md §4.4 Multi-recv).
	FlagMultiRecv RecvFlags = 1 << 0
)

// Status is the outcome of a non-blocking lower-transport call.
type Status int

const (
	// StatusOK means the operation was accepted (not necessarily
	// completed — completion arrives later via the CQ).
	StatusOK Status = iota
	// StatusAgain means the provider's send/recv queue is full;
	// spec.md §7 Retryable.
	StatusAgain
	// StatusRNR means the peer has no posted receive buffer; spec.md
	// §7 Receiver-not-ready.
	StatusRNR
	// StatusError means a terminal, non-retryable failure; spec.md §7
	// Fatal.
	StatusError
)

// CQEntry is one completion queue entry as read back from the lower
// transport: enough information to route it to the owning TX/RX entry
// and, on error, to build a user-visible error completion.
type CQEntry struct {
	OpContext uint64 // opaque context the core supplied when posting
	Len       int    // bytes transferred (recv completions only)
	Flags     uint32
	Data      uint64 // piggybacked completion data, if any
	Peer      bufpool.PeerHandle // sender, recv completions only (FI_SOURCE-style)
	Err       error              // non-nil iff this is an error completion
	ProvErrno int32
}

// LowerTransport is the narrow interface consumed from the fabric (and
// identically from the shm side, when enabled): post send/recv,
// register/deregister memory, drain completions, and resolve/publish a
// core-level address. Every method is non-blocking per spec.md §5:
// it either succeeds, returns StatusAgain/StatusRNR, or returns a
// terminal error.
type LowerTransport interface {
	SendMsg(iov []IOVec, peer bufpool.PeerHandle, opContext uint64, flags SendFlags) (Status, error)
	RecvMsg(iov []IOVec, opContext uint64, flags RecvFlags) (Status, error)
	ReadCQ(maxEntries int) ([]CQEntry, error)
	MRReg(buf []byte) (bufpool.MRHandle, error)
	MRClose(h bufpool.MRHandle) error
	GetName() ([]byte, error)
	SetName(addr []byte) error
}

// AddressVector is the peer-directory service: resolving a wire-level
// address to the stable handle the rest of the core uses, and
// reporting how many peers it currently knows about (consumed by
// spec.md §4.4 calc_cts_window_credits's num_peers term).
type AddressVector interface {
	Insert(addr []byte) (bufpool.PeerHandle, error)
	Lookup(handle bufpool.PeerHandle) ([]byte, bool)
	Used() int
}
