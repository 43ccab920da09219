package xfer

import "errors"

// Sentinel errors surfaced by the transfer engine, per spec.md §7.
var (
	// ErrRetry marks a locally-recovered, Retryable condition: pool
	// exhaustion, lower-transport queue full, peer in backoff, or
	// credit exhaustion. The caller queues the offending entry and the
	// progress loop retries it.
	ErrRetry = errors.New("xfer: retry")

	// ErrCancelled is attached to a completion for an RX entry that was
	// cancelled via Cancel, surfaced as ECANCELED per spec.md §7.
	ErrCancelled = errors.New("xfer: cancelled")

	// ErrQueueFull names an entry's queued_pkts list exceeding
	// MaxQueuedPktsPerEntry (SPEC_FULL.md "Queued-packet caps"). No
	// code path in this module checks that cap or returns this error.
	ErrQueueFull = errors.New("xfer: queued packet cap exceeded")
)
