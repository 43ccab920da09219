package xfer

import "github.com/m-lab/rdmtp/peer"

// CreditConfig bundles the configuration knobs credit/window math
// depends on, per spec.md §6.
type CreditConfig struct {
	TxMaxCredits        int64
	TxMinCredits        int64
	MaxDataPayloadSize  int64
	RxWindowSize        int64
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// SetTXCreditRequest implements spec.md §4.4 "On send,
// set_tx_credit_request": lazily initializes the peer's TX side, computes
// how many RTS/CTS round-trips this send may request, and debits
// p.TxCredits if the request can be granted. It returns ErrRetry (with
// request left un-debited) if the peer cannot currently grant any
// credit.
func SetTXCreditRequest(p *peer.Peer, totalLen uint64, cfg CreditConfig) (request int64, err error) {
	p.InitTxSide(cfg.TxMaxCredits)

	pending := int64(p.TxPending) + 1
	byCredits := ceilDiv(p.TxCredits, pending)
	byPayload := ceilDiv(int64(totalLen), cfg.MaxDataPayloadSize)

	request = byCredits
	if byPayload < request {
		request = byPayload
	}
	if request < cfg.TxMinCredits {
		request = cfg.TxMinCredits
	}

	if request == 0 {
		return 0, ErrRetry
	}
	if p.TxCredits < request {
		return 0, ErrRetry
	}
	p.TxCredits -= request
	return request, nil
}

// WindowConfig bundles the remaining configuration CalcCTSWindowCredits
// needs beyond CreditConfig.
type WindowConfig struct {
	CreditConfig
	AvailableDataBufs int64
	PostedBufsFabric  int64
}

// CalcCTSWindowCredits implements spec.md §4.4
// "On CTS build, calc_cts_window_credits" verbatim, including the
// open-question heuristic of §9 (shrinking a peer's rx_credits by
// num_peers on every invocation once fanout grows, preserved as
// specified rather than "fixed").
//
// numPeers is AV.used - 1 (spec.md step 1); callers compute it from
// transport.AddressVector.Used() and pass it in so this package does
// not need a transport dependency.
func CalcCTSWindowCredits(p *peer.Peer, request int64, remainingBytes uint64, numPeers int64, cfg WindowConfig) (credits int64, window uint64) {
	if numPeers > 0 {
		shrunk := ceilDiv(cfg.RxWindowSize, numPeers)
		if shrunk < p.RxCredits {
			p.RxCredits = ceilDiv(p.RxCredits, numPeers)
		}
	}

	credits = cfg.AvailableDataBufs
	if cfg.PostedBufsFabric < credits {
		credits = cfg.PostedBufsFabric
	}
	if p.RxCredits < credits {
		credits = p.RxCredits
	}

	if request < credits {
		credits = request
	}
	if credits < cfg.TxMinCredits {
		credits = cfg.TxMinCredits
	}

	window = uint64(credits) * uint64(cfg.MaxDataPayloadSize)
	if remainingBytes < window {
		window = remainingBytes
	}

	windowCredits := ceilDiv(int64(window), cfg.MaxDataPayloadSize)
	if p.RxCredits > windowCredits {
		p.RxCredits -= windowCredits
	}
	return credits, window
}
