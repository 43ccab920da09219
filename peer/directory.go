package peer

// Directory maps peer handles to Peer state, creating entries lazily
// on first reference, per spec.md §4.2 ("the directory is sized after
// address-vector binding" — we simply grow a map instead of
// pre-sizing, since Go maps do this efficiently without a pre-size
// hint tied to AV capacity).
type Directory struct {
	peers       map[Handle]*Peer
	recvwinSize int
}

// NewDirectory creates an empty directory. recvwinSize sizes every
// peer's reorder window as it is created.
func NewDirectory(recvwinSize int) *Directory {
	return &Directory{
		peers:       make(map[Handle]*Peer, 64),
		recvwinSize: recvwinSize,
	}
}

// Get returns the Peer for handle, creating it (with Locality and Addr
// as given) if this is the first reference. Subsequent calls ignore
// locality/addr and return the existing Peer.
func (d *Directory) Get(handle Handle, addr []byte, locality bool) *Peer {
	if p, ok := d.peers[handle]; ok {
		return p
	}
	p := newPeer(handle, addr, locality, d.recvwinSize)
	d.peers[handle] = p
	return p
}

// Lookup returns the Peer for handle without creating it.
func (d *Directory) Lookup(handle Handle) (*Peer, bool) {
	p, ok := d.peers[handle]
	return p, ok
}

// Len reports how many peers have been referenced so far. The num_peers
// input of calc_cts_window_credits is not taken from here: PostCTS
// computes it as AV.Used() - 1.
func (d *Directory) Len() int {
	return len(d.peers)
}

// Each calls fn for every known peer. fn must not add or remove peers.
func (d *Directory) Each(fn func(*Peer)) {
	for _, p := range d.peers {
		fn(p)
	}
}

// Delete removes a peer from the directory entirely. Not part of the
// original spec (peers never leave an AV in-scope of this core), but
// useful for tests that need a clean slate.
func (d *Directory) Delete(handle Handle) {
	delete(d.peers, handle)
}
