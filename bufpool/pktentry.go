package bufpool

// PeerHandle is an opaque reference to a peer, assigned by the address
// vector (an external collaborator per spec.md §1/§6). bufpool treats
// it as an uninterpreted integer so this leaf package has no
// dependency on the peer directory.
type PeerHandle uint64

// MRHandle is a NIC memory-registration handle. Zero means "not
// registered".
type MRHandle uintptr

// EntryKind distinguishes which logical-entry pool an EntryRef points
// into.
type EntryKind uint8

const (
	EntryKindNone EntryKind = iota
	EntryKindTX
	EntryKindRX
)

// EntryRef is a back-pointer from a packet entry to the logical TX or
// RX entry that owns it, expressed as a pool index rather than a
// pointer so it survives independent of which concrete entry type the
// caller instantiates bufpool.Pool[T] with.
type EntryRef struct {
	Kind  EntryKind
	Index uint32
}

// Provenance records why an RX packet entry exists, per spec.md §3:
// posted for a receive, copied out of the unexpected pool, or copied
// out of the out-of-order pool.
type Provenance uint8

const (
	ProvenancePostedRecv Provenance = iota
	ProvenanceUnexpectedCopy
	ProvenanceOOOCopy
	ProvenanceTX
)

// ListID names which endpoint-owned list (if any) currently holds a
// packet entry, for spec.md §3's invariant that "no packet entry
// appears on more than one list simultaneously". IndexQueue.PushBack
// does not consult it, so the invariant is not checked there.
type ListID uint8

const (
	ListNone ListID = iota
	ListPostedFabricRecv
	ListPostedSHMRecv
	ListTxPending
	ListTxQueued
	ListRxQueued
	ListEntryQueuedPkts
)

// PacketEntry is a buffer region holding exactly one on-wire packet
// plus bookkeeping, per spec.md §3. Capacity is fixed at construction
// (MTU); Size records how much of Buf holds a real packet.
type PacketEntry struct {
	Buf        []byte
	Size       int
	Peer       PeerHandle
	Owner      EntryRef
	MR         MRHandle
	Provenance Provenance
	list       ListID
}

// init resizes e.Buf to mtu (allocating once) and resets
// bookkeeping fields. Pools call this once per slot at construction
// time via Pool.Fill-style initialization (see NewPacketPool).
func (e *PacketEntry) init(mtu int) {
	e.Buf = make([]byte, mtu)
	e.Size = 0
	e.Peer = 0
	e.Owner = EntryRef{}
	e.MR = 0
	e.Provenance = ProvenanceTX
	e.list = ListNone
}

// List reports which endpoint list, if any, currently holds e.
func (e *PacketEntry) List() ListID { return e.list }

// NewPacketPool builds a Pool of PacketEntry, each pre-sized to mtu
// bytes. If reg is non-nil it is called once per slot, with that slot's
// buffer, to obtain a NIC memory-registration handle, so every packet
// buffer is registered separately at allocation time (spec.md §4.1
// "registers each slab region at allocation time").
func NewPacketPool(capacity, mtu int, reg func(buf []byte) MRHandle) *Pool[PacketEntry] {
	p := New[PacketEntry](capacity)
	for i := 0; i < capacity; i++ {
		e := p.Get(uint32(i))
		e.init(mtu)
		if reg != nil {
			e.MR = reg(e.Buf)
		}
	}
	return p
}
