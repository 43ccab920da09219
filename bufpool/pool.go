// Package bufpool implements the fixed-capacity slab allocators spec.md
// §4.1 describes: one pool per record kind (TX/RX packet entries, TX/RX
// logical entries, unexpected-copy, out-of-order-copy, read-response TX
// entries). Every pool is a plain preallocated slice plus a LIFO
// free-list of indices; none of it is safe for concurrent use, because
// the endpoint lock is the only synchronization spec.md §4.1/§5 allows
// around it — the same non-concurrent, caller-owns-the-lock contract
// github.com/m-lab/tcp-info/cache documents for its connection cache.
package bufpool

import "unsafe"

// Pool is a fixed-capacity slab allocator of T. The zero value is not
// usable; construct with New.
type Pool[T any] struct {
	slab     []T
	free     []uint32 // LIFO stack of free slab indices
	inUse    int
	capacity uint32
}

// New allocates a pool of the given capacity. Every slot is
// zero-valued and immediately available to Acquire.
func New[T any](capacity int) *Pool[T] {
	if capacity <= 0 {
		panic("bufpool: capacity must be positive")
	}
	p := &Pool[T]{
		slab:     make([]T, capacity),
		free:     make([]uint32, capacity),
		capacity: uint32(capacity),
	}
	for i := range p.free {
		// Fill so the first Acquire returns index 0, matching the
		// order an all-zero pool would be consumed in.
		p.free[i] = uint32(capacity) - 1 - uint32(i)
	}
	return p
}

// Acquire removes one entry from the free-list and returns its index
// and a pointer to its (still previous-owner's) contents, or ok=false
// if the pool is exhausted. Callers typically overwrite the returned
// value's fields before use; Acquire does not zero it, since the most
// common immediate action is a full field-by-field initialization
// anyway.
func (p *Pool[T]) Acquire() (idx uint32, entry *T, ok bool) {
	n := len(p.free)
	if n == 0 {
		return 0, nil, false
	}
	idx = p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse++
	return idx, &p.slab[idx], true
}

// Release returns idx to the free-list. The caller must not touch the
// pointer returned by a prior Acquire/Get for this index afterward.
func (p *Pool[T]) Release(idx uint32) {
	p.free = append(p.free, idx)
	p.inUse--
}

// Get returns a pointer to the slab slot at idx without any liveness
// checking; callers that received idx from a completion queue entry
// are expected to validate state before trusting the contents (spec.md
// §9 "Arena + index over pointer graphs").
func (p *Pool[T]) Get(idx uint32) *T {
	return &p.slab[idx]
}

// IndexOf recovers the slab index of a pointer previously returned by
// Acquire/Get, using pointer arithmetic against the slab's base
// address.
func (p *Pool[T]) IndexOf(entry *T) uint32 {
	base := unsafe.Pointer(&p.slab[0])
	var zero T
	stride := unsafe.Sizeof(zero)
	off := uintptr(unsafe.Pointer(entry)) - uintptr(base)
	return uint32(off / stride)
}

// Cap returns the pool's fixed capacity.
func (p *Pool[T]) Cap() int { return int(p.capacity) }

// InUse returns the number of entries currently acquired.
func (p *Pool[T]) InUse() int { return p.inUse }

// Available returns the number of entries that can still be acquired.
func (p *Pool[T]) Available() int { return len(p.free) }
