package bufpool

// IndexQueue is a FIFO queue of pool indices, used for the endpoint's
// queued-retry and pending lists (tx_entry_queued_list,
// rx_entry_queued_list, tx_pending_list, and a packet entry's own
// queued_pkts list). It is the pool-index-based equivalent of an
// intrusive linked list described in spec.md §9: simpler than
// maintaining prev/next fields on every entry, at the cost of O(n)
// Remove, which is acceptable here because these lists are drained
// from the front by the progress loop far more often than they are
// spliced from the middle.
type IndexQueue struct {
	items []uint32
}

// PushBack appends idx to the tail of the queue. It does not check
// whether idx is already on this or any other list.
func (q *IndexQueue) PushBack(idx uint32) {
	q.items = append(q.items, idx)
}

// PopFront removes and returns the index at the head of the queue, or
// ok=false if the queue is empty.
func (q *IndexQueue) PopFront() (idx uint32, ok bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	idx = q.items[0]
	q.items = q.items[1:]
	return idx, true
}

// Remove deletes the first occurrence of idx from the queue, wherever
// it sits, returning whether it was found.
func (q *IndexQueue) Remove(idx uint32) bool {
	for i, v := range q.items {
		if v == idx {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether idx is currently queued.
func (q *IndexQueue) Contains(idx uint32) bool {
	for _, v := range q.items {
		if v == idx {
			return true
		}
	}
	return false
}

// Len returns the number of queued indices.
func (q *IndexQueue) Len() int { return len(q.items) }

// Front returns the head index without removing it.
func (q *IndexQueue) Front() (idx uint32, ok bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0], true
}

// Each calls fn for every queued index, front to back. fn must not
// mutate the queue.
func (q *IndexQueue) Each(fn func(idx uint32)) {
	for _, v := range q.items {
		fn(v)
	}
}
