// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import "sync"

// qdTable maps queue descriptors to live queues.
//
// Descriptor 0 is reserved and never issued. A descriptor goes back on the
// free list only when its queue is removed, so it can never name two live
// queues. Create and close take the write lock; lookups share the read lock.
type qdTable struct {
	mu       sync.RWMutex
	entries  []queue
	freeList []int
	live     int
	limit    int
	closed   bool
}

func newQDTable(limit int) *qdTable {
	return &qdTable{
		entries:  make([]queue, 0, min(limit, 64)),
		freeList: make([]int, 0, 16),
		limit:    limit,
	}
}

// insert stores q under a fresh descriptor and tells q its descriptor
// before any lookup can see it.
func (t *qdTable) insert(q queue) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return -1, newError(InvalidDescriptor, "create", 0)
	}

	var qd int
	switch {
	case len(t.freeList) > 0:
		qd = t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[qd-1] = q
	case len(t.entries) < t.limit:
		t.entries = append(t.entries, q)
		qd = len(t.entries)
	default:
		return -1, newError(ResourceExhausted, "create", 0)
	}
	q.setQD(qd)
	t.live++
	return qd, nil
}

// get returns the queue at qd.
func (t *qdTable) get(qd int) (queue, bool) {
	if qd <= 0 {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if qd > len(t.entries) {
		return nil, false
	}
	q := t.entries[qd-1]
	return q, q != nil
}

// remove drops the mapping for qd and returns the queue it named.
func (t *qdTable) remove(qd int) (queue, bool) {
	if qd <= 0 {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if qd > len(t.entries) {
		return nil, false
	}
	q := t.entries[qd-1]
	if q == nil {
		return nil, false
	}
	t.entries[qd-1] = nil
	t.freeList = append(t.freeList, qd)
	t.live--
	return q, true
}

// drain closes the table to new entries and removes every live queue.
func (t *qdTable) drain() map[int]queue {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	out := make(map[int]queue, t.live)
	for i, q := range t.entries {
		if q != nil {
			out[i+1] = q
		}
	}
	t.entries = nil
	t.freeList = nil
	t.live = 0
	return out
}

// len returns the number of live queues.
func (t *qdTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}
