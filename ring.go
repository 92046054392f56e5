// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// subRing is the submission ring between callers and the reactor.
//
// Any goroutine may submit (multi-producer); only the reactor drains
// (single consumer). Producers claim slots with CAS on the tail, the reactor
// reads sequentially. Each slot carries a sequence number: seq == pos means
// free for the producer at pos, seq == pos+1 means filled.
//
// Memory: n slots for capacity n.
type subRing struct {
	_        pad
	head     atomix.Uint64 // Reactor reads from here
	_        pad
	tail     atomix.Uint64 // Producers CAS here
	_        pad
	buffer   []subSlot
	mask     uint64
	capacity uint64
}

type subSlot struct {
	seq atomix.Uint64
	op  *ioOp
	_   padPtr
}

// newSubRing creates a ring with capacity rounded up to a power of 2.
func newSubRing(capacity int) *subRing {
	if capacity < 2 {
		panic("qio: submission capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	r := &subRing{
		buffer:   make([]subSlot, n),
		mask:     n - 1,
		capacity: n,
	}
	for i := uint64(0); i < n; i++ {
		r.buffer[i].seq.StoreRelaxed(i)
	}
	return r
}

// enqueue adds op to the ring. Returns ErrWouldBlock if the ring is full.
func (r *subRing) enqueue(op *ioOp) error {
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		head := r.head.LoadAcquire()
		if tail >= head+r.capacity {
			return ErrWouldBlock
		}

		slot := &r.buffer[tail&r.mask]
		seq := slot.seq.LoadAcquire()
		if seq == tail {
			if r.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.op = op
				slot.seq.StoreRelease(tail + 1)
				return nil
			}
		} else if seq < tail {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// submit enqueues op, backing off while the reactor catches up. It gives up
// after limit failed attempts and returns ErrWouldBlock.
func (r *subRing) submit(op *ioOp, limit int) error {
	backoff := iox.Backoff{}
	for range limit {
		err := r.enqueue(op)
		if err == nil {
			return nil
		}
		if !iox.IsWouldBlock(err) {
			return err
		}
		backoff.Wait()
	}
	return r.enqueue(op)
}

// dequeue removes the oldest op (reactor only).
// Returns (nil, ErrWouldBlock) if the ring is empty.
func (r *subRing) dequeue() (*ioOp, error) {
	head := r.head.LoadRelaxed()
	slot := &r.buffer[head&r.mask]
	if slot.seq.LoadAcquire() != head+1 {
		return nil, ErrWouldBlock
	}

	op := slot.op
	slot.op = nil
	slot.seq.StoreRelease(head + r.capacity)
	r.head.StoreRelease(head + 1)
	return op, nil
}

// Cap returns the ring capacity.
func (r *subRing) Cap() int {
	return int(r.capacity)
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// ptrSize is the size of a pointer in bytes.
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padPtr fills a cache line after a sequence word and a pointer.
type padPtr [64 - 8 - ptrSize]byte
