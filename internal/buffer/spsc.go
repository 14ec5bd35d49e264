// SPDX-License-Identifier: MIT

// Package buffer implements the pre-allocated frame pool that hands
// audio off from the real-time capture callback to the analysis
// worker. The handoff uses two bounded single-producer single-consumer
// rings, so neither side ever blocks or allocates.
package buffer

import (
	"sync/atomic"

	"beatbox/pkg/bitint"
)

// spsc is a bounded wait-free single-producer single-consumer ring.
// Exactly one goroutine may call Push and exactly one may call Pop.
//
// head is the consumer cursor, tail the producer cursor; both increase
// monotonically and are reduced modulo the power-of-two capacity via
// the mask. tail-head is the number of occupied slots.
type spsc struct {
	slots []*Frame
	mask  uint64
	head  atomic.Uint64
	tail  atomic.Uint64
}

func newSPSC(capacity int) *spsc {
	capacity = bitint.NextPowerOfTwo(capacity)
	return &spsc{
		slots: make([]*Frame, capacity),
		mask:  uint64(capacity - 1),
	}
}

// Push appends f to the ring. Returns false if the ring is full.
func (q *spsc) Push(f *Frame) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() > q.mask {
		return false
	}
	q.slots[tail&q.mask] = f
	q.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest frame from the ring. Returns nil, false if
// the ring is empty.
func (q *spsc) Pop() (*Frame, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return nil, false
	}
	f := q.slots[head&q.mask]
	q.slots[head&q.mask] = nil
	q.head.Store(head + 1)
	return f, true
}

// Len returns the number of occupied slots. Approximate when called
// concurrently with Push/Pop.
func (q *spsc) Len() int {
	return int(q.tail.Load() - q.head.Load())
}
