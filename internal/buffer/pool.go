// SPDX-License-Identifier: MIT
package buffer

// Default pool geometry. 16 buffers of 2048 samples at 48 kHz is about
// 680 ms of slack, comfortably above 4x a typical callback period.
const (
	DefaultPoolSize   = 16
	DefaultBufferSize = 2048
)

// Frame is one pooled audio buffer. Data is allocated once at pool
// init and its capacity never changes; N is the number of valid
// samples and Start the absolute sample index of Data[0] on the
// engine's frame-counter clock, both stamped by the capture side
// before the frame is published.
type Frame struct {
	Data  []float32
	N     int
	Start uint64
}

// Samples returns the valid portion of the frame.
func (f *Frame) Samples() []float32 {
	return f.Data[:f.N]
}

// Pool owns a fixed set of Frames cycling through two SPSC rings:
//
//	free ring: empty frames; producer = analysis worker, consumer = audio callback
//	data ring: filled frames; producer = audio callback, consumer = analysis worker
//
// Invariant: every frame is in exactly one of free ring, data ring,
// held-by-producer, or held-by-consumer. The total never changes.
type Pool struct {
	free *spsc
	data *spsc

	count int
	size  int
}

// NewPool pre-allocates count frames of size samples each and places
// them all on the free ring. This is the only place the pool
// allocates.
func NewPool(count, size int) *Pool {
	if count <= 0 {
		count = DefaultPoolSize
	}
	if size <= 0 {
		size = DefaultBufferSize
	}

	p := &Pool{
		free:  newSPSC(count),
		data:  newSPSC(count),
		count: count,
		size:  size,
	}
	for i := 0; i < count; i++ {
		p.free.Push(&Frame{Data: make([]float32, size)})
	}
	return p
}

// AcquireFree pops an empty frame for the capture side to fill.
// Returns nil, false when the analysis worker is falling behind;
// the caller drops the audio and keeps going.
func (p *Pool) AcquireFree() (*Frame, bool) {
	return p.free.Pop()
}

// PublishData hands a filled frame to the analysis worker. Returns
// false if the data ring is full, in which case the caller must
// Release the frame back to the free ring via Requeue.
func (p *Pool) PublishData(f *Frame) bool {
	return p.data.Push(f)
}

// Requeue puts a frame back on the free ring from the capture side
// after a failed publish. Cannot fail: ring capacity equals the frame
// count.
func (p *Pool) Requeue(f *Frame) {
	p.free.Push(f)
}

// PopData pops the next filled frame on the analysis side.
func (p *Pool) PopData() (*Frame, bool) {
	return p.data.Pop()
}

// Release returns a consumed frame to the free ring.
func (p *Pool) Release(f *Frame) {
	f.N = 0
	p.free.Push(f)
}

// Count returns the total number of frames owned by the pool.
func (p *Pool) Count() int { return p.count }

// BufferSize returns the per-frame sample capacity.
func (p *Pool) BufferSize() int { return p.size }

// FreeLen and DataLen expose queue depths for diagnostics.
func (p *Pool) FreeLen() int { return p.free.Len() }
func (p *Pool) DataLen() int { return p.data.Len() }
