// SPDX-License-Identifier: MIT
package buffer

import (
	"testing"
)

func TestPoolInitialState(t *testing.T) {
	p := NewPool(16, 2048)

	if p.FreeLen() != 16 {
		t.Errorf("free ring should hold all frames at init, got %d", p.FreeLen())
	}
	if p.DataLen() != 0 {
		t.Errorf("data ring should be empty at init, got %d", p.DataLen())
	}
	if _, ok := p.PopData(); ok {
		t.Error("PopData should fail on empty data ring")
	}
}

func TestPoolFrameGeometry(t *testing.T) {
	p := NewPool(4, 512)

	f, ok := p.AcquireFree()
	if !ok {
		t.Fatal("AcquireFree failed on full free ring")
	}
	if len(f.Data) != 512 {
		t.Errorf("frame capacity = %d, want 512", len(f.Data))
	}
	if f.N != 0 {
		t.Errorf("fresh frame N = %d, want 0", f.N)
	}
}

func TestPoolConservation(t *testing.T) {
	const count = 8
	p := NewPool(count, 64)

	// Cycle frames through every state and verify the total is
	// preserved at each step.
	inFlight := 0
	check := func(step string) {
		t.Helper()
		if got := p.FreeLen() + p.DataLen() + inFlight; got != count {
			t.Fatalf("%s: free(%d) + data(%d) + inFlight(%d) = %d, want %d",
				step, p.FreeLen(), p.DataLen(), inFlight, got, count)
		}
	}

	check("init")

	held := make([]*Frame, 0, count)
	for i := 0; i < 3; i++ {
		f, ok := p.AcquireFree()
		if !ok {
			t.Fatal("AcquireFree failed")
		}
		inFlight++
		held = append(held, f)
		check("acquire")
	}

	for _, f := range held {
		f.N = 64
		if !p.PublishData(f) {
			t.Fatal("PublishData failed")
		}
		inFlight--
		check("publish")
	}

	for {
		f, ok := p.PopData()
		if !ok {
			break
		}
		inFlight++
		check("pop")
		p.Release(f)
		inFlight--
		check("release")
	}

	if p.FreeLen() != count {
		t.Errorf("all frames should be back on the free ring, got %d", p.FreeLen())
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(2, 16)

	a, _ := p.AcquireFree()
	b, _ := p.AcquireFree()
	if _, ok := p.AcquireFree(); ok {
		t.Error("AcquireFree should fail when all frames are held")
	}

	p.PublishData(a)
	p.PublishData(b)

	// Free ring drained, data ring full: the capture side would now
	// drop. Consume one and the cycle resumes.
	f, ok := p.PopData()
	if !ok {
		t.Fatal("PopData failed with filled frames queued")
	}
	p.Release(f)

	if _, ok := p.AcquireFree(); !ok {
		t.Error("AcquireFree should succeed after a release")
	}
}

func TestSPSCWraparound(t *testing.T) {
	q := newSPSC(4)
	frames := make([]*Frame, 4)
	for i := range frames {
		frames[i] = &Frame{Data: make([]float32, 1)}
	}

	// Push/pop more times than the capacity to exercise cursor
	// wraparound.
	for cycle := 0; cycle < 100; cycle++ {
		for _, f := range frames {
			if !q.Push(f) {
				t.Fatalf("cycle %d: push failed below capacity", cycle)
			}
		}
		if q.Push(frames[0]) {
			t.Fatalf("cycle %d: push succeeded beyond capacity", cycle)
		}
		for i := range frames {
			f, ok := q.Pop()
			if !ok {
				t.Fatalf("cycle %d: pop %d failed", cycle, i)
			}
			if f != frames[i] {
				t.Fatalf("cycle %d: pop %d returned wrong frame (FIFO violated)", cycle, i)
			}
		}
		if _, ok := q.Pop(); ok {
			t.Fatalf("cycle %d: pop succeeded on empty ring", cycle)
		}
	}
}

func TestSPSCConcurrent(t *testing.T) {
	const iterations = 100000
	p := NewPool(8, 16)

	done := make(chan uint64)

	// Producer mimics the audio callback: acquire, stamp, publish.
	go func() {
		var published, start uint64
		for i := 0; i < iterations; i++ {
			f, ok := p.AcquireFree()
			if !ok {
				continue
			}
			f.N = 16
			f.Start = start
			start += 16
			if p.PublishData(f) {
				published++
			} else {
				p.Requeue(f)
			}
		}
		done <- published
	}()

	// Consumer mimics the analysis worker: pop, verify ordering, release.
	var consumed uint64
	var lastStart uint64
	first := true
	for {
		f, ok := p.PopData()
		if !ok {
			select {
			case published := <-done:
				// Drain what is left, then compare totals.
				for {
					f, ok := p.PopData()
					if !ok {
						break
					}
					consumed++
					p.Release(f)
				}
				if consumed != published {
					t.Errorf("consumed %d frames, producer published %d", consumed, published)
				}
				if p.FreeLen() != 8 {
					t.Errorf("pool leaked frames: free ring holds %d of 8", p.FreeLen())
				}
				return
			default:
			}
			continue
		}
		if !first && f.Start <= lastStart {
			t.Fatalf("frame start indices not increasing: %d after %d", f.Start, lastStart)
		}
		first = false
		lastStart = f.Start
		consumed++
		p.Release(f)
	}
}

func TestPoolCycleDoesNotAllocate(t *testing.T) {
	p := NewPool(8, 256)

	allocs := testing.AllocsPerRun(100, func() {
		f, _ := p.AcquireFree()
		p.PublishData(f)
		f, _ = p.PopData()
		p.Release(f)
	})
	if allocs > 0 {
		t.Errorf("pool cycle allocated %.1f times per run, want 0", allocs)
	}
}

func BenchmarkPoolCycle(b *testing.B) {
	p := NewPool(16, 2048)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		f, _ := p.AcquireFree()
		p.PublishData(f)
		f, _ = p.PopData()
		p.Release(f)
	}
}
