// SPDX-License-Identifier: MIT
package dsp

import (
	"testing"

	"beatbox/pkg/testsig"
)

// feed pushes a signal through the detector in fixed-size chunks,
// collecting all reported onsets.
func feed(d *OnsetDetector, signal []float32, chunk int, start uint64) []uint64 {
	var onsets []uint64
	for off := 0; off < len(signal); off += chunk {
		end := min(off+chunk, len(signal))
		onsets = append(onsets, d.Process(signal[off:end], start+uint64(off))...)
	}
	return onsets
}

func TestOnsetSilenceProducesNothing(t *testing.T) {
	d := NewOnsetDetector(DefaultOnsetParams())
	onsets := feed(d, testsig.Silence(48000), 512, 0)
	if len(onsets) != 0 {
		t.Errorf("silence produced %d onsets: %v", len(onsets), onsets)
	}
}

func TestOnsetDetectsImpulses(t *testing.T) {
	positions := []int{8000, 24000, 40000}
	signal := testsig.Impulses(48000, positions...)

	d := NewOnsetDetector(DefaultOnsetParams())
	onsets := feed(d, signal, 512, 0)

	if len(onsets) != len(positions) {
		t.Fatalf("detected %d onsets, want %d: %v", len(onsets), len(positions), onsets)
	}
	for i, pos := range positions {
		diff := int64(onsets[i]) - int64(pos)
		if diff < -int64(DefaultOnsetWindowSize) || diff > int64(DefaultOnsetWindowSize) {
			t.Errorf("onset %d at sample %d, want within %d of %d",
				i, onsets[i], DefaultOnsetWindowSize, pos)
		}
	}
}

func TestOnsetTimestampsMonotonic(t *testing.T) {
	signal := testsig.Impulses(96000, 10000, 30000, 50000, 70000, 90000)
	d := NewOnsetDetector(DefaultOnsetParams())
	onsets := feed(d, signal, 2048, 0)

	for i := 1; i < len(onsets); i++ {
		if onsets[i] <= onsets[i-1] {
			t.Fatalf("onset timestamps not increasing: %v", onsets)
		}
	}
}

func TestOnsetChunkSizeInvariance(t *testing.T) {
	signal := testsig.Impulses(48000, 12000, 36000)

	var results [][]uint64
	for _, chunk := range []int{256, 512, 2048} {
		d := NewOnsetDetector(DefaultOnsetParams())
		results = append(results, append([]uint64(nil), feed(d, signal, chunk, 0)...))
	}

	for i := 1; i < len(results); i++ {
		if len(results[i]) != len(results[0]) {
			t.Fatalf("chunking changed onset count: %v vs %v", results[0], results[i])
		}
		for j := range results[i] {
			if results[i][j] != results[0][j] {
				t.Fatalf("chunking changed onset timestamps: %v vs %v", results[0], results[i])
			}
		}
	}
}

func TestOnsetAbsoluteTimestamps(t *testing.T) {
	// A stream that does not begin at sample 0 must still report
	// absolute positions.
	const base = uint64(1 << 20)
	signal := testsig.Impulses(24000, 12000)

	d := NewOnsetDetector(DefaultOnsetParams())
	onsets := feed(d, signal, 512, base)

	if len(onsets) != 1 {
		t.Fatalf("detected %d onsets, want 1", len(onsets))
	}
	want := base + 12000
	diff := int64(onsets[0]) - int64(want)
	if diff < -int64(DefaultOnsetWindowSize) || diff > int64(DefaultOnsetWindowSize) {
		t.Errorf("onset at %d, want within %d of %d", onsets[0], DefaultOnsetWindowSize, want)
	}
}

func TestOnsetResyncAfterGap(t *testing.T) {
	d := NewOnsetDetector(DefaultOnsetParams())

	// Continuous audio, then a dropped region, then an impulse. The
	// detector must not report anything inside the gap and must place
	// the post-gap onset correctly.
	feed(d, testsig.Silence(8192), 512, 0)

	after := testsig.Impulses(16384, 8000)
	onsets := feed(d, after, 512, 50000)

	if len(onsets) != 1 {
		t.Fatalf("detected %d onsets after gap, want 1: %v", len(onsets), onsets)
	}
	want := uint64(50000 + 8000)
	diff := int64(onsets[0]) - int64(want)
	if diff < -int64(DefaultOnsetWindowSize) || diff > int64(DefaultOnsetWindowSize) {
		t.Errorf("post-gap onset at %d, want within %d of %d",
			onsets[0], DefaultOnsetWindowSize, want)
	}
}

func TestOnsetSteadyStateDoesNotAllocate(t *testing.T) {
	d := NewOnsetDetector(DefaultOnsetParams())
	chunk := testsig.Silence(512)

	// Warm up until the flux history reaches its steady-state length.
	var start uint64
	for i := 0; i < 32; i++ {
		d.Process(chunk, start)
		start += 512
	}

	allocs := testing.AllocsPerRun(100, func() {
		d.Process(chunk, start)
		start += 512
	})
	if allocs > 0 {
		t.Errorf("steady-state Process allocated %.1f times per run, want 0", allocs)
	}
}

func BenchmarkOnsetProcess(b *testing.B) {
	d := NewOnsetDetector(DefaultOnsetParams())
	chunk := testsig.Noise(2048)
	b.ReportAllocs()

	var start uint64
	for i := 0; i < b.N; i++ {
		d.Process(chunk, start)
		start += 2048
	}
}
