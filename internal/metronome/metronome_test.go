// SPDX-License-Identifier: MIT
package metronome

import "testing"

func TestSamplesPerBeat(t *testing.T) {
	tests := []struct {
		bpm        uint32
		sampleRate uint32
		expected   uint64
	}{
		{120, 48000, 24000},
		{60, 48000, 48000},
		{240, 48000, 12000},
		{100, 48000, 28800},
		{120, 44100, 22050},
		{0, 48000, 0},
	}

	for _, tt := range tests {
		if got := SamplesPerBeat(tt.bpm, tt.sampleRate); got != tt.expected {
			t.Errorf("SamplesPerBeat(%d, %d) = %d, want %d",
				tt.bpm, tt.sampleRate, got, tt.expected)
		}
	}
}

func TestIsOnBeatExactness(t *testing.T) {
	const bpm, sr = 120, 48000
	spb := SamplesPerBeat(bpm, sr)

	// Every multiple of spb is on the beat.
	for k := uint64(0); k < 16; k++ {
		if !IsOnBeat(k*spb, bpm, sr) {
			t.Errorf("frame %d (beat %d) should be on beat", k*spb, k)
		}
	}

	// Nothing strictly inside a beat period is.
	offsets := []uint64{1, 2, 100, spb / 2, spb - 1}
	for k := uint64(0); k < 4; k++ {
		for _, d := range offsets {
			if IsOnBeat(k*spb+d, bpm, sr) {
				t.Errorf("frame %d (beat %d + %d) should not be on beat", k*spb+d, k, d)
			}
		}
	}
}

func TestIsOnBeatZeroBPM(t *testing.T) {
	if IsOnBeat(0, 0, 48000) {
		t.Error("zero BPM must never report a beat")
	}
}

func TestGenerateClickDuration(t *testing.T) {
	for _, sr := range []uint32{44100, 48000, 96000} {
		click := GenerateClick(sr, DefaultClickDurationMs)
		expected := int(uint64(sr) * DefaultClickDurationMs / 1000)
		if len(click) != expected {
			t.Errorf("click at %d Hz: %d samples, want %d", sr, len(click), expected)
		}
	}
}

func TestGenerateClickRange(t *testing.T) {
	click := GenerateClick(48000, DefaultClickDurationMs)
	for i, s := range click {
		if s < -1.0 || s > 1.0 {
			t.Fatalf("click sample %d = %f out of [-1, 1]", i, s)
		}
	}
}

func TestGenerateClickDeterministic(t *testing.T) {
	a := GenerateClick(48000, DefaultClickDurationMs)
	b := GenerateClick(48000, DefaultClickDurationMs)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func BenchmarkIsOnBeat(b *testing.B) {
	b.ReportAllocs()
	frame := uint64(0)
	for i := 0; i < b.N; i++ {
		_ = IsOnBeat(frame, 120, 48000)
		frame++
	}
}
