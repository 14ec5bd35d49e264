// SPDX-License-Identifier: MIT
package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// FixtureBackend replays a mono WAV file as if it were live capture,
// at the wall-clock rate of the configured stream. It is used by the
// CLI for offline runs against recorded material; playback output is
// discarded. The file loops when it runs out.
type FixtureBackend struct {
	sampleRate uint32
	frames     int
	samples    []float32

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFixtureBackend decodes the WAV file up front. Multi-channel
// files are mixed down to mono by averaging.
func NewFixtureBackend(path string, sampleRate uint32, frames int) (*FixtureBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("fixture: decode %s: %w", path, err)
	}

	floats := pcm.AsFloat32Buffer()
	channels := pcm.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	samples := make([]float32, 0, len(floats.Data)/channels)
	for i := 0; i+channels <= len(floats.Data); i += channels {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += floats.Data[i+c]
		}
		samples = append(samples, sum/float32(channels))
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("fixture: %s contains no samples", path)
	}

	return &FixtureBackend{
		sampleRate: sampleRate,
		frames:     frames,
		samples:    samples,
	}, nil
}

func (b *FixtureBackend) Start(cb Callback) error {
	b.stop = make(chan struct{})
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		in := make([]float32, b.frames)
		out := make([]float32, b.frames)
		pos := 0

		ticker := time.NewTicker(tickerInterval(b.sampleRate, b.frames))
		defer ticker.Stop()

		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
			}

			for i := range in {
				in[i] = b.samples[pos]
				pos++
				if pos == len(b.samples) {
					pos = 0
				}
			}
			cb(in, out)
		}
	}()
	return nil
}

func (b *FixtureBackend) Stop() error {
	if b.stop == nil {
		return nil
	}
	close(b.stop)
	b.wg.Wait()
	b.stop = nil
	return nil
}
