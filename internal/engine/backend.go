// SPDX-License-Identifier: MIT
package engine

import (
	"runtime"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Callback processes one duplex audio period: read the captured
// samples from in, write the metronome mix to out. Both slices are
// mono and the same length. The callback runs on the backend's
// real-time cadence and must not allocate or block.
type Callback func(in, out []float32)

// Backend abstracts the platform audio layer. Implementations drive
// the engine callback at a fixed sample rate until stopped.
type Backend interface {
	Start(cb Callback) error
	Stop() error
}

// PortAudioBackend is the live microphone/speaker backend.
type PortAudioBackend struct {
	sampleRate   uint32
	frames       int
	inputDevice  int // -1 selects the system default
	outputDevice int

	stream *portaudio.Stream
}

// NewPortAudioBackend prepares a duplex backend. Device indices of -1
// select the defaults.
func NewPortAudioBackend(sampleRate uint32, frames, inputDevice, outputDevice int) *PortAudioBackend {
	return &PortAudioBackend{
		sampleRate:   sampleRate,
		frames:       frames,
		inputDevice:  inputDevice,
		outputDevice: outputDevice,
	}
}

func (b *PortAudioBackend) Start(cb Callback) error {
	if err := portaudio.Initialize(); err != nil {
		return errHardware(err.Error())
	}

	input, err := b.device(b.inputDevice, true)
	if err != nil {
		portaudio.Terminate()
		return err
	}
	output, err := b.device(b.outputDevice, false)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   input,
			Latency:  input.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   output,
			Latency:  output.DefaultLowOutputLatency,
		},
		FramesPerBuffer: b.frames,
		SampleRate:      float64(b.sampleRate),
	}

	stream, err := portaudio.OpenStream(params, func(in, out []float32) {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		cb(in, out)
	})
	if err != nil {
		portaudio.Terminate()
		return errStreamOpenFailed(err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return errStreamOpenFailed(err)
	}
	b.stream = stream
	return nil
}

func (b *PortAudioBackend) Stop() error {
	if b.stream == nil {
		return nil
	}
	stopErr := b.stream.Stop()
	closeErr := b.stream.Close()
	b.stream = nil
	portaudio.Terminate()

	if stopErr != nil {
		return errStreamFailure(stopErr.Error())
	}
	if closeErr != nil {
		return errStreamFailure(closeErr.Error())
	}
	return nil
}

func (b *PortAudioBackend) device(index int, isInput bool) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		var (
			dev *portaudio.DeviceInfo
			err error
		)
		if isInput {
			dev, err = portaudio.DefaultInputDevice()
		} else {
			dev, err = portaudio.DefaultOutputDevice()
		}
		if err != nil {
			return nil, errHardware(err.Error())
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errHardware(err.Error())
	}
	if index >= len(devices) {
		return nil, errHardware("device index out of range")
	}
	return devices[index], nil
}

// ListDevices enumerates the available audio devices. The backend is
// initialized and terminated around the query.
func ListDevices() ([]*portaudio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errHardware(err.Error())
	}
	defer portaudio.Terminate()
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errHardware(err.Error())
	}
	return devices, nil
}

// tickerInterval returns the wall-clock period of one callback.
func tickerInterval(sampleRate uint32, frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
