// Package portaudio implements the [audio] capabilities on top of the
// PortAudio library: microphone capture, device listing, and PCM playback.
//
// Every handle initialises PortAudio on acquisition and terminates it on
// release; PortAudio reference-counts these calls, so handles are independent.
//
// Device IDs are PortAudio device indices rendered as decimal strings. An
// empty ID selects the host default.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
)

var (
	_ audio.Source           = (*Source)(nil)
	_ audio.DeviceEnumerator = (*Enumerator)(nil)
	_ audio.Player           = (*Player)(nil)
)

// defaultFramesPerBuffer gives 64 ms buffers at 16 kHz.
const defaultFramesPerBuffer = 1024

// Enumerator lists PortAudio devices.
type Enumerator struct{}

// Devices implements [audio.DeviceEnumerator].
func (Enumerator) Devices(ctx context.Context) ([]audio.Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()

	out := make([]audio.Device, 0, len(infos))
	for i, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, audio.Device{
			ID:                strconv.Itoa(i),
			Name:              info.Name,
			InputChannels:     info.MaxInputChannels,
			OutputChannels:    info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			DefaultInput:      defIn != nil && info.Name == defIn.Name && info.MaxInputChannels > 0,
			DefaultOutput:     defOut != nil && info.Name == defOut.Name && info.MaxOutputChannels > 0,
		})
	}
	return out, nil
}

// lookup resolves id to a device. PortAudio must be initialised.
func lookup(id string, input bool) (*pa.DeviceInfo, error) {
	if id == "" {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	idx, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid device id %q", id)
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(infos) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", idx, len(infos))
	}
	info := infos[idx]
	if input && info.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %q has no input channels", info.Name)
	}
	if !input && info.MaxOutputChannels == 0 {
		return nil, fmt.Errorf("device %q has no output channels", info.Name)
	}
	return info, nil
}

// isOverflow reports whether err is a recoverable buffer overrun/underrun.
func isOverflow(err error) bool {
	return errors.Is(err, pa.InputOverflowed) || errors.Is(err, pa.OutputUnderflowed)
}
