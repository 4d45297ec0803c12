package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Player plays PCM frames on a PortAudio output device. The output stream is
// opened on first use and reopened whenever the frame format changes.
type Player struct {
	// DeviceID selects the output device; empty means the host default.
	DeviceID string

	// FramesPerBuffer is the write granularity. Default: 1024.
	FramesPerBuffer int

	mu     sync.Mutex
	st     *pa.Stream
	buf    []int16
	format audio.Format
}

// Play implements [audio.Player]. It returns once the last buffer has been
// written to the device, or early with ctx's error.
func (p *Player) Play(ctx context.Context, f audio.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensure(f.Format()); err != nil {
		return err
	}

	samples := audio.Samples(f.Data)
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.buf, samples)
		clear(p.buf[n:])
		samples = samples[n:]
		if err := p.st.Write(); err != nil && !isOverflow(err) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// ensure opens an output stream for f. Must be called with p.mu held.
func (p *Player) ensure(f audio.Format) error {
	if p.st != nil && p.format == f {
		return nil
	}
	p.release()

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	dev, err := lookup(p.DeviceID, false)
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("portaudio: output device: %w", err)
	}

	fpb := p.FramesPerBuffer
	if fpb <= 0 {
		fpb = defaultFramesPerBuffer
	}
	params := pa.LowLatencyParameters(nil, dev)
	params.Output.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = fpb

	buf := make([]int16, fpb*f.Channels)
	st, err := pa.OpenStream(params, buf)
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		pa.Terminate()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	p.st, p.buf, p.format = st, buf, f
	return nil
}

// release closes the current stream. Must be called with p.mu held.
func (p *Player) release() {
	if p.st == nil {
		return
	}
	_ = p.st.Stop()
	_ = p.st.Close()
	pa.Terminate()
	p.st, p.buf = nil, nil
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
	return nil
}
