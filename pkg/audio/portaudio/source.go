package portaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Source captures from a PortAudio input device.
type Source struct {
	// DeviceID selects the input device; empty means the host default.
	DeviceID string

	// FramesPerBuffer is the number of samples per channel in each delivered
	// frame. Default: 1024.
	FramesPerBuffer int
}

// RequestPermission checks that the input device can be reached. PortAudio
// has no consent prompt of its own; hosts that gate microphone access fail
// the device query, which is reported as [audio.ErrPermissionDenied].
func (s *Source) RequestPermission(context.Context) error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	if _, err := lookup(s.DeviceID, true); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return nil
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	dev, err := lookup(s.DeviceID, true)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: input device: %w", err)
	}

	fpb := s.FramesPerBuffer
	if fpb <= 0 {
		fpb = defaultFramesPerBuffer
	}
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = fpb

	buf := make([]int16, fpb*f.Channels)
	st, err := pa.OpenStream(params, buf)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	is := &inputStream{
		st:     st,
		buf:    buf,
		format: f,
		frames: make(chan audio.Frame, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go is.readLoop()
	return is, nil
}

type inputStream struct {
	st     *pa.Stream
	buf    []int16
	format audio.Format
	frames chan audio.Frame
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *inputStream) readLoop() {
	defer close(s.done)
	defer close(s.frames)

	var pos time.Duration
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.st.Read(); err != nil && !isOverflow(err) {
			s.mu.Lock()
			s.err = fmt.Errorf("portaudio: read: %w", err)
			s.mu.Unlock()
			return
		}
		f := audio.Frame{
			Data:       audio.PCM(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  pos,
		}
		pos += f.Duration()
		select {
		case s.frames <- f:
		case <-s.stop:
			return
		}
	}
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

func (s *inputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if stopErr := s.st.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop input stream: %w", stopErr)
		}
		if closeErr := s.st.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close input stream: %w", closeErr)
		}
		pa.Terminate()
	})
	return err
}
