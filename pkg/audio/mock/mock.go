// Package mock provides in-memory implementations of the [audio.Source],
// [audio.Stream], [audio.DeviceEnumerator], [audio.Player] and
// [audio.LevelAnalyzer] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert that every acquired resource was released.
//
// Typical usage:
//
//	stream := mock.NewStream(4)
//	src := &mock.Source{Stream: stream}
//	// ... start a capture session on src ...
//	stream.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source].
type Source struct {
	mu sync.Mutex

	// PermissionErr is returned by RequestPermission.
	PermissionErr error

	// OpenErr is returned by Open.
	OpenErr error

	// Stream is returned by Open. When nil, Open creates a fresh buffered
	// stream per call.
	Stream *Stream

	// PermissionRequests counts RequestPermission calls.
	PermissionRequests int

	// Opened records the format of every successful Open.
	Opened []audio.Format

	streams []*Stream
}

// RequestPermission implements [audio.Source].
func (s *Source) RequestPermission(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PermissionRequests++
	return s.PermissionErr
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := s.Stream
	if st == nil {
		st = NewStream(16)
	}
	s.Opened = append(s.Opened, f)
	s.streams = append(s.streams, st)
	return st, nil
}

// OpenCount returns the number of successful Open calls.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Opened)
}

// Streams returns every stream handed out by Open.
func (s *Source) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by [Stream.Push].
type Stream struct {
	frames chan audio.Frame

	mu      sync.Mutex
	closed  bool
	ended   bool
	err     error
	closeCt int
}

// NewStream returns a Stream whose frame channel has the given capacity.
func NewStream(capacity int) *Stream {
	return &Stream{frames: make(chan audio.Frame, capacity)}
}

// Push delivers f to the consumer. It is a no-op once the stream has ended.
func (s *Stream) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frames <- f
}

// Fail ends the stream with err, as a device failure would.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.ended = true
	close(s.frames)
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCt++
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── DeviceEnumerator ────────────────────────────────────────────────────────

// DeviceEnumerator is a mock [audio.DeviceEnumerator].
type DeviceEnumerator struct {
	Result []audio.Device
	Err    error
}

// Devices implements [audio.DeviceEnumerator].
func (d *DeviceEnumerator) Devices(context.Context) ([]audio.Device, error) {
	return d.Result, d.Err
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player] that records every frame.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play.
	PlayErr error

	// Gate, if non-nil, is received from before Play returns.
	Gate chan struct{}

	frames []audio.Frame
	closed bool
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, f audio.Frame) error {
	p.mu.Lock()
	gate := p.Gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return p.PlayErr
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Frames returns a copy of every played frame.
func (p *Player) Frames() []audio.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Frame(nil), p.frames...)
}

// Closed reports whether Close has been called.
func (p *Player) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ─── LevelAnalyzer ───────────────────────────────────────────────────────────

// LevelAnalyzer is a mock [audio.LevelAnalyzer] returning a fixed level.
type LevelAnalyzer struct {
	mu     sync.Mutex
	Value  float64
	calls  int
	closed bool
}

// Level implements [audio.LevelAnalyzer].
func (a *LevelAnalyzer) Level(audio.Frame) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.Value
}

// Close implements [audio.LevelAnalyzer].
func (a *LevelAnalyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Calls returns the number of Level calls.
func (a *LevelAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Closed reports whether Close has been called.
func (a *LevelAnalyzer) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

var (
	_ audio.Source           = (*Source)(nil)
	_ audio.Stream           = (*Stream)(nil)
	_ audio.DeviceEnumerator = (*DeviceEnumerator)(nil)
	_ audio.Player           = (*Player)(nil)
	_ audio.LevelAnalyzer    = (*LevelAnalyzer)(nil)
)
