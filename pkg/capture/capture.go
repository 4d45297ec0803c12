// Package capture drives a client recording session: it acquires the
// microphone, packages captured audio into chunks, and forwards each chunk
// upstream.
//
// A [Session] moves through Idle → PermissionPending → Recording → Stopping →
// Idle. The microphone stream and the level analyzer belong to one recording
// and are released on every exit path: [Session.Stop], a stream or send
// failure, and [Session.Close].
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/wav"
)

// ErrPermissionDenied is the sentinel every [*PermissionError] matches.
var ErrPermissionDenied = audio.ErrPermissionDenied

// ErrClosed is returned by [Session.Start] after [Session.Close].
var ErrClosed = errors.New("capture: session closed")

// PermissionError reports that microphone access was refused. No audio is
// sent for a session that fails this way.
type PermissionError struct {
	Err error
}

// Error implements error.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("capture: microphone permission denied: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *PermissionError) Unwrap() error { return e.Err }

// Is makes every PermissionError match [ErrPermissionDenied].
func (e *PermissionError) Is(target error) bool { return target == ErrPermissionDenied }

// State is the recording state of a [Session].
type State int

const (
	StateIdle State = iota
	StatePermissionPending
	StateRecording
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePermissionPending:
		return "permission-pending"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ChunkSender forwards an encoded chunk upstream. transport.Channel
// implements it.
type ChunkSender interface {
	SendChunk(ctx context.Context, chunk []byte) error
}

// Encoder packages raw PCM in format f into one self-contained chunk.
type Encoder interface {
	Encode(pcm []byte, f audio.Format) ([]byte, error)
}

// Config configures a [Session]. Source and Sender are required.
type Config struct {
	Source audio.Source
	Sender ChunkSender

	// Encoder defaults to WAV.
	Encoder Encoder

	// Format defaults to [audio.DefaultCaptureFormat].
	Format audio.Format

	// ChunkInterval, when positive, emits a chunk every interval while
	// recording. Zero sends a single chunk when the recording stops.
	ChunkInterval time.Duration

	// NewAnalyzer creates the level analyzer for one recording. Defaults to
	// [audio.RMSAnalyzer].
	NewAnalyzer func() audio.LevelAnalyzer

	// OnLevel receives the loudness of every captured frame. It runs on the
	// capture goroutine and must not block.
	OnLevel func(level float64)

	// OnError receives failures that end a recording on their own: a dead
	// stream, an encoding error, or a failed send.
	OnError func(err error)

	Logger *slog.Logger
}

// Session is a client recording session. All methods are safe for
// concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	state  State
	closed bool
	rec    *recording

	// cancelled is set by Stop while permission is pending; Start honours
	// it once the source returns.
	cancelled bool
}

// New validates cfg and returns an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, errors.New("capture: Source is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("capture: Sender is required")
	}
	if cfg.Encoder == nil {
		cfg.Encoder = wav.Encoder{}
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultCaptureFormat
	}
	if cfg.ChunkInterval < 0 {
		return nil, fmt.Errorf("capture: negative ChunkInterval %v", cfg.ChunkInterval)
	}
	if cfg.NewAnalyzer == nil {
		cfg.NewAnalyzer = func() audio.LevelAnalyzer { return audio.RMSAnalyzer{} }
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{cfg: cfg, log: log}, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns how long the current recording has been running, or zero
// when not recording.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return 0
	}
	return time.Since(s.rec.started)
}

// Start requests microphone access and begins recording. It is a no-op
// unless the session is idle.
//
// A refusal returns a [*PermissionError] and leaves the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StatePermissionPending
	s.cancelled = false
	s.mu.Unlock()

	if err := s.cfg.Source.RequestPermission(ctx); err != nil {
		s.setState(StateIdle)
		if errors.Is(err, ErrPermissionDenied) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("capture: request permission: %w", err)
	}

	// Stop or Close may have run while the user was deciding.
	if abandoned, err := s.abandonIfCancelled(); abandoned {
		return err
	}

	stream, err := s.cfg.Source.Open(ctx, s.cfg.Format)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec := &recording{
		stream:   stream,
		analyzer: s.cfg.NewAnalyzer(),
		started:  time.Now(),
		ctx:      recCtx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed || s.cancelled {
		closed := s.closed
		s.state, s.cancelled = StateIdle, false
		s.mu.Unlock()
		s.discard(rec)
		if closed {
			return ErrClosed
		}
		return nil
	}
	s.rec = rec
	s.state = StateRecording
	s.mu.Unlock()

	s.log.Debug("recording started", "sample_rate", s.cfg.Format.SampleRate, "channels", s.cfg.Format.Channels)
	go s.pump(rec)
	return nil
}

// abandonIfCancelled returns the session to idle when Stop or Close ran
// during the permission request. The error is ErrClosed after Close.
func (s *Session) abandonIfCancelled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && !s.cancelled {
		return false, nil
	}
	s.state, s.cancelled = StateIdle, false
	if s.closed {
		return true, ErrClosed
	}
	return true, nil
}

// discard releases a recording that never reached the pump.
func (s *Session) discard(rec *recording) {
	if err := rec.stream.Close(); err != nil {
		s.log.Debug("closing microphone stream", "err", err)
	}
	audio.Drain(rec.stream.Frames())
	if err := rec.analyzer.Close(); err != nil {
		s.log.Debug("closing level analyzer", "err", err)
	}
	rec.cancel()
}

// Stop finalises the pending chunk, sends it, and releases the microphone.
// It is a no-op when idle. While permission is pending it cancels the
// recording before it starts. If ctx ends first the final send is
// abandoned; resources are released either way.
//
// The returned error is the failure of the final send, if any.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StatePermissionPending {
		s.cancelled = true
		s.mu.Unlock()
		return nil
	}
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	rec := s.rec
	s.mu.Unlock()

	rec.requestStop()
	select {
	case <-rec.done:
	case <-ctx.Done():
		rec.cancel()
		<-rec.done
	}
	return rec.err
}

// Close tears the session down. It stops an active recording, waiting at
// most timeout for the final chunk to be sent, and makes future Start calls
// fail with [ErrClosed]. Safe to call in any state and more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.Stop(ctx)
}

// closeTimeout bounds the final send during Close.
const closeTimeout = 5 * time.Second

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// recording holds the resources of one Recording period.
type recording struct {
	stream   audio.Stream
	analyzer audio.LevelAnalyzer
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// err is written by the pump before done is closed.
	err error
}

func (r *recording) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// pump owns the pending PCM of rec. It returns after rec's resources have
// been released and the session is idle again.
func (s *Session) pump(rec *recording) {
	var pending []byte
	var tick <-chan time.Time
	if s.cfg.ChunkInterval > 0 {
		t := time.NewTicker(s.cfg.ChunkInterval)
		defer t.Stop()
		tick = t.C
	}

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		chunk, err := s.cfg.Encoder.Encode(pending, s.cfg.Format)
		pending = nil
		if err != nil {
			return fmt.Errorf("capture: encode chunk: %w", err)
		}
		if err := s.cfg.Sender.SendChunk(rec.ctx, chunk); err != nil {
			return fmt.Errorf("capture: send chunk: %w", err)
		}
		return nil
	}

	var failure error
	frames := rec.stream.Frames()
loop:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				failure = rec.stream.Err()
				if failure == nil {
					failure = errors.New("capture: microphone stream ended")
				}
				// Audio captured before the device died is still sent.
				if err := flush(); err != nil {
					failure = errors.Join(failure, err)
				}
				break loop
			}
			pending = append(pending, f.Data...)
			level := rec.analyzer.Level(f)
			if s.cfg.OnLevel != nil {
				s.cfg.OnLevel(level)
			}
		case <-tick:
			if err := flush(); err != nil {
				failure = err
				break loop
			}
		case <-rec.stop:
			rec.err = flush()
			break loop
		}
	}

	s.release(rec)
	if failure != nil {
		s.log.Warn("recording ended", "err", failure)
		if s.cfg.OnError != nil {
			s.cfg.OnError(failure)
		}
	}
	close(rec.done)
}

// release frees the stream and analyzer and returns the session to idle.
func (s *Session) release(rec *recording) {
	s.discard(rec)

	s.mu.Lock()
	elapsed := time.Since(rec.started)
	s.rec = nil
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Debug("recording released", "elapsed", elapsed)
}
