// Package speech plays transcript fragments aloud.
//
// A [Queue] accepts utterances from any goroutine and renders them one at a
// time on a single dispatch goroutine: synthesise with a [tts.Provider], then
// play the PCM on an [audio.Player]. Utterances are played in the order they
// were queued. A new utterance never interrupts the current one and
// duplicates are spoken as often as they are queued.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/tts"
)

// ErrClosed is returned by [Queue.Speak] after [Queue.Close].
var ErrClosed = errors.New("speech: queue closed")

// DefaultGap is the silence inserted between consecutive utterances.
const DefaultGap = 150 * time.Millisecond

// Option configures a [Queue].
type Option func(*Queue)

// WithGap sets the base silence between consecutive utterances. Jitter of
// ±1/6 of the gap is applied. Zero disables the gap.
func WithGap(d time.Duration) Option {
	return func(q *Queue) { q.gap = d }
}

// WithOnError registers a callback for synthesis and playback failures. It
// is called from the dispatch goroutine.
func WithOnError(fn func(text string, err error)) Option {
	return func(q *Queue) { q.onError = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue is a FIFO of utterances rendered by one background goroutine. All
// exported methods are safe for concurrent use.
type Queue struct {
	provider tts.Provider
	player   audio.Player
	gap      time.Duration
	onError  func(string, error)
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []string
	closed  bool
	spoken  int

	notify chan struct{}
	done   chan struct{}
}

// New creates a Queue and starts its dispatch goroutine. Call [Queue.Close]
// to stop it.
func New(provider tts.Provider, player audio.Player, opts ...Option) *Queue {
	q := &Queue{
		provider: provider,
		player:   player,
		gap:      DefaultGap,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.log == nil {
		q.log = slog.Default()
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.dispatch()
	return q
}

// Speak queues text and returns immediately. Blank text is ignored.
func (q *Queue) Speak(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, text)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of utterances waiting to be rendered, excluding the
// one currently playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Spoken returns the number of utterances that finished playing.
func (q *Queue) Spoken() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spoken
}

// Close discards queued utterances, aborts the current one, waits for the
// dispatch goroutine and closes the player. Subsequent calls are no-ops.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done
	if dropped > 0 {
		q.log.Debug("speech queue closed with pending utterances", "dropped", dropped)
	}
	if err := q.player.Close(); err != nil {
		return fmt.Errorf("speech: close player: %w", err)
	}
	return nil
}

func (q *Queue) dispatch() {
	defer close(q.done)

	var lastPlayed bool
	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
		}

		for {
			text, ok := q.next()
			if !ok {
				break
			}
			if lastPlayed {
				if d := q.gapWithJitter(); d > 0 {
					gapTimer.Reset(d)
					select {
					case <-q.ctx.Done():
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						return
					case <-gapTimer.C:
					}
				}
			}
			lastPlayed = q.render(text)
		}
	}
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return "", false
	}
	text := q.pending[0]
	q.pending = q.pending[1:]
	return text, true
}

// render synthesises and plays one utterance. It reports whether audio was
// played.
func (q *Queue) render(text string) bool {
	frame, err := q.provider.Synthesize(q.ctx, text)
	if err != nil {
		q.fail(text, fmt.Errorf("speech: synthesize: %w", err))
		return false
	}
	if len(frame.Data) == 0 {
		return false
	}
	if err := q.player.Play(q.ctx, frame); err != nil {
		q.fail(text, fmt.Errorf("speech: play: %w", err))
		return false
	}

	q.mu.Lock()
	q.spoken++
	q.mu.Unlock()
	q.log.Debug("utterance played", "chars", len(text), "duration", frame.Duration())
	return true
}

func (q *Queue) fail(text string, err error) {
	if q.ctx.Err() != nil {
		return
	}
	q.log.Warn("utterance failed", "err", err)
	if q.onError != nil {
		q.onError(text, err)
	}
}

func (q *Queue) gapWithJitter() time.Duration {
	base := q.gap
	if base <= 0 {
		return 0
	}
	jitter := base / 6
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(2*jitter+1))) - jitter
}
