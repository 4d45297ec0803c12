// Package transcript consumes the downstream message stream of a livescribe
// session.
//
// A [Consumer] keeps an append-only transcript: every transcription fragment
// is appended in arrival order and the full text is the fragments joined by
// single spaces. Nothing already appended is ever edited or removed. When
// voice output is enabled each fragment is handed to a [Synthesizer] exactly
// once.
package transcript

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/livescribe/pkg/protocol"
)

// Synthesizer queues text for spoken output. Speak must not wait for the
// utterance to finish playing; speech.Queue implements it.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Option configures a [Consumer].
type Option func(*Consumer)

// WithVoice sets the initial voice output state. Default: off.
func WithVoice(enabled bool) Option {
	return func(c *Consumer) { c.voice = enabled }
}

// WithOnUpdate registers a callback invoked after every appended fragment
// with the fragment and the full transcript.
func WithOnUpdate(fn func(fragment, full string)) Option {
	return func(c *Consumer) { c.onUpdate = fn }
}

// WithOnError registers a callback for error messages from the server and
// for synthesis failures.
func WithOnError(fn func(error)) Option {
	return func(c *Consumer) { c.onError = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.log = l }
}

// Consumer accumulates transcription fragments. All methods are safe for
// concurrent use; messages are processed in the order Handle is called.
type Consumer struct {
	synth    Synthesizer
	onUpdate func(fragment, full string)
	onError  func(error)
	log      *slog.Logger

	// handleMu serialises Handle so Speak calls follow arrival order.
	handleMu sync.Mutex

	mu        sync.Mutex
	fragments []string
	voice     bool
	lastErr   string
}

// New creates a Consumer. synth may be nil, in which case voice output is
// never triggered.
func New(synth Synthesizer, opts ...Option) *Consumer {
	c := &Consumer{synth: synth}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// ServerError is a downstream error message reported by the relay.
type ServerError struct {
	Message string
}

// Error implements error.
func (e *ServerError) Error() string { return "server: " + e.Message }

// Handle processes one downstream message.
func (c *Consumer) Handle(ctx context.Context, msg protocol.Message) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	switch msg.Type {
	case protocol.TypeTranscription:
		c.mu.Lock()
		c.fragments = append(c.fragments, msg.Text)
		full := strings.Join(c.fragments, " ")
		speak := c.voice && c.synth != nil
		c.mu.Unlock()

		if c.onUpdate != nil {
			c.onUpdate(msg.Text, full)
		}
		if speak {
			if err := c.synth.Speak(ctx, msg.Text); err != nil {
				c.log.Warn("speech synthesis failed", "err", err)
				c.reportError(err)
			}
		}
	case protocol.TypeError:
		c.mu.Lock()
		c.lastErr = msg.ErrMessage
		c.mu.Unlock()
		c.log.Warn("server reported error", "message", msg.ErrMessage)
		c.reportError(&ServerError{Message: msg.ErrMessage})
	default:
		c.log.Debug("ignoring message", "type", msg.Type)
	}
}

// Run handles messages until msgs is closed or ctx is done. It returns nil
// when msgs closes and ctx's error otherwise.
func (c *Consumer) Run(ctx context.Context, msgs <-chan protocol.Message) error {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.Handle(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetVoiceEnabled toggles voice output for future fragments. Utterances
// already handed to the synthesizer are not cancelled.
func (c *Consumer) SetVoiceEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = enabled
}

// VoiceEnabled reports whether voice output is on.
func (c *Consumer) VoiceEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

// Transcript returns all fragments joined by single spaces.
func (c *Consumer) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.fragments, " ")
}

// Fragments returns a copy of the received fragments in arrival order.
func (c *Consumer) Fragments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fragments...)
}

// LastError returns the message of the most recent server error, or "".
func (c *Consumer) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Consumer) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
