package transcript

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/protocol"
)

// recordingSynth records every Speak call.
type recordingSynth struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingSynth) Speak(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recordingSynth) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestConsumer_AppendOnlyTranscript(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
	}{
		{"single", []string{"hello"}},
		{"several", []string{"the quick", "brown fox", "jumps"}},
		{"with empty fragment", []string{"a", "", "b"}},
		{"punctuation kept", []string{"Hello,", "world!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			var prev string
			for i, text := range tt.texts {
				c.Handle(context.Background(), protocol.Transcription(text))

				got := c.Transcript()
				want := strings.Join(tt.texts[:i+1], " ")
				if got != want {
					t.Fatalf("after %d messages transcript = %q, want %q", i+1, got, want)
				}
				if !strings.HasPrefix(got, prev) {
					t.Fatalf("transcript %q rewrote earlier content %q", got, prev)
				}
				prev = got
			}
			if got := c.Fragments(); len(got) != len(tt.texts) {
				t.Errorf("Fragments len = %d, want %d", len(got), len(tt.texts))
			}
		})
	}
}

func TestConsumer_ErrorsDoNotAlterTranscript(t *testing.T) {
	var reported []error
	c := New(nil, WithOnError(func(err error) { reported = append(reported, err) }))
	ctx := context.Background()

	c.Handle(ctx, protocol.Transcription("one"))
	c.Handle(ctx, protocol.Error("backend unavailable"))
	c.Handle(ctx, protocol.Transcription("two"))

	if got := c.Transcript(); got != "one two" {
		t.Errorf("transcript = %q, want %q", got, "one two")
	}
	if c.LastError() != "backend unavailable" {
		t.Errorf("LastError = %q", c.LastError())
	}
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
	var se *ServerError
	if !errors.As(reported[0], &se) || se.Message != "backend unavailable" {
		t.Errorf("reported %v, want *ServerError", reported[0])
	}
}

func TestConsumer_VoiceTriggersExactlyOncePerMessage(t *testing.T) {
	texts := []string{"first", "second", "second", "third"}

	t.Run("enabled", func(t *testing.T) {
		synth := &recordingSynth{}
		c := New(synth, WithVoice(true))
		for _, text := range texts {
			c.Handle(context.Background(), protocol.Transcription(text))
		}
		got := synth.Texts()
		if len(got) != len(texts) {
			t.Fatalf("Speak called %d times, want %d", len(got), len(texts))
		}
		for i := range texts {
			if got[i] != texts[i] {
				t.Errorf("utterance %d = %q, want %q", i, got[i], texts[i])
			}
		}
	})

	t.Run("disabled", func(t *testing.T) {
		synth := &recordingSynth{}
		c := New(synth)
		for _, text := range texts {
			c.Handle(context.Background(), protocol.Transcription(text))
		}
		if n := len(synth.Texts()); n != 0 {
			t.Fatalf("Speak called %d times with voice off, want 0", n)
		}
	})

	t.Run("error messages never speak", func(t *testing.T) {
		synth := &recordingSynth{}
		c := New(synth, WithVoice(true))
		c.Handle(context.Background(), protocol.Error("nope"))
		if n := len(synth.Texts()); n != 0 {
			t.Fatalf("Speak called %d times, want 0", n)
		}
	})
}

func TestConsumer_ToggleAffectsOnlyFutureMessages(t *testing.T) {
	synth := &recordingSynth{}
	c := New(synth, WithVoice(true))
	ctx := context.Background()

	c.Handle(ctx, protocol.Transcription("spoken"))
	c.SetVoiceEnabled(false)
	if c.VoiceEnabled() {
		t.Fatal("VoiceEnabled = true after disabling")
	}
	c.Handle(ctx, protocol.Transcription("silent"))
	c.SetVoiceEnabled(true)
	c.Handle(ctx, protocol.Transcription("spoken again"))

	got := synth.Texts()
	want := []string{"spoken", "spoken again"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("utterances = %q, want %q", got, want)
	}
	if c.Transcript() != "spoken silent spoken again" {
		t.Errorf("transcript = %q", c.Transcript())
	}
}

func TestConsumer_SynthesisFailureReported(t *testing.T) {
	synthErr := errors.New("no audio device")
	var got error
	c := New(&recordingSynth{err: synthErr}, WithVoice(true), WithOnError(func(err error) { got = err }))

	c.Handle(context.Background(), protocol.Transcription("hi"))
	if !errors.Is(got, synthErr) {
		t.Errorf("OnError got %v, want synthesis error", got)
	}
	if c.Transcript() != "hi" {
		t.Errorf("transcript = %q, want hi", c.Transcript())
	}
}

func TestConsumer_OnUpdate(t *testing.T) {
	var fragments, fulls []string
	c := New(nil, WithOnUpdate(func(fragment, full string) {
		fragments = append(fragments, fragment)
		fulls = append(fulls, full)
	}))
	c.Handle(context.Background(), protocol.Transcription("a"))
	c.Handle(context.Background(), protocol.Transcription("b"))

	if strings.Join(fragments, ",") != "a,b" || fulls[1] != "a b" {
		t.Errorf("fragments=%q fulls=%q", fragments, fulls)
	}
}

func TestConsumer_Run(t *testing.T) {
	c := New(nil)
	msgs := make(chan protocol.Message, 3)
	msgs <- protocol.Transcription("x")
	msgs <- protocol.Transcription("y")
	close(msgs)

	if err := c.Run(context.Background(), msgs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.Transcript() != "x y" {
		t.Errorf("transcript = %q", c.Transcript())
	}
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan protocol.Message)) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
