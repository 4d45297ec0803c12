package stt

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap("groq", nil) != nil {
		t.Fatal("Wrap(nil) must return nil")
	}

	cause := errors.New("502 bad gateway")
	err := Wrap("groq", cause)
	if !IsTranscriptionError(err) {
		t.Fatalf("Wrap did not produce a TranscriptionError: %T", err)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error does not unwrap to cause")
	}
	if got, want := err.Error(), "transcription failed (groq): 502 bad gateway"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	// Wrapping twice keeps the original attribution.
	again := Wrap("fallback", fmt.Errorf("outer: %w", err))
	var te *TranscriptionError
	if !errors.As(again, &te) || te.Backend != "groq" {
		t.Errorf("rewrapped backend = %v, want groq", te)
	}
}

func TestTranscriberFunc(t *testing.T) {
	var got []byte
	f := TranscriberFunc(func(_ context.Context, audio []byte) (Result, error) {
		got = audio
		return Result{Text: "ok"}, nil
	})
	res, err := f.Transcribe(context.Background(), []byte{1, 2})
	if err != nil || res.Text != "ok" || len(got) != 2 {
		t.Errorf("res=%+v err=%v got=%v", res, err, got)
	}
}
