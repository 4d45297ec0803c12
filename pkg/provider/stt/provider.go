// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber wraps a single batch call to an external recognition engine:
// it receives the full byte content of an encoded audio buffer and returns the
// recognised text. Implementations are stateless per call and perform no local
// validation of the audio format beyond packaging it for the backend.
//
// Every failure is reported as a [*TranscriptionError] so that callers can
// treat backend problems uniformly as recoverable.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe sends audio to the backend and returns the recognised text.
	// The audio slice must not be modified by the implementation.
	//
	// Returns a *TranscriptionError when the backend call fails, the context
	// is cancelled, or the response cannot be parsed.
	Transcribe(ctx context.Context, audio []byte) (Result, error)
}

// TranscriberFunc adapts an ordinary function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, audio []byte) (Result, error)

// Transcribe calls f(ctx, audio).
func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	return f(ctx, audio)
}
