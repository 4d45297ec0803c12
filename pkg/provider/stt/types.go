package stt

import (
	"errors"
	"fmt"
)

// Result is the immutable outcome of a successful transcription.
type Result struct {
	// Text is the recognised speech content. May be empty for silent audio.
	Text string
}

// TranscriptionError classifies any failure of a backend call. It is always
// recoverable from the caller's point of view: the connection that triggered
// the call stays usable.
type TranscriptionError struct {
	// Backend names the implementation that failed (e.g. "groq", "whisper").
	Backend string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *TranscriptionError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("transcription failed: %v", e.Err)
	}
	return fmt.Sprintf("transcription failed (%s): %v", e.Backend, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TranscriptionError) Unwrap() error { return e.Err }

// Wrap returns err as a *TranscriptionError attributed to backend. A nil err
// returns nil, and an error that already is a TranscriptionError is returned
// unchanged.
func Wrap(backend string, err error) error {
	if err == nil {
		return nil
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return err
	}
	return &TranscriptionError{Backend: backend, Err: err}
}

// IsTranscriptionError reports whether err is or wraps a *TranscriptionError.
func IsTranscriptionError(err error) bool {
	var te *TranscriptionError
	return errors.As(err, &te)
}
