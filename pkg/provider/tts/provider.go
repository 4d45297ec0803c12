// Package tts defines the Provider interface for text-to-speech backends.
//
// A Provider turns one transcript fragment into playable PCM in a single
// batch call. Fragments are short, so there is no streaming interface; the
// speech queue plays each result before synthesising the next.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as 16-bit PCM. The returned frame carries the
	// backend's native sample rate and channel count.
	//
	// Returns an error if the backend cannot be reached, rejects the text, or
	// returns audio that cannot be decoded.
	Synthesize(ctx context.Context, text string) (audio.Frame, error)
}
