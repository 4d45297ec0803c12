package tts

import "fmt"

// SynthesisError reports a failed [Provider.Synthesize] call.
type SynthesisError struct {
	// Backend names the provider, e.g. "openai" or "coqui".
	Backend string

	Err error
}

// Error implements error.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tts %s: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error { return e.Err }
