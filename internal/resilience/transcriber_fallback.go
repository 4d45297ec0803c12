package resilience

import (
	"context"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// backendName labels errors that are not attributable to a single entry.
const backendName = "fallback"

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// TranscriberFallback is an [stt.Transcriber] that fails over between several
// backends, each guarded by its own [CircuitBreaker].
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// NewTranscriberFallback creates a TranscriberFallback with primary as the
// first backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend. Must not be called once the
// fallback is in use.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe tries each backend in order. Every error, including an open
// breaker on all entries, is reported as a *stt.TranscriptionError.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio []byte) (stt.Result, error) {
	res, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, audio)
	})
	if err != nil {
		return stt.Result{}, stt.Wrap(backendName, err)
	}
	return res, nil
}

// Available reports whether at least one backend's breaker is not open.
func (f *TranscriberFallback) Available() bool { return f.group.Available() }

// States returns the breaker state of every backend keyed by name.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }
