// Package mock provides test doubles for the stt package interfaces.
//
// Transcriber returns scripted outcomes in call order and records a copy of
// every audio buffer it was asked to transcribe, which lets tests assert on
// exactly what the relay flushed.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Outcomes: []mock.Outcome{
//	        {Err: errors.New("backend down")},
//	        {Text: "hello"},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// Outcome is a single scripted response.
type Outcome struct {
	// Text is returned on success.
	Text string

	// Err, if non-nil, is returned wrapped in a *stt.TranscriptionError.
	Err error
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the bytes passed to Transcribe.
	Audio []byte
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Outcomes are consumed in order, one per call. When exhausted, Default is
	// used.
	Outcomes []Outcome

	// Default is returned once Outcomes is exhausted. The zero value succeeds
	// with empty text.
	Default Outcome

	// Gate, if non-nil, is received from before each call returns. Tests use
	// it to hold a call in flight. A closed Gate releases all calls.
	Gate chan struct{}

	// Started, if non-nil, receives a value each time a call begins (before
	// waiting on Gate). Sends are non-blocking.
	Started chan struct{}

	// Calls records every call in order.
	Calls []TranscribeCall

	inFlight    int
	maxInFlight int
}

// Transcribe records the call and returns the next scripted outcome.
func (m *Transcriber) Transcribe(ctx context.Context, audio []byte) (stt.Result, error) {
	cp := make([]byte, len(audio))
	copy(cp, audio)

	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Audio: cp})
	out := m.Default
	if len(m.Outcomes) > 0 {
		out = m.Outcomes[0]
		m.Outcomes = m.Outcomes[1:]
	}
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	gate := m.Gate
	started := m.Started
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return stt.Result{}, stt.Wrap("mock", ctx.Err())
		}
	}

	if out.Err != nil {
		return stt.Result{}, stt.Wrap("mock", out.Err)
	}
	return stt.Result{Text: out.Text}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Call returns a copy of the i-th recorded call. Thread-safe.
func (m *Transcriber) Call(i int) TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[i]
}

// MaxInFlight returns the highest number of concurrently running calls seen.
func (m *Transcriber) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.maxInFlight = 0
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
