// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Frame: audio.Frame{Data: pcm, SampleRate: 24000, Channels: 1}}
//	f, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Frame is returned by every successful Synthesize call.
	Frame audio.Frame

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Gate, if non-nil, is received from before Synthesize returns.
	Gate chan struct{}

	texts []string
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Frame, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return audio.Frame{}, p.Err
	}
	return p.Frame, nil
}

// Texts returns every text passed to Synthesize, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

var _ tts.Provider = (*Provider)(nil)
