// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested in the raw "pcm" response format: 24 kHz, 16-bit, mono,
// little-endian, which plays without any container parsing.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/tts"
)

const (
	// DefaultModel is the default speech model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is the default voice.
	DefaultVoice = "alloy"

	// SampleRate is the rate of the "pcm" response format.
	SampleRate = 24000

	backendName = "openai"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	speed  float64
}

type config struct {
	baseURL    string
	voice      string
	speed      float64
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice sets the voice. Defaults to [DefaultVoice].
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithSpeed sets the speaking rate, 0.25 to 4.0. Zero keeps the API default.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a Provider. If model is empty, [DefaultModel] is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %.2f outside [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Frame, error) {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return audio.Frame{}, &tts.SynthesisError{Backend: backendName, Err: err}
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Frame{}, &tts.SynthesisError{Backend: backendName, Err: fmt.Errorf("read audio: %w", err)}
	}
	return audio.Frame{Data: pcm, SampleRate: SampleRate, Channels: 1}, nil
}
