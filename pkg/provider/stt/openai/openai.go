// Package openai provides a transcriber backed by any OpenAI-compatible
// audio transcription API, including Groq and OpenAI itself.
//
// Defaults target Groq's hosted whisper-large-v3-turbo model with English as
// the fixed recognition language and the "json" response format.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

const (
	// GroqBaseURL is the OpenAI-compatible endpoint of the Groq API.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	// DefaultModel is the default transcription model.
	DefaultModel = "whisper-large-v3-turbo"

	// DefaultLanguage is the default recognition language.
	DefaultLanguage = "en"

	defaultName     = "groq"
	defaultFileName = "audio.wav"
	defaultMIMEType = "audio/wav"
)

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the audio transcriptions
// endpoint of an OpenAI-compatible API.
type Transcriber struct {
	client   oai.Client
	name     string
	model    string
	language string
	format   oai.AudioResponseFormat
	fileName string
	mimeType string
}

// config holds optional configuration for the transcriber.
type config struct {
	name         string
	baseURL      string
	organization string
	language     string
	fileName     string
	mimeType     string
	timeout      time.Duration
	httpClient   *http.Client
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithName sets the backend name used in errors and metrics. Defaults to "groq".
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithBaseURL overrides the API base URL. Defaults to [GroqBaseURL].
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithLanguage sets the fixed ISO-639-1 recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *config) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithFile sets the file name and MIME type attached to the uploaded audio.
// Backends use the extension to pick a decoder. Defaults to audio.wav, matching the livescribe client.
func WithFile(name, mimeType string) Option {
	return func(c *config) {
		c.fileName = name
		c.mimeType = mimeType
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Transcriber. If model is empty, [DefaultModel] is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{
		name:     defaultName,
		baseURL:  GroqBaseURL,
		language: DefaultLanguage,
		fileName: defaultFileName,
		mimeType: defaultMIMEType,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		// Retries happen only as a side effect of new audio arriving.
		option.WithMaxRetries(0),
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		name:     cfg.name,
		model:    model,
		language: cfg.language,
		format:   oai.AudioResponseFormatJSON,
		fileName: cfg.fileName,
		mimeType: cfg.mimeType,
	}, nil
}

// Name returns the backend name.
func (t *Transcriber) Name() string { return t.name }

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (stt.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio), t.fileName, t.mimeType),
		Model:          oai.AudioModel(t.model),
		ResponseFormat: t.format,
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, stt.Wrap(t.name, fmt.Errorf("transcribe: %w", err))
	}
	if resp == nil {
		return stt.Result{}, stt.Wrap(t.name, errors.New("empty response"))
	}
	return stt.Result{Text: resp.Text}, nil
}
