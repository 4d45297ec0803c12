// Package deepgram provides a Deepgram-backed transcriber using the
// pre-recorded audio API: each call POSTs the buffered audio to /v1/listen
// and returns the first alternative of the first channel.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	listenPath      = "/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultMIMEType = "audio/wav"
	defaultTimeout  = 30 * time.Second
	backendName     = "deepgram"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		if language != "" {
			t.language = language
		}
	}
}

// WithBaseURL overrides the API host, e.g. for a self-hosted deployment.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithContentType sets the Content-Type sent with the audio. Defaults to
// audio/wav, matching the livescribe client.
func WithContentType(mime string) Option {
	return func(t *Transcriber) { t.contentType = mime }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// Transcriber implements stt.Transcriber backed by the Deepgram API.
type Transcriber struct {
	apiKey      string
	baseURL     string
	model       string
	language    string
	contentType string
	httpClient  *http.Client
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		model:       defaultModel,
		language:    defaultLanguage,
		contentType: defaultMIMEType,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// listenResponse is the subset of the pre-recorded response body we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (stt.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.buildURL(), bytes.NewReader(audio))
	if err != nil {
		return stt.Result{}, stt.Wrap(backendName, err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", t.contentType)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, stt.Wrap(backendName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, stt.Wrap(backendName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, stt.Wrap(backendName,
			fmt.Errorf("POST %s returned status %d: %s", listenPath, resp.StatusCode, bytes.TrimSpace(body)))
	}

	var lr listenResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return stt.Result{}, stt.Wrap(backendName, fmt.Errorf("decode response: %w", err))
	}
	if len(lr.Results.Channels) == 0 || len(lr.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, nil
	}
	return stt.Result{Text: strings.TrimSpace(lr.Results.Channels[0].Alternatives[0].Transcript)}, nil
}

// buildURL constructs the listen endpoint URL with the query parameters.
func (t *Transcriber) buildURL() string {
	q := url.Values{}
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	return t.baseURL + listenPath + "?" + q.Encode()
}
