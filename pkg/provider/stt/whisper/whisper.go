// Package whisper provides a whisper.cpp-server-backed transcriber.
//
// It targets a running whisper-server binary, which exposes a REST API at
// POST /inference. Each Transcribe call uploads the given audio buffer as a
// multipart form file together with the configured language and response
// format, and parses the JSON response.
//
// The audio is forwarded exactly as received; whisper-server decodes common
// containers (WAV, and more when built with ffmpeg support) itself.
//
// Usage:
//
//	tr, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	res, err := tr.Transcribe(ctx, chunk)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

const (
	backendName           = "whisper"
	defaultLanguage       = "en"
	defaultResponseFormat = "json"
	defaultFileName       = "audio.wav"
	defaultTimeout        = 30 * time.Second
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		if lang != "" {
			t.language = lang
		}
	}
}

// WithFileName sets the file name used for the multipart upload. whisper-server
// uses its extension as a format hint. Defaults to "audio.wav".
func WithFileName(name string) Option {
	return func(t *Transcriber) {
		t.fileName = name
	}
}

// WithHTTPClient replaces the HTTP client. Defaults to a client with a 30 s
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	language   string
	fileName   string
	httpClient *http.Client
}

// New creates a Transcriber that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8081"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		fileName:   defaultFileName,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe uploads audio to POST /inference and returns the recognised text.
// All failures are returned as *stt.TranscriptionError.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (stt.Result, error) {
	text, err := t.infer(ctx, audio)
	if err != nil {
		return stt.Result{}, stt.Wrap(backendName, err)
	}
	return stt.Result{Text: strings.TrimSpace(text)}, nil
}

func (t *Transcriber) infer(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", t.fileName)
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"response_format", defaultResponseFormat},
		{"language", t.language},
		{"model", t.model},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result struct {
		Text  *string `json:"text"`
		Error string  `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", result.Error)
	}
	if result.Text == nil {
		return "", errors.New("whisper: response has no text field")
	}
	return *result.Text, nil
}
