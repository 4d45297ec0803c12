// Package coqui provides a TTS provider backed by a self-hosted Coqui TTS
// server.
//
// Two server flavours are supported:
//
//   - [APIModeStandard] targets the stock Coqui TTS server image and issues
//     GET /api/tts with the text in the query string.
//   - [APIModeXTTS] targets the XTTS v2 API server and issues POST
//     /tts_to_audio/ with a JSON body.
//
// Both respond with a WAV file, which is decoded into 16-bit PCM at the
// model's native sample rate.
package coqui

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

	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	apiTTSEndpoint  = "/api/tts"
	xttsEndpoint    = "/tts_to_audio/"
	backendName     = "coqui"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server (/api/tts). This
	// is the default.
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeaker selects the speaker. In standard mode it is sent as speaker_id
// and only matters for multi-speaker models; in XTTS mode it names the
// studio speaker or reference WAV.
func WithSpeaker(id string) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider implements tts.Provider backed by a Coqui TTS server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider that targets the server at serverURL (e.g.
// "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// xttsRequest is the JSON body sent to POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Frame, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text)
	} else {
		req, err = p.standardRequest(ctx, text)
	}
	if err != nil {
		return audio.Frame{}, &tts.SynthesisError{Backend: backendName, Err: err}
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Frame{}, &tts.SynthesisError{Backend: backendName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audio.Frame{}, &tts.SynthesisError{
			Backend: backendName,
			Err:     fmt.Errorf("%s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Frame{}, &tts.SynthesisError{Backend: backendName, Err: fmt.Errorf("read WAV response: %w", err)}
	}
	frame, err := decodeWAV(data)
	if err != nil {
		return audio.Frame{}, &tts.SynthesisError{Backend: backendName, Err: err}
	}
	return frame, nil
}

func (p *Provider) standardRequest(ctx context.Context, text string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
}

func (p *Provider) xttsRequest(ctx context.Context, text string) (*http.Request, error) {
	data, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: p.speaker, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// decodeWAV reads a 16-bit PCM WAV file into a frame.
func decodeWAV(data []byte) (audio.Frame, error) {
	d := gowav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return audio.Frame{}, errors.New("response is not a valid WAV file")
	}
	if d.WavAudioFormat != 1 {
		return audio.Frame{}, fmt.Errorf("unsupported WAV format %d, want PCM", d.WavAudioFormat)
	}
	if d.BitDepth != 16 {
		return audio.Frame{}, fmt.Errorf("unsupported WAV bit depth %d, want 16", d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return audio.Frame{}, fmt.Errorf("decode WAV: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}
	return audio.Frame{
		Data:       audio.PCM(samples),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}, nil
}
