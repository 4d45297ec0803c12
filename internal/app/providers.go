package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/livescribe/pkg/provider/stt/openai"
	"github.com/MrWong99/livescribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/livescribe/pkg/provider/tts"
	"github.com/MrWong99/livescribe/pkg/provider/tts/coqui"
	ttsopenai "github.com/MrWong99/livescribe/pkg/provider/tts/openai"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	openAISTTModel = "whisper-1"
)

// RegisterBuiltinProviders wires every backend that ships with livescribe
// into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("groq", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []sttopenai.Option{
			sttopenai.WithName("groq"),
			sttopenai.WithLanguage(entry.Language),
			sttopenai.WithTimeout(entry.Timeout),
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = openAIBaseURL
		}
		model := entry.Model
		if model == "" {
			model = openAISTTModel
		}
		opts := []sttopenai.Option{
			sttopenai.WithName("openai"),
			sttopenai.WithBaseURL(baseURL),
			sttopenai.WithLanguage(entry.Language),
			sttopenai.WithTimeout(entry.Timeout),
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, sttopenai.WithOrganization(org))
		}
		return sttopenai.New(entry.APIKey, model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithLanguage(entry.Language)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []deepgram.Option{
			deepgram.WithModel(entry.Model),
			deepgram.WithLanguage(entry.Language),
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if v := entry.Option("voice"); v != "" {
			opts = append(opts, ttsopenai.WithVoice(v))
		}
		if entry.Timeout > 0 {
			opts = append(opts, ttsopenai.WithTimeout(entry.Timeout))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if entry.Language != "" {
			opts = append(opts, coqui.WithLanguage(entry.Language))
		}
		if s := entry.Option("speaker"); s != "" {
			opts = append(opts, coqui.WithSpeaker(s))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// buildTranscriber instantiates the configured backend chain. Every entry
// sits behind its own circuit breaker, so a single backend still benefits
// from fast failure while it is down.
func buildTranscriber(cfg config.TranscriptionConfig, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (*resilience.TranscriberFallback, error) {
	fbCfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
		Logger:       log,
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}

	primary, err := reg.CreateSTT(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("create transcription backend %q: %w", cfg.Backend.Name, err)
	}
	chain := resilience.NewTranscriberFallback(primary, cfg.Backend.Name, fbCfg)

	for i, entry := range cfg.Fallbacks {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create transcription fallback %d %q: %w", i, entry.Name, err)
		}
		chain.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), t)
	}
	return chain, nil
}
