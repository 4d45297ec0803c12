package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per kind. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt": {"groq", "openai", "whisper", "deepgram"},
	"tts": {"openai", "coqui"},
}

// apiKeyEnv maps backend names to the environment variable holding their key.
var apiKeyEnv = map[string]string{
	"groq":     "GROQ_API_KEY",
	"openai":   "OPENAI_API_KEY",
	"deepgram": "DEEPGRAM_API_KEY",
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env") into
// the process environment. Missing files are skipped; variables already set
// are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path (optional: an empty path starts from an
// empty config), overlays the environment read through getenv, applies
// defaults and validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	cfg, err := load(data, getenv)
	if err != nil && path != "" {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, err
}

func load(data []byte, getenv func(string) string) (*Config, error) {
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if getenv != nil {
		ApplyEnv(cfg, getenv)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return load(data, nil)
}

// Decode strictly decodes YAML from r; unknown keys are errors. An empty
// document yields an empty config.
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg:
//
//	PORT                    server.listen_addr = ":" + PORT
//	LOG_LEVEL               server.log_level
//	TRANSCRIPTION_BACKEND   transcription.backend.name
//	TRANSCRIPTION_LANGUAGE  transcription.language
//	LIVESCRIBE_SERVER_URL   client.server_url
//	GROQ_API_KEY, OPENAI_API_KEY, DEEPGRAM_API_KEY
//	                        api_key of every entry using that backend and
//	                        not configuring a key of its own
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		cfg.Server.ListenAddr = ":" + v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := getenv("TRANSCRIPTION_BACKEND"); v != "" {
		cfg.Transcription.Backend.Name = v
	}
	if v := getenv("TRANSCRIPTION_LANGUAGE"); v != "" {
		cfg.Transcription.Language = v
	}
	if v := getenv("LIVESCRIBE_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}

	fillKey := func(e *ProviderEntry, fallbackName string) {
		name := e.Name
		if name == "" {
			name = fallbackName
		}
		if e.APIKey != "" {
			return
		}
		if env, ok := apiKeyEnv[name]; ok {
			e.APIKey = getenv(env)
		}
	}
	fillKey(&cfg.Transcription.Backend, DefaultBackend)
	for i := range cfg.Transcription.Fallbacks {
		fillKey(&cfg.Transcription.Fallbacks[i], "")
	}
	fillKey(&cfg.Client.TTS, "")
}

// ApplyDefaults fills unset fields with their defaults. Per-entry language
// and timeout are inherited from the transcription section.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}

	t := &cfg.Transcription
	if t.Backend.Name == "" {
		t.Backend.Name = DefaultBackend
	}
	if t.Language == "" {
		t.Language = DefaultLanguage
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultTimeout
	}
	inherit := func(e *ProviderEntry) {
		if e.Language == "" {
			e.Language = t.Language
		}
		if e.Timeout == 0 {
			e.Timeout = t.Timeout
		}
	}
	inherit(&t.Backend)
	for i := range t.Fallbacks {
		inherit(&t.Fallbacks[i])
	}

	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = DefaultServerURL
	}
	if cfg.Client.TTS.Name != "" && cfg.Client.TTS.Language == "" {
		cfg.Client.TTS.Language = t.Language
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if n := cfg.Server.MaxBufferBytes; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("server.max_buffer_bytes %d must not be negative", *n))
	}

	t := cfg.Transcription
	if t.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %v must not be negative", t.Timeout))
	}
	if t.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.circuit_breaker.max_failures %d must not be negative", t.CircuitBreaker.MaxFailures))
	}
	if t.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.circuit_breaker.reset_timeout %v must not be negative", t.CircuitBreaker.ResetTimeout))
	}

	errs = append(errs, validateEntry("transcription.backend", "stt", t.Backend)...)
	seen := map[string]string{entryKey(t.Backend): "transcription.backend"}
	for i, fb := range t.Fallbacks {
		prefix := fmt.Sprintf("transcription.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateEntry(prefix, "stt", fb)...)
		if prev, ok := seen[entryKey(fb)]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates %s", prefix, prev))
		}
		seen[entryKey(fb)] = prefix
	}

	c := cfg.Client
	if c.ServerURL != "" {
		if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("client.server_url %q must be a ws:// or wss:// URL", c.ServerURL))
		}
	}
	if c.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("client.chunk_interval %v must not be negative", c.ChunkInterval))
	}
	if c.Voice && c.TTS.Name == "" {
		errs = append(errs, errors.New("client.voice requires client.tts.name"))
	}
	if c.TTS.Name != "" {
		errs = append(errs, validateEntry("client.tts", "tts", c.TTS)...)
	}

	return errors.Join(errs...)
}

func validateEntry(prefix, kind string, e ProviderEntry) []error {
	var errs []error
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", prefix, e.Timeout))
	}
	if e.BaseURL != "" {
		if u, err := url.Parse(e.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.base_url %q is not an absolute URL", prefix, e.BaseURL))
		}
	}
	validateProviderName(kind, e.Name)
	return errs
}

func entryKey(e ProviderEntry) string {
	return e.Name + "|" + e.BaseURL + "|" + e.Model
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
