// Package config provides the configuration schema, loader, and backend
// registry for the livescribe server and client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultLogLevel       = LogInfo
	DefaultBackend        = "groq"
	DefaultLanguage       = "en"
	DefaultTimeout        = 60 * time.Second
	DefaultMaxBufferBytes = 25 << 20
	DefaultServerURL      = "ws://localhost:8080/"
)

// Config is the root configuration structure. It is typically loaded with
// [Load], which layers the environment on top of an optional YAML file.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Client        ClientConfig        `yaml:"client"`
}

// ServerConfig holds network, logging and buffering settings for the relay
// server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxBufferBytes bounds each connection's accumulation buffer. Nil means
	// [DefaultMaxBufferBytes]; zero disables the bound.
	MaxBufferBytes *int `yaml:"max_buffer_bytes"`
}

// BufferLimit returns the effective accumulation buffer bound; zero means
// unbounded.
func (s ServerConfig) BufferLimit() int {
	if s.MaxBufferBytes == nil {
		return DefaultMaxBufferBytes
	}
	return *s.MaxBufferBytes
}

// TranscriptionConfig selects the speech-to-text backend chain.
type TranscriptionConfig struct {
	// Backend is the primary transcriber.
	Backend ProviderEntry `yaml:"backend"`

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is the default recognition language for every entry that does
	// not set its own.
	Language string `yaml:"language"`

	// Timeout bounds a single transcription call.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreaker tunes the breaker placed in front of every backend.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig. Zero values
// fall back to the breaker's own defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ClientConfig holds settings for the capture client.
type ClientConfig struct {
	// ServerURL is the relay's WebSocket URL.
	ServerURL string `yaml:"server_url"`

	// Device is the PortAudio input device; empty selects the system default.
	Device string `yaml:"device"`

	// ChunkInterval, when non-zero, sends a chunk at this interval while
	// recording instead of one chunk on stop.
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// Voice enables spoken playback of transcript fragments at startup.
	Voice bool `yaml:"voice"`

	// TTS selects the speech synthesis backend used when voice is enabled.
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all backends. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "groq", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`

	// Language overrides transcription.language for this entry.
	Language string `yaml:"language"`

	// Timeout bounds a single HTTP request. Defaults to transcription.timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds backend-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when absent or not a string.
func (e ProviderEntry) Option(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}
