package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/protocol"
	sttmock "github.com/MrWong99/livescribe/pkg/provider/stt/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", func(string) string { return "" })
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// startApp runs an App on a random local port and returns its address and a
// function that stops it and returns Run's error.
func startApp(t *testing.T, opts ...Option) (string, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	opts = append([]Option{WithListener(ln), WithMetrics(testMetrics(t)), WithShutdownTimeout(5 * time.Second)}, opts...)
	a, err := New(testConfig(t), config.NewRegistry(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return ln.Addr().String(), stop
}

func TestApp_TranscribesOverWebSocket(t *testing.T) {
	tr := &sttmock.Transcriber{Outcomes: []sttmock.Outcome{{Text: "hello"}}}
	addr, _ := startApp(t, WithTranscriber(tr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/any/path", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("chunk")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != protocol.TypeTranscription || msg.Text != "hello" {
		t.Errorf("message = %+v, want transcription %q", msg, "hello")
	}
}

func TestApp_OperationalEndpoints(t *testing.T) {
	addr, _ := startApp(t, WithTranscriber(&sttmock.Transcriber{}))

	for _, tt := range []struct {
		path string
		want string
	}{
		{"/healthz", `"status":"ok"`},
		{"/readyz", `"transcription":"ok"`},
		{"/metrics", "# HELP"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + addr + tt.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, body %s", resp.StatusCode, body)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body does not contain %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestApp_ShutdownClosesConnectionsAndWaits(t *testing.T) {
	gate := make(chan struct{})
	tr := &sttmock.Transcriber{Gate: gate}
	addr, stop := startApp(t, WithTranscriber(tr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("chunk")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transcription never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()
	runErr := make(chan error, 1)
	go func() { runErr <- stop() }()

	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("client read err = %v, want close status 1001", err)
	}

	select {
	case err := <-runErr:
		t.Fatalf("Run returned %v before the in-flight transcription finished", err)
	case <-time.After(100 * time.Millisecond):
	}
	close(gate)
	if err := <-runErr; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcription.Backend.Name = "nope"
	_, err := New(cfg, config.NewRegistry(), WithMetrics(testMetrics(t)))
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestNew_BuildsFallbackChain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcription.Backend = config.ProviderEntry{Name: "groq", APIKey: "gsk", Language: "en"}
	cfg.Transcription.Fallbacks = []config.ProviderEntry{
		{Name: "whisper", BaseURL: "http://localhost:8081", Language: "en"},
	}

	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)
	a, err := New(cfg, reg, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	states := a.States()
	if len(states) != 2 {
		t.Fatalf("States() = %v, want 2 backends", states)
	}
	if _, ok := states["groq"]; !ok {
		t.Errorf("primary missing from %v", states)
	}
	if _, ok := states["whisper#1"]; !ok {
		t.Errorf("fallback missing from %v", states)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	want := []string{"deepgram", "groq", "openai", "whisper"}
	got := reg.STTNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("STTNames() = %v, want %v", got, want)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "groq"}); err == nil {
		t.Error("groq without api key should fail")
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui", BaseURL: "http://localhost:5002"}); err != nil {
		t.Errorf("CreateTTS(coqui): %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "openai", APIKey: "sk"}); err != nil {
		t.Errorf("CreateTTS(openai): %v", err)
	}
}
