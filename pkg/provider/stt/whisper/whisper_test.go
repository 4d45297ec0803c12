package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures the multipart fields of a single /inference call.
type inferenceRequest struct {
	file           []byte
	fileName       string
	language       string
	responseFormat string
	model          string
}

// newMockServer creates a test server that answers POST /inference with body
// and records the most recent request into *last.
func newMockServer(t *testing.T, status int, body string, last *atomic.Pointer[inferenceRequest]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if last != nil {
			last.Store(&inferenceRequest{
				file:           data,
				fileName:       hdr.Filename,
				language:       r.FormValue("language"),
				responseFormat: r.FormValue("response_format"),
				model:          r.FormValue("model"),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	tr, err := whisper.New("http://localhost:8081",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithFileName("chunk.webm"),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected non-nil Transcriber")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ForwardsAudioAndFields(t *testing.T) {
	var last atomic.Pointer[inferenceRequest]
	srv := newMockServer(t, http.StatusOK, `{"text":" hello there \n"}`, &last)

	tr, _ := whisper.New(srv.URL+"/", whisper.WithLanguage("fr"), whisper.WithModel("base"))
	audio := []byte("RIFF....WAVEfmt ")
	res, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}

	got := last.Load()
	if got == nil {
		t.Fatal("server saw no request")
	}
	if !bytes.Equal(got.file, audio) {
		t.Errorf("uploaded audio = %q, want %q", got.file, audio)
	}
	if got.fileName != "audio.wav" {
		t.Errorf("file name = %q, want audio.wav", got.fileName)
	}
	if got.language != "fr" || got.model != "base" || got.responseFormat != "json" {
		t.Errorf("fields = %+v", got)
	}
}

func TestTranscribe_Failures_AreTranscriptionErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"malformed json", http.StatusOK, `not json`},
		{"server error field", http.StatusOK, `{"error":"model not loaded"}`},
		{"missing text", http.StatusOK, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newMockServer(t, tt.status, tt.body, nil)
			tr, _ := whisper.New(srv.URL)
			_, err := tr.Transcribe(context.Background(), []byte{1, 2, 3})
			if err == nil {
				t.Fatal("expected error")
			}
			if !stt.IsTranscriptionError(err) {
				t.Errorf("err = %T %v, want *stt.TranscriptionError", err, err)
			}
		})
	}
}

func TestTranscribe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, _ := whisper.New(url)
	_, err := tr.Transcribe(context.Background(), []byte{1})
	if !stt.IsTranscriptionError(err) {
		t.Fatalf("err = %v, want TranscriptionError", err)
	}
}

func TestTranscribe_EmptyText_IsSuccess(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, `{"text":""}`, nil)
	tr, _ := whisper.New(srv.URL)
	res, err := tr.Transcribe(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

// Ensure the JSON helper stays in sync with what whisper-server emits.
func TestTranscribe_ResponseShape(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"text": "ok"})
	srv := newMockServer(t, http.StatusOK, string(body), nil)
	tr, _ := whisper.New(srv.URL)
	res, err := tr.Transcribe(context.Background(), []byte{1})
	if err != nil || res.Text != "ok" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}
