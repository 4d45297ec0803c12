package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		model string
		lang  string
	}{
		{name: "defaults", model: "nova-3", lang: "en"},
		{name: "custom", opts: []Option{WithModel("base"), WithLanguage("de-DE")}, model: "base", lang: "de-DE"},
		{name: "empty values keep defaults", opts: []Option{WithModel(""), WithLanguage("")}, model: "nova-3", lang: "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			u, err := url.Parse(tr.buildURL())
			if err != nil {
				t.Fatalf("parse URL: %v", err)
			}
			if u.Path != listenPath {
				t.Errorf("path = %q, want %q", u.Path, listenPath)
			}
			q := u.Query()
			if q.Get("model") != tt.model || q.Get("language") != tt.lang || q.Get("punctuate") != "true" {
				t.Errorf("query = %v", q)
			}
		})
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":" hello world ","confidence":0.98}]}]}}`)
	}))
	defer srv.Close()

	tr, _ := New("dg-key", WithBaseURL(srv.URL+"/"))
	res, err := tr.Transcribe(context.Background(), []byte("RIFFdata"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if gotAuth != "Token dg-key" || gotType != "audio/wav" || string(gotBody) != "RIFFdata" {
		t.Errorf("request auth=%q type=%q body=%q", gotAuth, gotType, gotBody)
	}
}

func TestTranscribe_NoAlternatives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"channels":[]}}`)
	}))
	defer srv.Close()

	tr, _ := New("k", WithBaseURL(srv.URL))
	res, err := tr.Transcribe(context.Background(), []byte("x"))
	if err != nil || res.Text != "" {
		t.Errorf("Transcribe = %+v, %v; want empty text, nil", res, err)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"err_msg":"Invalid credentials."}`, http.StatusUnauthorized)
			},
			want: "status 401",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "{")
			},
			want: "decode response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			tr, _ := New("k", WithBaseURL(srv.URL))
			_, err := tr.Transcribe(context.Background(), []byte("x"))
			var te *stt.TranscriptionError
			if !errors.As(err, &te) || te.Backend != "deepgram" {
				t.Fatalf("err = %v, want *stt.TranscriptionError from deepgram", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
