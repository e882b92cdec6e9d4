package sarvam

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxpaylabs/voxpay-core/internal/config"
	"github.com/voxpaylabs/voxpay-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(baseURL string) config.ProviderConfig {
	cfg := config.Default().Provider
	cfg.BaseURL = baseURL
	cfg.APIKey = "secret"
	cfg.TimeoutMS = 2000
	return cfg
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech-to-text-translate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("api-subscription-key"); got != "secret" {
			t.Errorf("missing api key header, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "saaras:v2.5" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing audio file: %v", err)
		} else {
			file.Close()
		}
		_, _ = w.Write([]byte(`{"transcript":"pay bob hundred rupees","language_code":"en-IN"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), newLogger())
	text, lang, err := c.Transcribe(context.Background(), []byte("RIFFfake"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "pay bob hundred rupees" || lang != "en-IN" {
		t.Fatalf("unexpected result: %q %q", text, lang)
	}
}

func TestTranscribeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), newLogger())
	_, _, err := c.Transcribe(context.Background(), []byte("RIFFfake"))
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.Stage != "transcribe" || pe.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error details: %+v", pe)
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		msgs, _ := req["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("expected 2 messages, got %d", len(msgs))
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"You owe Bob 100 rupees."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), newLogger())
	out, err := c.Complete(context.Background(), []protocol.ChatMessage{
		{Role: protocol.RoleSystem, Content: "be brief"},
		{Role: protocol.RoleUser, Content: "how much do I owe bob"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "You owe Bob 100 rupees." {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), newLogger())
	if _, err := c.Complete(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestSynthesize(t *testing.T) {
	seg1 := base64.StdEncoding.EncodeToString([]byte("first"))
	seg2 := base64.StdEncoding.EncodeToString([]byte("second"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["target_language_code"] != "hi-IN" {
			t.Errorf("unexpected language %v", req["target_language_code"])
		}
		if req["speech_sample_rate"] != float64(8000) {
			t.Errorf("unexpected sample rate %v", req["speech_sample_rate"])
		}
		_, _ = w.Write([]byte(`{"audios":["` + seg1 + `","` + seg2 + `"]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), newLogger())
	segments, err := c.Synthesize(context.Background(), "namaste", "hi-IN")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(segments) != 2 || string(segments[0]) != "first" || string(segments[1]) != "second" {
		t.Fatalf("unexpected segments: %q", segments)
	}
}

func TestSynthesizeNoAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"audios":[]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), newLogger())
	if _, err := c.Synthesize(context.Background(), "hello", "en-IN"); err == nil {
		t.Fatal("expected error for empty audio list")
	}
}
