package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.SpeechConfig{
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/v1",
		STTModel: "whisper-1",
		TTSModel: "tts-1",
	})
}

func TestTranscribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if lang := r.FormValue("language"); lang != "en" {
			t.Errorf("expected language en, got %q", lang)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hello world  "}`))
	})

	text, err := client.Transcribe(context.Background(), []byte("pcm"), "wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty audio")
	})

	text, err := client.Transcribe(context.Background(), nil, "wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
}

func TestSynthesize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("mp3-bytes"))
	})

	audio, err := client.Synthesize(context.Background(), "hello", "coral")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio: %q", audio)
	}
}

func TestTranscribeServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})

	if _, err := client.Transcribe(context.Background(), []byte("pcm"), "wav"); err == nil {
		t.Fatal("expected error from failing provider")
	}
}
