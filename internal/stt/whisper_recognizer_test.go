package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
)

func TestWhisperRecognizerUploadsWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gsk" {
			t.Errorf("missing auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-large-v3" || r.FormValue("language") != "en" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		clip, err := audio.DecodeWAV(file)
		if err != nil || clip.SampleRate != 16000 || clip.Len() != 3 {
			t.Errorf("unexpected upload %+v %v", clip, err)
		}
		w.Write([]byte(`{"text":"  book a viewing "}`))
	}))
	defer srv.Close()

	r := NewWhisperRecognizer(config.STTConfig{
		Endpoint: srv.URL + "/openai/v1/",
		APIKey:   "gsk",
		Model:    "whisper-large-v3",
		Language: "en",
	})
	pcm := audio.SamplesToBytes([]int16{1, -1, 2})
	res, err := r.Transcribe(context.Background(), pcm, 16000, 1, true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "book a viewing" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestWhisperRecognizerSkipsPartials(t *testing.T) {
	r := NewWhisperRecognizer(config.STTConfig{Endpoint: "http://127.0.0.1:1"})
	res, err := r.Transcribe(context.Background(), []byte{1, 0}, 16000, 1, false)
	if err != nil || res.Text != "" {
		t.Fatalf("expected empty partial, got %+v %v", res, err)
	}
}

func TestNewRecognizerUnknownMode(t *testing.T) {
	if _, err := NewRecognizer(config.STTConfig{Mode: "vosk"}); err == nil {
		t.Fatal("expected error")
	}
}
