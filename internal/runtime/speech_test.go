package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(synth tts.Synthesizer) *speechHandler {
	cfg := config.TTSConfig{Channels: 1, Voice: "tara", TimeoutMS: 2000}
	return newSpeechHandler(synth, 8000, cfg, discardLogger())
}

type failingSynth struct {
	pcm []byte
	err error
}

func (f failingSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk, 1)
	errs := make(chan error, 1)
	if len(f.pcm) > 0 {
		chunks <- tts.SynthChunk{SessionID: req.SessionID, SampleRate: 8000, Channels: 1, PCM: f.pcm}
	}
	close(chunks)
	errs <- f.err
	close(errs)
	return chunks, errs
}

func TestSpeechStreamsPCM(t *testing.T) {
	h := newTestHandler(tts.NewMockSynth(8000, 1, 100*time.Millisecond))
	req := httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"hello there"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/pcm;rate=8000;encoding=s16le" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Header().Get(headerSessionID) == "" {
		t.Fatal("expected generated session id")
	}
	// two words of 100ms at 8kHz, 16-bit
	if got := rec.Body.Len(); got != 2*800*2 {
		t.Fatalf("expected %d bytes, got %d", 2*800*2, got)
	}
}

func TestSpeechWAV(t *testing.T) {
	h := newTestHandler(tts.NewMockSynth(8000, 1, 100*time.Millisecond))
	req := httptest.NewRequest(http.MethodPost, "/v1/speech?format=wav", strings.NewReader(`{"text":"hi","session_id":"call-7"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Header().Get(headerSessionID) != "call-7" {
		t.Fatalf("session id not echoed: %q", rec.Header().Get(headerSessionID))
	}
	chunk, err := audio.DecodeWAV(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if chunk.SampleRate != 8000 || chunk.Len() != 800 {
		t.Fatalf("unexpected wav rate=%d samples=%d", chunk.SampleRate, chunk.Len())
	}
}

func TestSpeechRejectsBadRequests(t *testing.T) {
	h := newTestHandler(tts.NewMockSynth(8000, 1, 0))
	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"get", http.MethodGet, "/v1/speech", "", http.StatusMethodNotAllowed},
		{"empty text", http.MethodPost, "/v1/speech", `{"text":"   "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/v1/speech", `{`, http.StatusBadRequest},
		{"bad format", http.MethodPost, "/v1/speech?format=mp3", `{"text":"hi"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body)))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestSpeechWAVFailureWithoutAudio(t *testing.T) {
	h := newTestHandler(failingSynth{err: errors.New("backend down")})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/speech?format=wav", strings.NewReader(`{"text":"hi"}`)))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestSpeechStreamKeepsPartialAudio(t *testing.T) {
	h := newTestHandler(failingSynth{pcm: []byte{1, 0, 2, 0}, err: errors.New("codec failed")})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"hi"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte{1, 0, 2, 0}) {
		t.Fatalf("unexpected body %v", rec.Body.Bytes())
	}
	if got := rec.Result().Trailer.Get(trailerSynthError); got != "codec failed" {
		t.Fatalf("unexpected trailer %q", got)
	}
}
