package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"github.com/loqalabs/loqa-phone/internal/tts/together"
	"go.opentelemetry.io/otel/metric/noop"
)

func testDeps(t *testing.T) (*pipeline.Metrics, *slog.Logger) {
	t.Helper()
	m, err := pipeline.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return m, slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSelectsMode(t *testing.T) {
	metrics, logger := testDeps(t)
	base := config.Default().TTS

	cases := []struct {
		mode    string
		mutate  func(*config.TTSConfig)
		wantErr error
	}{
		{mode: "mock"},
		{mode: "orpheus"},
		{mode: "together", mutate: func(c *config.TTSConfig) { c.Together.APIKey = "k" }},
		{mode: "together", wantErr: together.ErrMissingAPIKey},
		{mode: "kokoro", wantErr: tts.ErrUnknownMode},
	}
	for _, tc := range cases {
		cfg := base
		cfg.Mode = tc.mode
		if tc.mutate != nil {
			tc.mutate(&cfg)
		}
		b, err := New(cfg, metrics, logger)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%s: expected %v, got %v", tc.mode, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.mode, err)
		}
		if b.Mode != tc.mode || b.SampleRate != 24000 {
			t.Fatalf("%s: unexpected backend %+v", tc.mode, b)
		}
		_ = b.Close()
	}
}

func TestMockBackendSynthesizes(t *testing.T) {
	metrics, logger := testDeps(t)
	cfg := config.Default().TTS
	cfg.Mode = "mock"
	b, err := New(cfg, metrics, logger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	chunks, errs := b.Synthesize(context.Background(), tts.SynthRequest{Text: "hi"})
	n := 0
	for range chunks {
		n++
	}
	if err := <-errs; err != nil || n != 2 {
		t.Fatalf("expected tone and final marker, got %d chunks err %v", n, err)
	}
}
