// Package backend builds the configured speech synthesizer.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts"
	"github.com/loqalabs/loqa-phone/internal/tts/orpheus"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"github.com/loqalabs/loqa-phone/internal/tts/together"
)

// Backend is a synthesizer plus the resources it holds.
type Backend struct {
	tts.Synthesizer
	Mode       string
	Model      string
	SampleRate int
	closers    []io.Closer
}

// Close releases codec processes and similar resources.
func (b *Backend) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New returns the synthesizer selected by cfg.Mode. The Orpheus and
// Together backends are adapted to the channel contract through their
// asynchronous Stream mode.
func New(cfg config.TTSConfig, metrics *pipeline.Metrics, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	switch cfg.Mode {
	case "", "mock":
		return &Backend{
			Synthesizer: tts.NewMockSynth(cfg.SampleRate, channels, time.Duration(cfg.ChunkDurationMS)*time.Millisecond),
			Mode:        "mock",
			SampleRate:  cfg.SampleRate,
		}, nil
	case "exec":
		synth, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, channels)
		if err != nil {
			return nil, err
		}
		return &Backend{Synthesizer: synth, Mode: "exec", SampleRate: cfg.SampleRate}, nil
	case "orpheus":
		model, closer, err := NewOrpheus(cfg.Orpheus, metrics, logger)
		if err != nil {
			return nil, err
		}
		b := &Backend{
			Synthesizer: tts.NewStreamSynth(OrpheusStream(model), model.SampleRate(), channels),
			Mode:        "orpheus",
			Model:       cfg.Orpheus.Model,
			SampleRate:  model.SampleRate(),
		}
		if closer != nil {
			b.closers = append(b.closers, closer)
		}
		return b, nil
	case "together":
		client, err := NewTogether(cfg.Together, metrics, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Synthesizer: tts.NewStreamSynth(TogetherStream(client), client.SampleRate(), channels),
			Mode:        "together",
			Model:       client.Options().Model,
			SampleRate:  client.SampleRate(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", tts.ErrUnknownMode, cfg.Mode)
	}
}

// NewOrpheus builds the Orpheus model and its codec. The returned closer is
// non-nil when the codec owns a subprocess.
func NewOrpheus(cfg config.OrpheusConfig, metrics *pipeline.Metrics, logger *slog.Logger) (*orpheus.Model, io.Closer, error) {
	codecTimeout := time.Duration(cfg.Codec.TimeoutMS) * time.Millisecond
	var (
		codec  orpheus.Codec
		closer io.Closer
	)
	switch cfg.Codec.Mode {
	case "", "http":
		codec = orpheus.NewHTTPCodec(cfg.Codec.Endpoint, codecTimeout)
	case "exec":
		ec, err := orpheus.NewExecCodec(cfg.Codec.Command, codecTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		codec, closer = ec, ec
	default:
		return nil, nil, fmt.Errorf("unknown orpheus codec mode %q", cfg.Codec.Mode)
	}
	model, err := orpheus.New(orpheus.OptionsFromConfig(cfg), codec,
		orpheus.WithLogger(logger),
		orpheus.WithMetrics(metrics),
		orpheus.WithQueueSize(cfg.QueueSize),
	)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, err
	}
	return model, closer, nil
}

func NewTogether(cfg config.TogetherConfig, metrics *pipeline.Metrics, logger *slog.Logger) (*together.Client, error) {
	return together.New(cfg, together.WithLogger(logger), together.WithMetrics(metrics))
}

// OrpheusStream voices text with the model defaults and the requested voice.
func OrpheusStream(m *orpheus.Model) tts.StreamFunc {
	return func(ctx context.Context, text, voice string) (<-chan audio.Chunk, <-chan error) {
		return m.Stream(ctx, text, m.Options().WithVoice(voice))
	}
}

func TogetherStream(c *together.Client) tts.StreamFunc {
	return func(ctx context.Context, text, voice string) (<-chan audio.Chunk, <-chan error) {
		opts := c.Options()
		if voice != "" {
			opts.Voice = voice
		}
		return c.Stream(ctx, text, opts)
	}
}
