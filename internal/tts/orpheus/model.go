package orpheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	backendName       = "orpheus"
	tracerName        = "github.com/loqalabs/loqa-phone/tts/orpheus"
	DefaultSampleRate = 24000
)

type tokenSource func(ctx context.Context, text string, opts Options, consumer func(string) error) error

// Model synthesises speech by streaming tokens from the completions endpoint
// and decoding them window by window through a Codec. A Model is safe for
// concurrent use; every call runs its own session.
type Model struct {
	defaults  Options
	codec     Codec
	client    *http.Client
	logger    *slog.Logger
	metrics   *pipeline.Metrics
	tracer    trace.Tracer
	queueSize int
	hook      pipeline.ErrorHook
	tokens    tokenSource
}

// ModelOption customises a Model.
type ModelOption func(*Model)

func WithLogger(l *slog.Logger) ModelOption {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(metrics *pipeline.Metrics) ModelOption {
	return func(m *Model) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func WithTracer(t trace.Tracer) ModelOption {
	return func(m *Model) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithHTTPClient(c *http.Client) ModelOption {
	return func(m *Model) { m.client = c }
}

// WithQueueSize sets the chunk queue depth used by Stream and Collect.
func WithQueueSize(n int) ModelOption {
	return func(m *Model) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithErrorHook observes producer errors that the asynchronous modes keep
// off the chunk stream.
func WithErrorHook(h pipeline.ErrorHook) ModelOption {
	return func(m *Model) { m.hook = h }
}

func New(defaults Options, codec Codec, opts ...ModelOption) (*Model, error) {
	if codec == nil {
		return nil, errors.New("orpheus: codec required")
	}
	if strings.TrimSpace(defaults.Endpoint) == "" {
		return nil, errors.New("orpheus: endpoint required")
	}
	if defaults.SampleRate <= 0 {
		defaults.SampleRate = DefaultSampleRate
	}
	m := &Model{
		defaults:  defaults.clone(),
		codec:     codec,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		queueSize: pipeline.DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "orpheus"))
	if m.client == nil {
		m.client = newHTTPClient(defaults.timeout())
	}
	m.tokens = m.streamTokens
	return m, nil
}

// Options returns a copy of the model defaults for per-call adjustment.
func (m *Model) Options() Options {
	return m.defaults.clone()
}

// SampleRate reports the default output rate.
func (m *Model) SampleRate() int { return m.defaults.SampleRate }

// StreamSync synthesises text on the calling goroutine, calling yield for
// each decoded chunk in order. Transport errors are returned; chunks already
// yielded stand. Token and frame level failures never surface here.
func (m *Model) StreamSync(ctx context.Context, text string, opts Options, yield func(audio.Chunk) error) error {
	opts = m.resolve(opts)
	if strings.TrimSpace(text) == "" {
		m.logger.Debug("empty text, nothing to synthesise")
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "orpheus.synthesize", trace.WithAttributes(
		attribute.String("tts.voice", opts.Voice),
		attribute.String("tts.model", opts.Model),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	var frames FrameBuffer
	emitted := 0
	err := m.tokens(ctx, text, opts, func(token string) error {
		before := frames.Count()
		window, ok := frames.PushToken(token)
		if frames.Count() > before {
			m.metrics.RecordToken(ctx, backendName)
		}
		if !ok {
			return nil
		}
		m.metrics.RecordWindow(ctx, backendName)
		pcm := m.decodeFrame(ctx, window, frames.Count())
		if len(pcm) == 0 {
			return nil
		}
		chunk := audio.Chunk{SampleRate: opts.SampleRate, Samples: pcm}
		m.metrics.RecordChunk(ctx, backendName, chunk)
		emitted++
		return yield(chunk)
	})
	span.SetAttributes(
		attribute.Int("tts.codes", frames.Count()),
		attribute.Int("tts.chunks", emitted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.logger.Debug("synthesis complete", slog.Int("codes", frames.Count()), slog.Int("chunks", emitted))
	return nil
}

// Stream synthesises text on a background goroutine. The chunk channel is
// always closed when synthesis ends; a transport failure ends it early and is
// reported on the error channel only.
func (m *Model) Stream(ctx context.Context, text string, opts Options) (<-chan audio.Chunk, <-chan error) {
	return pipeline.Bridge(ctx, m.producer(text, opts), m.bridgeOptions()...)
}

// Collect runs Stream to completion and joins the audio. The result is valid
// even when nothing was produced.
func (m *Model) Collect(ctx context.Context, text string, opts Options) (audio.Chunk, error) {
	opts = m.resolve(opts)
	return pipeline.Collect(ctx, m.producer(text, opts), opts.SampleRate, m.bridgeOptions()...)
}

// CollectBlocking is Collect without the background goroutine.
func (m *Model) CollectBlocking(ctx context.Context, text string, opts Options) (audio.Chunk, error) {
	opts = m.resolve(opts)
	return pipeline.CollectSync(ctx, m.producer(text, opts), opts.SampleRate)
}

func (m *Model) producer(text string, opts Options) pipeline.Producer {
	return func(ctx context.Context, yield func(audio.Chunk) error) error {
		return m.StreamSync(ctx, text, opts, yield)
	}
}

func (m *Model) bridgeOptions() []pipeline.BridgeOption {
	return []pipeline.BridgeOption{
		pipeline.WithQueueSize(m.queueSize),
		pipeline.WithLogger(m.logger),
		pipeline.WithMetrics(m.metrics, backendName),
		pipeline.WithErrorHook(m.hook),
	}
}

// resolve fills unset fields from the model defaults.
func (m *Model) resolve(opts Options) Options {
	if opts.Endpoint == "" {
		opts.Endpoint = m.defaults.Endpoint
	}
	if opts.Model == "" {
		opts.Model = m.defaults.Model
	}
	if opts.Voice == "" {
		opts.Voice = m.defaults.Voice
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = m.defaults.SampleRate
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = m.defaults.MaxTokens
	}
	return opts
}

// decodeFrame runs the codec on one window. Failures and panics are logged
// and counted; the window then yields nothing.
func (m *Model) decodeFrame(ctx context.Context, window []int, count int) (samples []int16) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("codec panic", slog.Int("count", count), slogError(fmt.Errorf("%v", r)))
			m.metrics.RecordDroppedFrame(ctx, backendName)
			samples = nil
		}
	}()
	pcm, err := m.codec.Decode(ctx, window, count)
	if err != nil {
		m.logger.Warn("codec failed on window", slog.Int("count", count), slogError(err))
		m.metrics.RecordDroppedFrame(ctx, backendName)
		return nil
	}
	if len(pcm) < 2 {
		return nil
	}
	return audio.BytesToSamples(pcm)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
