package pipeline

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-phone/tts"

// Metrics holds the instruments recorded by speech backends. A nil *Metrics
// records nothing.
type Metrics struct {
	Tokens           metric.Int64Counter
	Windows          metric.Int64Counter
	DroppedFrames    metric.Int64Counter
	Chunks           metric.Int64Counter
	AudioSeconds     metric.Float64Counter
	SuppressedErrors metric.Int64Counter
	TimeToFirstToken metric.Float64Histogram
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}
	if met.Tokens, err = m.Int64Counter("loqa.tts.tokens",
		metric.WithDescription("Audio-codec token IDs accepted into the frame buffer."),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter("loqa.tts.windows",
		metric.WithDescription("Token windows submitted to the audio codec."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("loqa.tts.dropped_frames",
		metric.WithDescription("Windows whose decode failed or produced no audio."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("loqa.tts.chunks",
		metric.WithDescription("Audio chunks delivered to consumers."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("loqa.tts.audio",
		metric.WithDescription("Seconds of audio delivered to consumers."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.SuppressedErrors, err = m.Int64Counter("loqa.tts.suppressed_errors",
		metric.WithDescription("Producer failures converted into an early end of stream."),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstToken, err = m.Float64Histogram("loqa.tts.time_to_first_token",
		metric.WithDescription("Latency between request and first streamed token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func backendAttr(backend string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("backend", backend))
}

func (m *Metrics) RecordToken(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.Tokens.Add(ctx, 1, backendAttr(backend))
}

func (m *Metrics) RecordWindow(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.Windows.Add(ctx, 1, backendAttr(backend))
}

func (m *Metrics) RecordDroppedFrame(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.DroppedFrames.Add(ctx, 1, backendAttr(backend))
}

func (m *Metrics) RecordChunk(ctx context.Context, backend string, chunk audio.Chunk) {
	if m == nil {
		return
	}
	m.Chunks.Add(ctx, 1, backendAttr(backend))
	m.AudioSeconds.Add(ctx, chunk.Duration().Seconds(), backendAttr(backend))
}

func (m *Metrics) RecordSuppressedError(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.SuppressedErrors.Add(ctx, 1, backendAttr(backend))
}

func (m *Metrics) RecordTimeToFirstToken(ctx context.Context, backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstToken.Record(ctx, d.Seconds(), backendAttr(backend))
}
