package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const speechMeterName = "github.com/loqalabs/loqa-phone/speech"

// telemetry is everything the runtime needs from the observability stack:
// the synthesis instruments handed to the TTS backend, the speech endpoint
// instruments and the Prometheus scrape handler (nil when the exporter
// could not be created).
type telemetry struct {
	synthesis *pipeline.Metrics
	speech    *speechMetrics
	scrape    http.Handler
	shutdown  func(context.Context) error
}

// setupTelemetry installs the global tracer and meter providers and builds
// the speech instruments on the meter provider.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("loqa.node.id", cfg.Node.ID),
			attribute.String("loqa.tts.mode", cfg.TTS.Mode),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	exporter, name, err := spanExporter(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tracerProvider)
	logger.Info("tracing initialized", slog.String("exporter", name))

	readers := []sdkmetric.Option{sdkmetric.WithResource(res)}
	var scrape http.Handler
	if promExporter, err := prometheus.New(); err != nil {
		logger.Warn("prometheus exporter unavailable, /metrics disabled", slogError(err))
	} else {
		readers = append(readers, sdkmetric.WithReader(promExporter))
		scrape = promhttp.Handler()
	}
	meterProvider := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(meterProvider)

	t := &telemetry{
		scrape: scrape,
		shutdown: func(ctx context.Context) error {
			return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
		},
	}
	if t.synthesis, err = pipeline.NewMetrics(meterProvider); err != nil {
		return nil, errors.Join(fmt.Errorf("synthesis metrics: %w", err), t.shutdown(ctx))
	}
	if t.speech, err = newSpeechMetrics(meterProvider); err != nil {
		return nil, errors.Join(fmt.Errorf("speech metrics: %w", err), t.shutdown(ctx))
	}
	return t, nil
}

// spanExporter ships spans to the OTLP collector when one is configured and
// otherwise to stderr, keeping stdout for logs.
func spanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, string, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		return exp, "stdout", err
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	return exp, "otlp " + endpoint, err
}

// speechMetrics measures utterances served over HTTP and WebSocket. A nil
// *speechMetrics records nothing.
type speechMetrics struct {
	utterances metric.Int64Counter
	duration   metric.Float64Histogram
	bytes      metric.Int64Counter
}

func newSpeechMetrics(mp metric.MeterProvider) (*speechMetrics, error) {
	m := mp.Meter(speechMeterName)
	var err error
	sm := &speechMetrics{}
	if sm.utterances, err = m.Int64Counter("loqa.speech.utterances",
		metric.WithDescription("Utterances requested from the speech endpoints, by transport and outcome."),
	); err != nil {
		return nil, err
	}
	if sm.duration, err = m.Float64Histogram("loqa.speech.duration",
		metric.WithDescription("Wall time spent voicing one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2, 5, 10, 30),
	); err != nil {
		return nil, err
	}
	if sm.bytes, err = m.Int64Counter("loqa.speech.pcm_bytes",
		metric.WithDescription("PCM bytes written to speech clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	return sm, nil
}

// record counts one utterance. Cancelled requests are reported as
// "abandoned" rather than as failures.
func (m *speechMetrics) record(ctx context.Context, transport string, started time.Time, written int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "abandoned"
	case err != nil:
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("transport", transport), attribute.String("outcome", outcome))
	ctx = context.WithoutCancel(ctx)
	m.utterances.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	m.bytes.Add(ctx, int64(written), metric.WithAttributes(attribute.String("transport", transport)))
}
