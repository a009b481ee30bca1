package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func chunkOf(v int16) audio.Chunk {
	return audio.Chunk{SampleRate: 24000, Samples: []int16{v, v}}
}

func producerOf(chunks []audio.Chunk, tail error) Producer {
	return func(ctx context.Context, yield func(audio.Chunk) error) error {
		for _, c := range chunks {
			if err := yield(c); err != nil {
				return err
			}
		}
		return tail
	}
}

func TestBridgePreservesOrder(t *testing.T) {
	in := []audio.Chunk{chunkOf(1), chunkOf(2), chunkOf(3)}
	chunks, errs := Bridge(context.Background(), producerOf(in, nil), WithLogger(newLogger()), WithQueueSize(1))

	var got []int16
	for c := range chunks {
		got = append(got, c.Samples[0])
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}
}

func TestBridgeSuppressesProducerError(t *testing.T) {
	boom := errors.New("connection reset")
	var hooked error
	chunks, errs := Bridge(context.Background(), producerOf([]audio.Chunk{chunkOf(7)}, boom),
		WithLogger(newLogger()),
		WithErrorHook(func(err error) { hooked = err }),
	)

	count := 0
	for range chunks {
		count++
	}
	if count != 1 {
		t.Fatalf("expected the chunk produced before the failure, got %d", count)
	}
	err := <-errs
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error on side channel, got %v", err)
	}
	if !errors.Is(hooked, boom) {
		t.Fatalf("expected hook to observe error, got %v", hooked)
	}
}

func TestBridgeRecoversPanic(t *testing.T) {
	produce := func(ctx context.Context, yield func(audio.Chunk) error) error {
		_ = yield(chunkOf(1))
		panic("codec exploded")
	}
	chunks, errs := Bridge(context.Background(), produce, WithLogger(newLogger()))
	for range chunks {
	}
	if err := <-errs; err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestBridgeCancellationReleasesProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	produce := func(ctx context.Context, yield func(audio.Chunk) error) error {
		for i := 0; ; i++ {
			if err := yield(chunkOf(int16(i))); err != nil {
				done <- err
				return err
			}
		}
	}
	chunks, _ := Bridge(ctx, produce, WithLogger(newLogger()), WithQueueSize(1))
	<-chunks
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer was not released after cancellation")
	}
	for range chunks {
	}
}

func TestCollectEmpty(t *testing.T) {
	out, err := Collect(context.Background(), producerOf(nil, nil), 24000, WithLogger(newLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SampleRate != 24000 || out.Len() != 0 {
		t.Fatalf("expected empty chunk at 24000 Hz, got %+v", out)
	}
}

func TestCollectKeepsPartialAudio(t *testing.T) {
	boom := errors.New("read timeout")
	out, err := Collect(context.Background(), producerOf([]audio.Chunk{chunkOf(1), chunkOf(2)}, boom), 24000, WithLogger(newLogger()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected reported error, got %v", err)
	}
	if out.Len() != 4 {
		t.Fatalf("expected 4 samples, got %d", out.Len())
	}
}

func TestCollectSync(t *testing.T) {
	out, err := CollectSync(context.Background(), producerOf([]audio.Chunk{chunkOf(1), chunkOf(2), chunkOf(3)}, nil), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SampleRate != 16000 || out.Len() != 6 || out.Samples[4] != 3 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func TestBridgeCountsSuppressedErrors(t *testing.T) {
	m, reader := newTestMetrics(t)

	chunks, errs := Bridge(context.Background(),
		producerOf([]audio.Chunk{chunkOf(1), chunkOf(2)}, errors.New("boom")),
		WithLogger(newLogger()), WithMetrics(m, "test"))
	if _, err := Drain(chunks, errs, 24000); err == nil {
		t.Fatal("expected error")
	}

	rm := collect(t, reader)
	if got := counterValue(rm, "loqa.tts.suppressed_errors"); got != 1 {
		t.Fatalf("expected 1 suppressed error, got %d", got)
	}
	if got := counterValue(rm, "loqa.tts.chunks"); got != 0 {
		t.Fatalf("bridge must leave chunk counting to producers, got %d", got)
	}
}

func TestBridgeCancellationIsNotAFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())
	hooked := make(chan error, 1)
	produce := func(ctx context.Context, yield func(audio.Chunk) error) error {
		for i := 0; ; i++ {
			if err := yield(chunkOf(int16(i))); err != nil {
				return err
			}
		}
	}
	chunks, errs := Bridge(ctx, produce,
		WithLogger(newLogger()),
		WithQueueSize(1),
		WithMetrics(m, "test"),
		WithErrorHook(func(err error) { hooked <- err }),
	)
	<-chunks
	cancel()
	for range chunks {
	}

	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled on the side channel, got %v", err)
	}
	select {
	case err := <-hooked:
		t.Fatalf("hook must not fire for an abandoned stream, got %v", err)
	default:
	}
	if got := counterValue(collect(t, reader), "loqa.tts.suppressed_errors"); got != 0 {
		t.Fatalf("expected no suppressed errors, got %d", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordToken(ctx, "x")
	m.RecordWindow(ctx, "x")
	m.RecordDroppedFrame(ctx, "x")
	m.RecordChunk(ctx, "x", chunkOf(1))
	m.RecordSuppressedError(ctx, "x")
	m.RecordTimeToFirstToken(ctx, "x", time.Millisecond)
}

func counterValue(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return -1
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
