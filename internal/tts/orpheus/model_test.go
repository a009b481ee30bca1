package orpheus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tokenFor builds the model token that decodes to id at position.
func tokenFor(id, position int) string {
	return fmt.Sprintf("<custom_token_%d>", id+TokenOffset+(position%FrameStride)*CodebookSize)
}

func validTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = tokenFor(i+1, i)
	}
	return tokens
}

// countCodec returns a single sample holding the position hint.
type countCodec struct {
	mu     sync.Mutex
	counts []int
	first  [][]int
	fail   map[int]error
	panics map[int]bool
}

func (c *countCodec) Decode(_ context.Context, window []int, count int) ([]byte, error) {
	c.mu.Lock()
	c.counts = append(c.counts, count)
	c.first = append(c.first, append([]int(nil), window...))
	call := len(c.counts)
	c.mu.Unlock()
	if c.panics[call] {
		panic("codec exploded")
	}
	if err := c.fail[call]; err != nil {
		return nil, err
	}
	return audio.SamplesToBytes([]int16{int16(count)}), nil
}

func newTestModel(t *testing.T, endpoint string, codec Codec, opts ...ModelOption) *Model {
	t.Helper()
	metrics, err := pipeline.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	base := []ModelOption{WithLogger(newLogger()), WithMetrics(metrics)}
	m, err := New(Options{
		Endpoint:   endpoint,
		Model:      "orpheus-3b-0.1-ft",
		Voice:      "tara",
		MaxTokens:  1200,
		SampleRate: 24000,
	}, codec, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

// staticTokens replaces the network source with a fixed token list and a
// trailing error.
func staticTokens(tokens []string, tail error) tokenSource {
	return func(ctx context.Context, text string, opts Options, consumer func(string) error) error {
		for _, tok := range tokens {
			if err := consumer(tok); err != nil {
				return err
			}
		}
		return tail
	}
}

func sseServer(t *testing.T, tokens []string, abort bool, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range tokens {
			payload, _ := json.Marshal(map[string]any{"choices": []map[string]string{{"text": tok}}})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		if abort {
			panic(http.ErrAbortHandler)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamTokensParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.Header.Get("X-Pod"); got != "gpu-1" {
			t.Errorf("unexpected custom header %q", got)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "<|audio|>tara: hello<|eot_id|>" || !req.Stream || req.MaxTokens != 1200 {
			t.Errorf("unexpected payload %+v", req)
		}
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {broken\n\n")
		fmt.Fprint(w, "data: {\"choices\":[]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"text\":\"a\"}]}\n\n")
		fmt.Fprint(w, "event: ping\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"text\":\"\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"text\":\"b\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"text\":\"c\"}]}\n\n")
	}))
	defer srv.Close()

	m := newTestModel(t, srv.URL, &countCodec{})
	opts := m.Options()
	opts.APIKey = "secret"
	opts.Headers["X-Pod"] = "gpu-1"

	var got []string
	err := m.streamTokens(context.Background(), "hello", opts, func(tok string) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("stream tokens: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
}

func TestStreamTokensStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := newTestModel(t, srv.URL, &countCodec{})
	err := m.streamTokens(context.Background(), "hello", m.Options(), func(string) error { return nil })
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStreamSyncEmitsWindows(t *testing.T) {
	srv := sseServer(t, validTokens(35), false, nil)
	defer srv.Close()

	codec := &countCodec{}
	m := newTestModel(t, srv.URL, codec)
	var chunks []audio.Chunk
	err := m.StreamSync(context.Background(), "hello there", m.Options(), func(c audio.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Samples[0] != 28 || chunks[1].Samples[0] != 35 {
		t.Fatalf("unexpected position hints %v %v", chunks[0].Samples, chunks[1].Samples)
	}
	if chunks[0].SampleRate != 24000 {
		t.Fatalf("unexpected sample rate %d", chunks[0].SampleRate)
	}
	if codec.first[0][0] != 1 || codec.first[1][0] != 8 {
		t.Fatalf("unexpected windows %v", codec.first)
	}
}

func TestStreamSyncSkipsInvalidTokens(t *testing.T) {
	var tokens []string
	pos := 0
	for i := 0; i < 28; i++ {
		tokens = append(tokens, "text without audio", "<custom_token_7", tokenFor(0, pos))
		tokens = append(tokens, tokenFor(i+1, pos))
		pos++
	}
	codec := &countCodec{}
	m := newTestModel(t, "http://unused", codec)
	m.tokens = staticTokens(tokens, nil)

	out, err := m.CollectBlocking(context.Background(), "hi", m.Options())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if out.Len() != 1 || out.Samples[0] != 28 {
		t.Fatalf("expected one window at count 28, got %v", out.Samples)
	}
}

func TestTokenMetricCountsAcceptedIDsOnly(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := pipeline.NewMetrics(mp)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	var tokens []string
	for i := 0; i < 28; i++ {
		tokens = append(tokens, "text without audio", tokenFor(0, i), tokenFor(i+1, i))
	}
	m := newTestModel(t, "http://unused", &countCodec{}, WithMetrics(metrics))
	m.tokens = staticTokens(tokens, nil)
	if _, err := m.CollectBlocking(context.Background(), "hi", m.Options()); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var accepted int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok && metric.Name == "loqa.tts.tokens" {
				accepted = 0
				for _, dp := range sum.DataPoints {
					accepted += dp.Value
				}
			}
		}
	}
	if accepted != 28 {
		t.Fatalf("expected 28 accepted ids out of %d fragments, got %d", len(tokens), accepted)
	}
}

func TestCodecFailureDropsOnlyThatWindow(t *testing.T) {
	for _, mode := range []string{"error", "panic"} {
		t.Run(mode, func(t *testing.T) {
			codec := &countCodec{}
			if mode == "error" {
				codec.fail = map[int]error{2: errors.New("bad frame")}
			} else {
				codec.panics = map[int]bool{2: true}
			}
			m := newTestModel(t, "http://unused", codec)
			m.tokens = staticTokens(validTokens(42), nil)

			out, err := m.Collect(context.Background(), "hi", m.Options())
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if out.Len() != 2 || out.Samples[0] != 28 || out.Samples[1] != 42 {
				t.Fatalf("expected windows 1 and 3, got %v", out.Samples)
			}
		})
	}
}

func TestEmptyCodecOutputIsSkipped(t *testing.T) {
	codec := CodecFunc(func(context.Context, []int, int) ([]byte, error) { return nil, nil })
	m := newTestModel(t, "http://unused", codec)
	m.tokens = staticTokens(validTokens(42), nil)

	calls := 0
	err := m.StreamSync(context.Background(), "hi", m.Options(), func(audio.Chunk) error {
		calls++
		return nil
	})
	if err != nil || calls != 0 {
		t.Fatalf("expected no chunks and no error, got %d chunks, err %v", calls, err)
	}
}

func TestTransportErrorAfterFirstWindow(t *testing.T) {
	srv := sseServer(t, validTokens(28), true, nil)
	defer srv.Close()

	m := newTestModel(t, srv.URL, &countCodec{})
	var chunks int
	err := m.StreamSync(context.Background(), "hello", m.Options(), func(audio.Chunk) error {
		chunks++
		return nil
	})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if chunks != 1 {
		t.Fatalf("expected 1 chunk before failure, got %d", chunks)
	}
}

func TestAsyncModesSuppressTransportError(t *testing.T) {
	boom := fmt.Errorf("%w: connection reset", ErrTransport)
	var hooked atomic.Value
	m := newTestModel(t, "http://unused", &countCodec{}, WithErrorHook(func(err error) { hooked.Store(err) }))
	m.tokens = staticTokens(validTokens(28), boom)

	chunks, errs := m.Stream(context.Background(), "hello", m.Options())
	n := 0
	for range chunks {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk, got %d", n)
	}
	if err := <-errs; !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error on side channel, got %v", err)
	}
	if err, _ := hooked.Load().(error); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected hook to observe error, got %v", err)
	}

	out, err := m.Collect(context.Background(), "hello", m.Options())
	if out.Len() != 1 || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected partial audio with error, got %d samples, err %v", out.Len(), err)
	}
}

func TestEmptyTextAllModes(t *testing.T) {
	var hits int32
	srv := sseServer(t, validTokens(35), false, &hits)
	defer srv.Close()

	m := newTestModel(t, srv.URL, &countCodec{})
	ctx := context.Background()

	if err := m.StreamSync(ctx, "   ", m.Options(), func(audio.Chunk) error {
		t.Fatal("unexpected chunk")
		return nil
	}); err != nil {
		t.Fatalf("stream sync: %v", err)
	}

	chunks, errs := m.Stream(ctx, "", m.Options())
	for range chunks {
		t.Fatal("unexpected chunk")
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream: %v", err)
	}

	for _, collect := range []func(context.Context, string, Options) (audio.Chunk, error){m.Collect, m.CollectBlocking} {
		out, err := collect(ctx, "\n\t", m.Options())
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		if out.SampleRate != 24000 || out.Len() != 0 || out.Samples == nil {
			t.Fatalf("expected valid empty audio, got %+v", out)
		}
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no requests, got %d", hits)
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	m := newTestModel(t, "http://unused", &countCodec{})
	m.tokens = func(ctx context.Context, text string, opts Options, consumer func(string) error) error {
		n := 28
		if text == "long" {
			n = 42
		}
		return staticTokens(validTokens(n), nil)(ctx, text, opts, consumer)
	}

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i, text := range []string{"short", "long"} {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			out, err := m.Collect(context.Background(), text, m.Options())
			if err != nil {
				t.Errorf("collect %s: %v", text, err)
			}
			results[i] = out.Len()
		}(i, text)
	}
	wg.Wait()
	if results[0] != 1 || results[1] != 3 {
		t.Fatalf("expected 1 and 3 chunks, got %v", results)
	}
}

func TestOptionsReturnsCopy(t *testing.T) {
	m := newTestModel(t, "http://unused", &countCodec{})
	opts := m.Options()
	opts.Voice = "leo"
	opts.Headers["X-Test"] = "1"

	again := m.Options()
	if again.Voice != "tara" {
		t.Fatalf("defaults mutated: voice %q", again.Voice)
	}
	if _, ok := again.Headers["X-Test"]; ok {
		t.Fatal("defaults mutated through headers")
	}
}
