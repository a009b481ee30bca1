// Package together streams speech from the Together AI text-to-speech API.
//
// The API answers a streaming request with raw little-endian 16-bit PCM.
// The client re-frames that byte stream into sample-aligned chunks of at
// least MinChunkBytes and exposes the same synchronous, asynchronous and
// collect-all modes as the self-hosted Orpheus model.
package together

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	backendName = "together"
	tracerName  = "github.com/loqalabs/loqa-phone/tts/together"

	// MinChunkBytes is the smallest chunk emitted before end of stream,
	// 512 samples or about 21ms at 24kHz.
	MinChunkBytes = 1024

	DefaultEndpoint   = "https://api.together.xyz/v1"
	DefaultModel      = "canopylabs/orpheus-3b-0.1-ft"
	DefaultSampleRate = 24000

	connectTimeout = 10 * time.Second
	// readTimeout bounds each wait for data, not the whole utterance.
	readTimeout = 300 * time.Second
)

var (
	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("together: api key required")
	// ErrStalled is reported when the API sends nothing for longer than the
	// read timeout.
	ErrStalled = errors.New("together: stream stalled")
)

// DefaultVoices maps the hosted models to their stock speaker.
var DefaultVoices = map[string]string{
	"canopylabs/orpheus-3b-0.1-ft": "tara",
	"hexgrad/Kokoro-82M":           "af_heart",
	"cartesia/sonic-2":             "sarah",
	"cartesia/sonic":               "sarah",
}

var modelVoices = map[string][]string{
	"canopylabs/orpheus-3b-0.1-ft": {"tara", "leah", "jess", "leo", "dan", "mia", "zac", "zoe"},
	"hexgrad/Kokoro-82M":           {"af_heart", "af_bella", "af_nicole", "am_adam", "am_michael", "bf_emma", "bm_george"},
	"cartesia/sonic-2":             {"sarah"},
	"cartesia/sonic":               {"sarah"},
}

// DefaultVoice returns the stock voice for model, falling back to tara.
func DefaultVoice(model string) string {
	if v, ok := DefaultVoices[model]; ok {
		return v
	}
	return "tara"
}

// Voices lists the known voices for model.
func Voices(model string) []string {
	return append([]string(nil), modelVoices[model]...)
}

// Options selects the model, voice and rate for one call.
type Options struct {
	Model      string
	Voice      string
	SampleRate int
}

type speechRequest struct {
	Model            string `json:"model"`
	Input            string `json:"input"`
	Voice            string `json:"voice"`
	Stream           bool   `json:"stream"`
	ResponseFormat   string `json:"response_format"`
	ResponseEncoding string `json:"response_encoding"`
	SampleRate       int    `json:"sample_rate"`
}

type Client struct {
	apiKey    string
	endpoint  string
	defaults  Options
	client    *http.Client
	logger    *slog.Logger
	metrics   *pipeline.Metrics
	tracer    trace.Tracer
	queueSize int
	hook      pipeline.ErrorHook
	idle      time.Duration
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *pipeline.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

func WithErrorHook(h pipeline.ErrorHook) Option {
	return func(c *Client) { c.hook = h }
}

// WithReadTimeout sets how long the client waits for the next bytes of a
// response before giving up on it.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.idle = d
		}
	}
}

// New builds a client from config. An empty voice resolves to the model's
// stock voice.
func New(cfg config.TogetherConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		defaults: Options{
			Model:      cfg.Model,
			Voice:      cfg.Voice,
			SampleRate: cfg.SampleRate,
		},
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		queueSize: cfg.QueueSize,
		idle:      readTimeout,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.defaults.Model == "" {
		c.defaults.Model = DefaultModel
	}
	if c.defaults.Voice == "" {
		c.defaults.Voice = DefaultVoice(c.defaults.Model)
	}
	if c.defaults.SampleRate <= 0 {
		c.defaults.SampleRate = DefaultSampleRate
	}
	if c.queueSize <= 0 {
		c.queueSize = pipeline.DefaultQueueSize
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "together"))
	if c.client == nil {
		dialer := &net.Dialer{Timeout: connectTimeout}
		c.client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: c.idle,
			},
		}
	}
	c.logger.Info("together tts client ready",
		slog.String("model", c.defaults.Model),
		slog.String("voice", c.defaults.Voice),
	)
	return c, nil
}

// Options returns a copy of the client defaults.
func (c *Client) Options() Options { return c.defaults }

func (c *Client) SampleRate() int { return c.defaults.SampleRate }

// StreamSync posts text and yields aligned PCM chunks as they arrive.
// Request and transport failures are returned.
func (c *Client) StreamSync(ctx context.Context, text string, opts Options, yield func(audio.Chunk) error) error {
	opts = c.resolve(opts)
	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Warn("empty text provided")
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "together.synthesize", trace.WithAttributes(
		attribute.String("tts.model", opts.Model),
		attribute.String("tts.voice", opts.Voice),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	chunks, total, err := c.stream(ctx, text, opts, yield)
	span.SetAttributes(attribute.Int("tts.chunks", chunks), attribute.Int("tts.bytes", total))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.logger.Info("synthesis complete", slog.Int("chunks", chunks), slog.Int("bytes", total))
	return nil
}

func (c *Client) stream(ctx context.Context, text string, opts Options, yield func(audio.Chunk) error) (int, int, error) {
	body, err := json.Marshal(speechRequest{
		Model:            opts.Model,
		Input:            text,
		Voice:            opts.Voice,
		Stream:           true,
		ResponseFormat:   "raw",
		ResponseEncoding: "pcm_s16le",
		SampleRate:       opts.SampleRate,
	})
	if err != nil {
		return 0, 0, err
	}
	// A long utterance may stream for minutes; only silence aborts it.
	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(c.idle, func() { cancel(ErrStalled) })
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending speech request", slog.Int("chars", len(text)))
	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("together speech request: %w", stalledOr(reqCtx, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, 0, fmt.Errorf("together returned status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var (
		pending []byte
		chunks  int
		total   int
		buf     = make([]byte, 8192)
	)
	emit := func(final bool) error {
		aligned := len(pending) &^ 1
		if aligned == 0 || (!final && len(pending) < MinChunkBytes) {
			return nil
		}
		chunk := audio.Chunk{SampleRate: opts.SampleRate, Samples: audio.BytesToSamples(pending[:aligned])}
		pending = append(pending[:0], pending[aligned:]...)
		if chunks == 0 {
			ttfa := time.Since(started)
			c.logger.Debug("first audio chunk", slog.Int("bytes", aligned), slog.Duration("latency", ttfa))
			c.metrics.RecordTimeToFirstToken(ctx, backendName, ttfa)
		}
		chunks++
		total += aligned
		c.metrics.RecordChunk(ctx, backendName, chunk)
		return yield(chunk)
	}
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(c.idle)
			pending = append(pending, buf[:n]...)
			if err := emit(false); err != nil {
				return chunks, total, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return chunks, total, fmt.Errorf("together read stream: %w", stalledOr(reqCtx, readErr))
		}
	}
	if err := emit(true); err != nil {
		return chunks, total, err
	}
	return chunks, total, nil
}

// stalledOr returns ErrStalled when the watchdog cancelled ctx, err otherwise.
func stalledOr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrStalled) {
		return cause
	}
	return err
}

// Stream runs StreamSync on a background goroutine.
func (c *Client) Stream(ctx context.Context, text string, opts Options) (<-chan audio.Chunk, <-chan error) {
	return pipeline.Bridge(ctx, c.producer(text, opts), c.bridgeOptions()...)
}

func (c *Client) Collect(ctx context.Context, text string, opts Options) (audio.Chunk, error) {
	opts = c.resolve(opts)
	return pipeline.Collect(ctx, c.producer(text, opts), opts.SampleRate, c.bridgeOptions()...)
}

func (c *Client) CollectBlocking(ctx context.Context, text string, opts Options) (audio.Chunk, error) {
	opts = c.resolve(opts)
	return pipeline.CollectSync(ctx, c.producer(text, opts), opts.SampleRate)
}

func (c *Client) producer(text string, opts Options) pipeline.Producer {
	return func(ctx context.Context, yield func(audio.Chunk) error) error {
		return c.StreamSync(ctx, text, opts, yield)
	}
}

func (c *Client) bridgeOptions() []pipeline.BridgeOption {
	return []pipeline.BridgeOption{
		pipeline.WithQueueSize(c.queueSize),
		pipeline.WithLogger(c.logger),
		pipeline.WithMetrics(c.metrics, backendName),
		pipeline.WithErrorHook(c.hook),
	}
}

func (c *Client) resolve(opts Options) Options {
	if opts.Model == "" {
		opts.Model = c.defaults.Model
	}
	if opts.Voice == "" {
		if opts.Model == c.defaults.Model {
			opts.Voice = c.defaults.Voice
		} else {
			opts.Voice = DefaultVoice(opts.Model)
		}
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = c.defaults.SampleRate
	}
	return opts
}
