// Package pipeline turns synchronous, blocking speech producers into ordered
// chunk streams and collects them into whole utterances.
//
// A Producer runs on the caller's goroutine and hands chunks to a yield
// callback. Bridge runs the same Producer on a dedicated goroutine and
// republishes each chunk on a bounded FIFO channel. The channel is always
// closed when the producer returns, so consumers ranging over it never hang.
// Producer failures are kept off the chunk channel: they are logged, counted,
// passed to an optional hook and reported on a separate error channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-phone/internal/audio"
)

// DefaultQueueSize is the depth of the hand-off channel between the producer
// goroutine and the consumer.
const DefaultQueueSize = 32

// Producer synthesises one utterance, calling yield for every chunk in order.
// A non-nil error from yield must stop production and be returned.
type Producer func(ctx context.Context, yield func(audio.Chunk) error) error

// ErrorHook receives producer errors that were suppressed on the chunk stream.
// A consumer abandoning the stream is not reported.
type ErrorHook func(err error)

type bridgeConfig struct {
	queueSize int
	logger    *slog.Logger
	hook      ErrorHook
	metrics   *Metrics
	backend   string
}

// BridgeOption customises Bridge.
type BridgeOption func(*bridgeConfig)

// WithQueueSize sets the hand-off channel depth. Values below 1 are ignored.
func WithQueueSize(n int) BridgeOption {
	return func(c *bridgeConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithLogger sets the logger used for suppressed producer errors.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(c *bridgeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithErrorHook registers a callback for suppressed producer errors.
func WithErrorHook(h ErrorHook) BridgeOption {
	return func(c *bridgeConfig) { c.hook = h }
}

// WithMetrics counts suppressed producer errors on m, labelled with backend.
// Chunks are counted by the producers themselves so that both the bridged
// and the synchronous paths are measured once.
func WithMetrics(m *Metrics, backend string) BridgeOption {
	return func(c *bridgeConfig) {
		c.metrics = m
		c.backend = backend
	}
}

// Bridge starts produce on its own goroutine and returns the chunk stream and
// a buffered error channel. The chunk channel is closed once the producer has
// returned, whatever the outcome; the error channel then yields at most one
// error and is closed as well.
//
// Cancelling ctx makes pending hand-offs return ctx.Err() to the producer, so
// an abandoned stream does not pin the goroutine.
func Bridge(ctx context.Context, produce Producer, opts ...BridgeOption) (<-chan audio.Chunk, <-chan error) {
	cfg := bridgeConfig{queueSize: DefaultQueueSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	chunks := make(chan audio.Chunk, cfg.queueSize)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)

		err := run(ctx, produce, func(chunk audio.Chunk) error {
			select {
			case chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			cfg.logger.Debug("synthesis abandoned by consumer")
		} else {
			cfg.logger.Warn("synthesis producer failed", slogError(err))
			cfg.metrics.RecordSuppressedError(context.WithoutCancel(ctx), cfg.backend)
			if cfg.hook != nil {
				cfg.hook(err)
			}
		}
		errs <- err
	}()

	return chunks, errs
}

// run invokes produce and converts a panic into an error so the deferred
// channel close in Bridge always executes on a clean path.
func run(ctx context.Context, produce Producer, yield func(audio.Chunk) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesis producer panic: %v", r)
		}
	}()
	return produce(ctx, yield)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
