package pipeline

import (
	"context"

	"github.com/loqalabs/loqa-phone/internal/audio"
)

// Drain reads every chunk from a bridged stream and joins them. The returned
// chunk is always valid: with no chunks it is empty at sampleRate. The error,
// if any, is the producer failure reported on errs; the audio gathered before
// the failure is still returned.
func Drain(chunks <-chan audio.Chunk, errs <-chan error, sampleRate int) (audio.Chunk, error) {
	var collected []audio.Chunk
	for chunk := range chunks {
		collected = append(collected, chunk)
	}
	var err error
	if errs != nil {
		err = <-errs
	}
	return audio.Concat(sampleRate, collected...), err
}

// Collect runs produce through Bridge and drains the result.
func Collect(ctx context.Context, produce Producer, sampleRate int, opts ...BridgeOption) (audio.Chunk, error) {
	chunks, errs := Bridge(ctx, produce, opts...)
	return Drain(chunks, errs, sampleRate)
}

// CollectSync runs produce on the calling goroutine and joins its chunks. Like
// Collect it always returns a valid chunk, together with any producer error.
func CollectSync(ctx context.Context, produce Producer, sampleRate int) (audio.Chunk, error) {
	var collected []audio.Chunk
	err := run(ctx, produce, func(chunk audio.Chunk) error {
		collected = append(collected, chunk)
		return nil
	})
	return audio.Concat(sampleRate, collected...), err
}
