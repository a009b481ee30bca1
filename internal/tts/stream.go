package tts

import (
	"context"

	"github.com/loqalabs/loqa-phone/internal/audio"
)

// StreamFunc starts an asynchronous synthesis of text in voice.
type StreamFunc func(ctx context.Context, text, voice string) (<-chan audio.Chunk, <-chan error)

type streamSynth struct {
	stream     StreamFunc
	sampleRate int
	channels   int
}

// NewStreamSynth adapts a chunk stream to the Synthesizer contract. Chunks
// are numbered in order and followed by an empty Final chunk once the stream
// closes, whether or not it ended with an error.
func NewStreamSynth(stream StreamFunc, sampleRate, channels int) Synthesizer {
	if channels <= 0 {
		channels = 1
	}
	return &streamSynth{stream: stream, sampleRate: sampleRate, channels: channels}
}

func (s *streamSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	out := make(chan SynthChunk)
	errs := make(chan error, 1)
	chunks, streamErrs := s.stream(ctx, req.Text, req.Voice)
	go func() {
		defer close(errs)
		defer close(out)
		sequence := 0
		sampleRate := s.sampleRate
		send := func(c SynthChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for chunk := range chunks {
			sampleRate = chunk.SampleRate
			ok := send(SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: chunk.SampleRate,
				Channels:   s.channels,
				PCM:        chunk.Bytes(),
			})
			if !ok {
				// keep draining so the producer goroutine can exit
				for range chunks {
				}
				break
			}
			sequence++
		}
		var streamErr error
		if streamErrs != nil {
			streamErr = <-streamErrs
		}
		if ctx.Err() == nil {
			send(SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: sampleRate,
				Channels:   s.channels,
				Final:      true,
			})
		}
		if streamErr != nil {
			errs <- streamErr
		}
	}()
	return out, errs
}
