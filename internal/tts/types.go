package tts

import (
	"context"
	"errors"
)

// ErrUnknownMode is returned for an unsupported tts.mode.
var ErrUnknownMode = errors.New("tts: unknown mode")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk contains PCM data. A chunk with Final set closes the stream and
// may carry no samples.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. The chunk channel is
// closed when synthesis ends; at most one error is sent on the error channel.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
