package tts

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
)

const mockToneHz = 440.0

type mockSynth struct {
	sampleRate int
	channels   int
	chunk      time.Duration
}

// NewMockSynth returns a synthesizer that voices every word as a short tone.
// It needs no model and is used for local wiring checks.
func NewMockSynth(sampleRate, channels int, chunk time.Duration) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	if chunk <= 0 {
		chunk = 200 * time.Millisecond
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels, chunk: chunk}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		words := len(strings.Fields(req.Text))
		tone := audio.SamplesToBytes(m.tone())
		for seq := 0; seq <= words; seq++ {
			c := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   seq,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
			}
			if seq < words {
				c.PCM = tone
			} else {
				c.Final = true
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- c:
			}
		}
	}()
	return chunks, errs
}

func (m *mockSynth) tone() []int16 {
	n := int(float64(m.sampleRate) * m.chunk.Seconds())
	samples := make([]int16, n*m.channels)
	for i := 0; i < n; i++ {
		v := int16(0.2 * math.MaxInt16 * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(m.sampleRate)))
		for ch := 0; ch < m.channels; ch++ {
			samples[i*m.channels+ch] = v
		}
	}
	return samples
}
