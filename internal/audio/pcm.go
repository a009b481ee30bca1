// Package audio holds the PCM sample types shared by the speech pipeline.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Chunk is a block of mono signed 16-bit PCM at SampleRate Hz. A Chunk is
// never mutated after it has been emitted.
type Chunk struct {
	SampleRate int
	Samples    []int16
}

// Len returns the number of samples.
func (c Chunk) Len() int { return len(c.Samples) }

// Duration is the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Bytes encodes the samples as little-endian pcm_s16le.
func (c Chunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// BytesToSamples decodes little-endian pcm_s16le. A trailing odd byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian pcm_s16le.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Concat joins chunks into one chunk at sampleRate. With no input it returns a
// valid zero-length chunk.
func Concat(sampleRate int, chunks ...Chunk) Chunk {
	total := 0
	for _, c := range chunks {
		total += len(c.Samples)
	}
	samples := make([]int16, 0, total)
	for _, c := range chunks {
		samples = append(samples, c.Samples...)
	}
	return Chunk{SampleRate: sampleRate, Samples: samples}
}

// WriteWAV encodes the chunk as a 16-bit WAV file.
func WriteWAV(w io.WriteSeeker, c Chunk, channels int) error {
	if c.SampleRate <= 0 {
		return errors.New("wav: sample rate must be positive")
	}
	if channels <= 0 {
		channels = 1
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: c.SampleRate},
		SourceBitDepth: 16,
	}
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(s)
	}
	buffer.Data = data

	enc := wav.NewEncoder(w, c.SampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV returns the chunk as an in-memory WAV file.
func EncodeWAV(c Chunk, channels int) ([]byte, error) {
	ws := &writeSeeker{}
	if err := WriteWAV(ws, c, channels); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// DecodeWAV reads a 16-bit PCM WAV file.
func DecodeWAV(r io.ReadSeeker) (Chunk, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Chunk{}, errors.New("wav: invalid file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Chunk{}, fmt.Errorf("read wav: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return Chunk{SampleRate: int(dec.SampleRate), Samples: samples}, nil
}

// writeSeeker is the in-memory io.WriteSeeker the wav encoder needs to patch
// its header after the data section is written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("writeseeker: invalid whence")
	}
	if next < 0 {
		return 0, errors.New("writeseeker: negative position")
	}
	w.pos = int(next)
	return next, nil
}
