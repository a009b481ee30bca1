package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts"
)

const (
	headerSessionID    = "X-Session-Id"
	headerSampleRate   = "X-Sample-Rate"
	trailerSynthError  = "X-Synthesis-Error"
	maxSpeechBodyBytes = 64 << 10
)

type speechRequest struct {
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// speechHandler voices text over HTTP. By default the PCM is streamed as it
// is produced; ?format=wav collects the whole utterance into a WAV file.
type speechHandler struct {
	synth      tts.Synthesizer
	sampleRate int
	channels   int
	voice      string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *speechMetrics
}

func newSpeechHandler(synth tts.Synthesizer, sampleRate int, cfg config.TTSConfig, logger *slog.Logger) *speechHandler {
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &speechHandler{
		synth:      synth,
		sampleRate: sampleRate,
		channels:   channels,
		voice:      cfg.Voice,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "speech-http")),
	}
}

func (h *speechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req speechRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpeechBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.Voice == "" {
		req.Voice = h.voice
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	synthReq := tts.SynthRequest{SessionID: req.SessionID, Text: req.Text, Voice: req.Voice}
	switch format := r.URL.Query().Get("format"); format {
	case "", "pcm":
		h.stream(ctx, w, synthReq)
	case "wav":
		h.wav(ctx, w, synthReq)
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
	}
}

func (h *speechHandler) stream(ctx context.Context, w http.ResponseWriter, req tts.SynthRequest) {
	header := w.Header()
	header.Set("Content-Type", pcmContentType(h.sampleRate))
	header.Set(headerSessionID, req.SessionID)
	header.Set(headerSampleRate, strconv.Itoa(h.sampleRate))
	header.Set("Trailer", trailerSynthError)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	started := time.Now()
	written := 0
	err := h.consume(ctx, req, func(chunk tts.SynthChunk) error {
		if len(chunk.PCM) == 0 {
			return nil
		}
		if _, err := w.Write(chunk.PCM); err != nil {
			return err
		}
		written += len(chunk.PCM)
		return rc.Flush()
	})
	h.metrics.record(ctx, "http", started, written, err)
	if err != nil {
		header.Set(trailerSynthError, err.Error())
		h.logger.Warn("speech stream ended early",
			slog.String("session_id", req.SessionID),
			slog.Int("bytes", written),
			slogError(err))
		return
	}
	h.logger.Debug("speech stream finished", slog.String("session_id", req.SessionID), slog.Int("bytes", written))
}

func (h *speechHandler) wav(ctx context.Context, w http.ResponseWriter, req tts.SynthRequest) {
	var pcm []byte
	sampleRate := h.sampleRate
	started := time.Now()
	err := h.consume(ctx, req, func(chunk tts.SynthChunk) error {
		if chunk.SampleRate > 0 {
			sampleRate = chunk.SampleRate
		}
		pcm = append(pcm, chunk.PCM...)
		return nil
	})
	h.metrics.record(ctx, "wav", started, len(pcm), err)
	if err != nil && len(pcm) == 0 {
		h.logger.Warn("speech synthesis failed", slog.String("session_id", req.SessionID), slogError(err))
		http.Error(w, "synthesis failed", http.StatusBadGateway)
		return
	}

	data, encErr := audio.EncodeWAV(audio.Chunk{SampleRate: sampleRate, Samples: audio.BytesToSamples(pcm)}, h.channels)
	if encErr != nil {
		h.logger.Error("encode wav failed", slogError(encErr))
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	header := w.Header()
	header.Set("Content-Type", "audio/wav")
	header.Set(headerSessionID, req.SessionID)
	header.Set("Content-Length", strconv.Itoa(len(data)))
	if err != nil {
		// partial audio is still returned
		header.Set(trailerSynthError, err.Error())
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// consume feeds every chunk to fn in order and returns the first synthesis,
// cancellation or write error.
func (h *speechHandler) consume(ctx context.Context, req tts.SynthRequest, fn func(tts.SynthChunk) error) error {
	chunks, errs := h.synth.Synthesize(ctx, req)
	var result error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if result != nil {
				continue
			}
			if err := fn(chunk); err != nil {
				result = err
			}
		case err, ok := <-errs:
			if ok && err != nil && result == nil {
				result = err
			}
			errs = nil
		case <-ctx.Done():
			if result == nil {
				result = ctx.Err()
			}
			return result
		}
	}
	return result
}

func pcmContentType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d;encoding=s16le", sampleRate)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
