package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
)

// whisperRecognizer uploads utterances to an OpenAI-compatible
// /audio/transcriptions endpoint such as Groq or a faster-whisper server.
// Only final utterances are sent; partial requests return an empty result.
type whisperRecognizer struct {
	endpoint string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

type whisperResponse struct {
	Text string `json:"text"`
}

func NewWhisperRecognizer(cfg config.STTConfig) Recognizer {
	return &whisperRecognizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *whisperRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	if !final || len(pcm) < 2 {
		return TranscriptResult{}, nil
	}
	wav, err := audio.EncodeWAV(audio.Chunk{SampleRate: sampleRate, Samples: audio.BytesToSamples(pcm)}, channels)
	if err != nil {
		return TranscriptResult{}, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return TranscriptResult{}, err
	}
	if _, err := part.Write(wav); err != nil {
		return TranscriptResult{}, err
	}
	fields := map[string]string{"model": r.model, "response_format": "json"}
	if r.language != "" {
		fields["language"] = r.language
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return TranscriptResult{}, err
		}
	}
	if err := form.Close(); err != nil {
		return TranscriptResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/audio/transcriptions", &body)
	if err != nil {
		return TranscriptResult{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return TranscriptResult{}, fmt.Errorf("whisper returned status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode whisper response: %w", err)
	}
	return TranscriptResult{Text: strings.TrimSpace(out.Text), Confidence: 1}, nil
}
