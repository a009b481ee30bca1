// Package orpheus streams speech from an Orpheus-style text-to-speech model
// served behind an OpenAI-compatible completions endpoint.
//
// The model emits audio as text tokens of the form <custom_token_N>. Each
// token is mapped back to an audio-codec ID, IDs are gathered in a sliding
// window, and every seventh accepted ID a 28-ID window is handed to a Codec
// that turns it into 16-bit PCM. The resulting chunks are delivered
// synchronously through a yield callback or asynchronously through the
// pipeline bridge.
package orpheus

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-phone/internal/config"
)

// Voices lists the speakers of the fine-tuned Orpheus checkpoints.
var Voices = []string{"tara", "leah", "jess", "leo", "dan", "mia", "zac", "zoe"}

const defaultTimeout = 30 * time.Second

// Options configures one synthesis call. It is a value type: callers copy
// the model defaults and adjust fields without affecting other calls.
type Options struct {
	Endpoint          string
	Headers           map[string]string
	APIKey            string
	Model             string
	Voice             string
	Temperature       float64
	TopP              float64
	MaxTokens         int
	RepetitionPenalty float64
	SampleRate        int
	Timeout           time.Duration
}

// OptionsFromConfig builds defaults from config.
func OptionsFromConfig(cfg config.OrpheusConfig) Options {
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return Options{
		Endpoint:          cfg.Endpoint,
		Headers:           headers,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Voice:             cfg.Voice,
		Temperature:       cfg.Temperature,
		TopP:              cfg.TopP,
		MaxTokens:         cfg.MaxTokens,
		RepetitionPenalty: cfg.RepetitionPenalty,
		SampleRate:        cfg.SampleRate,
		Timeout:           time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// WithVoice returns a copy of o using voice, or o unchanged when voice is empty.
func (o Options) WithVoice(voice string) Options {
	if voice != "" {
		o.Voice = voice
	}
	return o
}

func (o Options) clone() Options {
	headers := make(map[string]string, len(o.Headers))
	for k, v := range o.Headers {
		headers[k] = v
	}
	o.Headers = headers
	return o
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

// formatPrompt wraps text in the special tokens the model was tuned on.
func formatPrompt(text, voice string) string {
	return fmt.Sprintf("<|audio|>%s: %s<|eot_id|>", voice, text)
}
