package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/protocol"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	History     []protocol.Message
	Tier        string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// tierModels maps a request tier to a model name. Unknown tiers use the
// balanced model; an empty pick falls back to the other tier, then fallback.
type tierModels struct {
	fast     string
	balanced string
	fallback string
}

func (t tierModels) pick(tier string) string {
	if tier == "fast" && t.fast != "" {
		return t.fast
	}
	if t.balanced != "" {
		return t.balanced
	}
	if t.fast != "" {
		return t.fast
	}
	return t.fallback
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// NewGenerator returns the backend selected by cfg.Mode.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.ModelFast, cfg.ModelBalanced), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		return NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey, cfg.ModelFast, cfg.ModelBalanced), nil
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// OptionsFromConfig builds defaults from config.
func OptionsFromConfig(cfg config.LLMConfig, reqTier string) (Request, error) {
	req := Request{Tier: cfg.DefaultTier, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if reqTier != "" {
		req.Tier = reqTier
	}
	return req, nil
}
