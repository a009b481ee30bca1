package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-phone/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// execGenerator pipes one JSON request into a command and reads a single
// JSON answer back. Calls are serialised.
type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Prompt      string             `json:"prompt"`
	System      string             `json:"system,omitempty"`
	History     []protocol.Message `json:"history,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type execResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Prompt:      req.Prompt,
		System:      req.System,
		History:     req.History,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("llm exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return fmt.Errorf("decode llm exec response: %w", err)
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          strings.TrimSpace(resp.Content),
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
