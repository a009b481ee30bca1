package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-phone/internal/protocol"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator streams from a local Ollama /api/chat endpoint, one
// JSON object per line.
type ollamaGenerator struct {
	endpoint string
	models   tierModels
	client   *http.Client
}

func NewOllamaGenerator(endpoint, fastModel, balancedModel string) Generator {
	return &ollamaGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		models:   tierModels{fast: fastModel, balanced: balancedModel, fallback: defaultOllamaModel},
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaRequest struct {
	Model    string             `json:"model"`
	Messages []protocol.Message `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  ollamaOptions      `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Message         protocol.Message `json:"message"`
	Done            bool             `json:"done"`
	EvalCount       int              `json:"eval_count,omitempty"`
	PromptEvalCount int              `json:"prompt_eval_count,omitempty"`
	Error           string           `json:"error,omitempty"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	messages := make([]protocol.Message, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, protocol.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.History...)
	messages = append(messages, protocol.Message{Role: protocol.RoleUser, Content: req.Prompt})

	body, err := json.Marshal(ollamaRequest{
		Model:    g.models.pick(req.Tier),
		Messages: messages,
		Stream:   true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama returned status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	scanner := bufio.NewScanner(resp.Body)
	var (
		answer                         strings.Builder
		promptTokens, completionTokens int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		answer.WriteString(chunk.Message.Content)
		if chunk.EvalCount > 0 {
			completionTokens = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			promptTokens = chunk.PromptEvalCount
		}
		out := Chunk{
			SessionID:        req.SessionID,
			Content:          chunk.Message.Content,
			Partial:          !chunk.Done,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Latency:          time.Since(started),
			TraceID:          req.TraceID,
		}
		if chunk.Done {
			// the final chunk carries the whole answer for the agent
			out.Content = strings.TrimSpace(answer.String())
		}
		if err := consumer(out); err != nil {
			return err
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}
