package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/loqalabs/loqa-phone/internal/protocol"
)

// openAIGenerator streams chat completions from an OpenAI-compatible API
// such as Groq. Every delta is forwarded as a partial chunk; the final chunk
// carries the whole answer.
type openAIGenerator struct {
	client oai.Client
	models tierModels
}

func NewOpenAIGenerator(endpoint, apiKey, fastModel, balancedModel string) Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
	}
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return &openAIGenerator{
		client: oai.NewClient(opts...),
		models: tierModels{fast: fastModel, balanced: balancedModel},
	}
}

func (g *openAIGenerator) params(req Request) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, turn := range req.History {
		switch turn.Role {
		case protocol.RoleUser:
			messages = append(messages, oai.UserMessage(turn.Content))
		case protocol.RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(turn.Content)
			messages = append(messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.models.pick(req.Tier)),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	stream := g.client.Chat.Completions.NewStreaming(ctx, g.params(req))
	defer stream.Close()

	var answer strings.Builder
	var promptTokens, completionTokens int
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			promptTokens = int(chunk.Usage.PromptTokens)
			completionTokens = int(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		answer.WriteString(delta)
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   delta,
			Partial:   true,
			Latency:   time.Since(start),
			TraceID:   req.TraceID,
		}); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("chat completion stream: %w", err)
	}
	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          strings.TrimSpace(answer.String()),
		Partial:          false,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
