package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-phone/internal/bus"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/protocol"
	"github.com/nats-io/nats.go"
)

type Service struct {
	cfg       config.LLMConfig
	bus       *bus.Client
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     bool
	logger    *slog.Logger
	publish   func(subject string, data []byte) error
}

func NewService(parent context.Context, cfg config.LLMConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
	}
	if busClient != nil {
		s.publish = busClient.Conn().Publish
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectLLMRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe LLM requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.LLMRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode llm request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generate(req)
	}()
}

// generate answers one request. A failed generation still publishes an
// empty final response so the agent can fall back instead of waiting.
func (s *Service) generate(req protocol.LLMRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
	defer cancel()

	options, err := OptionsFromConfig(s.cfg, req.Tier)
	if err != nil {
		s.logger.Warn("invalid LLM options", slogError(err))
		return
	}
	options.SessionID = req.SessionID
	options.Prompt = req.Prompt
	options.System = req.System
	options.History = req.History
	options.MaxTokens = coalesceInt(req.MaxTokens, s.cfg.MaxTokens)
	if req.Temperature != 0 {
		options.Temperature = req.Temperature
	}
	options.TraceID = req.TraceID

	start := time.Now()
	sentFinal := false
	err = s.generator.Generate(ctx, options, func(chunk Chunk) error {
		if !chunk.Partial {
			sentFinal = true
		}
		return s.publishChunk(chunk)
	})
	if err != nil {
		s.logger.Warn("llm generation failed", slog.String("session_id", req.SessionID), slogError(err))
	}
	if !sentFinal {
		_ = s.publishResponse(protocol.LLMResponse{SessionID: req.SessionID, TraceID: req.TraceID, Timestamp: time.Now().UTC()}, protocol.SubjectLLMResponseFinal)
		return
	}
	s.logger.Info("llm generation complete", slog.Duration("latency", time.Since(start)))
}

func (s *Service) publishChunk(chunk Chunk) error {
	if chunk.Content == "" && chunk.Partial {
		return nil
	}
	msg := protocol.LLMResponse{
		SessionID:        chunk.SessionID,
		Content:          chunk.Content,
		Partial:          chunk.Partial,
		TraceID:          chunk.TraceID,
		PromptTokens:     chunk.PromptTokens,
		CompletionTokens: chunk.CompletionTokens,
		LatencyMS:        chunk.Latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
	subject := protocol.SubjectLLMResponsePartial
	if !chunk.Partial {
		subject = protocol.SubjectLLMResponseFinal
	}
	return s.publishResponse(msg, subject)
}

func (s *Service) publishResponse(msg protocol.LLMResponse, subject string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.publish(subject, data); err != nil {
		s.logger.Warn("failed to publish llm chunk", slogError(err))
		return err
	}
	return nil
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
