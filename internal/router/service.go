// Package router runs the phone agent loop: a final caller transcript
// becomes an LLM request, and the final LLM answer is voiced through TTS.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-phone/internal/bus"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/protocol"
	"github.com/nats-io/nats.go"
)

type Service struct {
	cfg            config.AgentConfig
	bus            *bus.Client
	logger         *slog.Logger
	subTranscripts *nats.Subscription
	subLLM         *nats.Subscription
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	sessions       map[string]*sessionState
	mu             sync.Mutex
	publish        func(subject string, data []byte) error
	now            func() time.Time
}

// sessionState is the agent's memory of one call. pending is the prompt
// still waiting for its answer; history holds completed turns only.
type sessionState struct {
	history  []protocol.Message
	pending  string
	voice    string
	tier     string
	asked    time.Time
	lastSeen time.Time
}

func NewService(parent context.Context, cfg config.AgentConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		logger:   logger.With(slog.String("component", "agent")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*sessionState),
		now:      time.Now,
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
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subTranscripts = sub

	subLLM, err := s.bus.Conn().Subscribe(protocol.SubjectLLMResponseFinal, s.handleLLMResponse)
	if err != nil {
		_ = s.subTranscripts.Drain()
		return err
	}
	s.subLLM = subLLM
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subTranscripts != nil {
		_ = s.subTranscripts.Drain()
	}
	if s.subLLM != nil {
		_ = s.subLLM.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subTranscripts != nil && s.subLLM != nil)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("agent failed to decode transcript", slogError(err))
		return
	}
	s.onTranscript(transcript)
}

func (s *Service) onTranscript(transcript protocol.Transcript) {
	prompt := strings.TrimSpace(transcript.Text)
	if prompt == "" || transcript.Partial {
		return
	}

	now := s.now()
	s.mu.Lock()
	s.expireLocked(now)
	state, ok := s.sessions[transcript.SessionID]
	if !ok {
		state = &sessionState{voice: s.cfg.DefaultVoice, tier: s.cfg.DefaultTier}
		s.sessions[transcript.SessionID] = state
	}
	state.pending = prompt
	state.asked = now
	state.lastSeen = now
	history := slices.Clone(state.history)
	tier := state.tier
	s.mu.Unlock()

	req := protocol.LLMRequest{
		SessionID: transcript.SessionID,
		Prompt:    prompt,
		System:    s.cfg.SystemPrompt,
		History:   history,
		Tier:      tier,
		Timestamp: now.UTC(),
	}
	if err := s.send(protocol.SubjectLLMRequest, req); err != nil {
		s.logger.Warn("agent failed to publish llm request", slogError(err))
	}
}

func (s *Service) handleLLMResponse(msg *nats.Msg) {
	var resp protocol.LLMResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		s.logger.Warn("agent failed to decode llm response", slogError(err))
		return
	}
	s.onLLMResponse(resp)
}

// onLLMResponse voices the answer. An empty answer is replaced by the
// fallback message so the caller is never left in silence.
func (s *Service) onLLMResponse(resp protocol.LLMResponse) {
	if resp.Partial {
		return
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = s.cfg.FallbackMessage
		s.logger.Info("using fallback message", slog.String("session_id", resp.SessionID))
	}

	voice := s.cfg.DefaultVoice
	now := s.now()
	s.mu.Lock()
	if state := s.sessions[resp.SessionID]; state != nil {
		if state.voice != "" {
			voice = state.voice
		}
		if state.pending != "" && text != "" {
			state.history = append(state.history,
				protocol.Message{Role: protocol.RoleUser, Content: state.pending},
				protocol.Message{Role: protocol.RoleAssistant, Content: text})
			state.history = s.trimHistory(state.history)
			s.logger.Debug("agent turn",
				slog.String("session_id", resp.SessionID),
				slog.Int("turns", len(state.history)/2),
				slog.Duration("llm_latency", now.Sub(state.asked)),
			)
		}
		state.pending = ""
		state.lastSeen = now
	}
	s.mu.Unlock()
	if text == "" {
		return
	}

	req := protocol.TTSRequest{
		SessionID: resp.SessionID,
		Text:      text,
		Voice:     voice,
		Target:    s.cfg.Target,
		TraceID:   resp.TraceID,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.send(protocol.SubjectTTSRequest, req); err != nil {
			s.logger.Warn("agent failed to publish tts request", slogError(err))
		}
	}()
}

// trimHistory keeps the most recent cfg.HistoryTurns exchanges.
func (s *Service) trimHistory(history []protocol.Message) []protocol.Message {
	limit := s.cfg.HistoryTurns * 2
	if len(history) <= limit {
		return history
	}
	return slices.Clone(history[len(history)-limit:])
}

// expireLocked forgets calls that have been quiet for longer than the
// configured idle period. s.mu must be held.
func (s *Service) expireLocked(now time.Time) {
	idle := time.Duration(s.cfg.SessionIdleMS) * time.Millisecond
	if idle <= 0 {
		return
	}
	for id, state := range s.sessions {
		if now.Sub(state.lastSeen) > idle {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) send(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.publish(subject, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
