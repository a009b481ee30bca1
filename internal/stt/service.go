package stt

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

// Service buffers caller audio per session and publishes transcripts. A
// frame with Final set closes the utterance and triggers the final pass.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	logger     *slog.Logger
	sessions   map[string]*sessionState
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	publish    func(subject string, data []byte) error
}

type sessionState struct {
	buffer       []byte
	started      time.Time
	lastPartial  time.Time
	inflight     bool
	pendingFinal bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "stt-service")),
		sessions:   make(map[string]*sessionState),
		ctx:        ctx,
		cancel:     cancel,
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
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.logger.Info("stt service ready", slog.String("mode", s.cfg.Mode))
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
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	s.ingest(frame)
}

func (s *Service) ingest(frame protocol.AudioFrame) {
	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{started: time.Now()}
		s.sessions[frame.SessionID] = state
	}
	state.buffer = append(state.buffer, frame.PCM...)
	partialDue := s.cfg.PublishInterim && !frame.Final && s.partialDueLocked(state)
	s.mu.Unlock()

	switch {
	case frame.Final:
		s.schedule(frame.SessionID, true)
	case partialDue:
		s.schedule(frame.SessionID, false)
	}
}

func (s *Service) partialDueLocked(state *sessionState) bool {
	if state.inflight {
		return false
	}
	if state.lastPartial.IsZero() {
		state.lastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 || time.Since(state.lastPartial) < interval {
		return false
	}
	state.lastPartial = time.Now()
	return true
}

// schedule transcribes the buffered audio. Only one pass per session runs at
// a time; a final request arriving mid-pass is replayed when the pass ends.
func (s *Service) schedule(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.inflight {
		if final {
			state.pendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.buffer...)
	state.inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		start := time.Now()
		result, err := s.recognizer.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels, final)
		if err != nil {
			s.logger.Warn("stt transcription failed", slog.String("session_id", sessionID), slogError(err))
		} else {
			s.publishTranscript(sessionID, result, final)
			s.logger.Debug("stt pass complete",
				slog.String("session_id", sessionID),
				slog.Bool("final", final),
				slog.Duration("latency", time.Since(start)),
			)
		}

		s.mu.Lock()
		var replayFinal bool
		if state := s.sessions[sessionID]; state != nil {
			state.inflight = false
			replayFinal = state.pendingFinal && !final
			if final {
				delete(s.sessions, sessionID)
			} else {
				state.lastPartial = time.Now()
			}
		}
		s.mu.Unlock()

		if replayFinal {
			s.schedule(sessionID, true)
		}
	}()
}

func (s *Service) publishTranscript(sessionID string, result TranscriptResult, final bool) {
	if result.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	data, err := json.Marshal(protocol.Transcript{
		SessionID:  sessionID,
		Text:       result.Text,
		Partial:    !final,
		Timestamp:  time.Now().UTC(),
		Confidence: result.Confidence,
	})
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.publish(subject, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
