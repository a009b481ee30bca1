package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-phone/internal/bus"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/eventstore"
	"github.com/loqalabs/loqa-phone/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	EventStarted   = "tts.started"
	EventCompleted = "tts.completed"
	EventError     = "tts.error"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// Recorder keeps the per-session synthesis timeline.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, actorID, privacy string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type Service struct {
	cfg      config.TTSConfig
	bus      *bus.Client
	pub      publisher
	synth    Synthesizer
	recorder Recorder
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, recorder Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		synth:    synth,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
	if busClient != nil {
		s.pub = busClient.Conn()
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe tts requests: %w", err)
	}
	s.sub = sub
	s.logger.Info("tts service ready", slog.String("mode", s.cfg.Mode))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.Voice == "" {
		req.Voice = s.cfg.Voice
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(req)
	}()
}

func (s *Service) timeout() time.Duration {
	if s.cfg.TimeoutMS > 0 {
		return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	}
	return 45 * time.Second
}

// process voices one request, publishing every chunk in order and closing
// the session with a status message. Synthesis errors end the session early
// but never discard audio already published.
func (s *Service) process(req protocol.TTSRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()

	started := time.Now()
	s.record(ctx, req.SessionID, EventStarted, map[string]any{"voice": req.Voice, "chars": len(req.Text)})

	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{SessionID: req.SessionID, Text: req.Text, Voice: req.Voice})
	sequence := 0
	var synthErr error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if len(chunk.PCM) == 0 && !chunk.Final {
				continue
			}
			chunk.Sequence = sequence
			sequence++
			s.publishChunk(req, chunk)
		case err, ok := <-errs:
			if ok && err != nil {
				synthErr = err
				s.logger.Warn("tts synthesis error", slog.String("session_id", req.SessionID), slogError(err))
				s.record(context.WithoutCancel(ctx), req.SessionID, EventError, map[string]any{"error": err.Error()})
			}
			errs = nil
		case <-ctx.Done():
			synthErr = ctx.Err()
			s.logger.Warn("tts synthesis cancelled", slog.String("session_id", req.SessionID), slogError(synthErr))
			chunks, errs = nil, nil
		}
	}

	status := protocol.TTSStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Completed: synthErr == nil,
		Chunks:    sequence,
		Timestamp: time.Now().UTC(),
	}
	if synthErr != nil {
		status.Error = synthErr.Error()
	}
	if data, err := json.Marshal(status); err == nil {
		if err := s.pub.Publish(protocol.SubjectTTSDone, data); err != nil {
			s.logger.Warn("failed to publish tts status", slogError(err))
		}
	}
	s.record(context.WithoutCancel(ctx), req.SessionID, EventCompleted, map[string]any{
		"chunks":     sequence,
		"latency_ms": time.Since(started).Milliseconds(),
		"completed":  status.Completed,
	})
	s.logger.Info("tts session finished",
		slog.String("session_id", req.SessionID),
		slog.Int("chunks", sequence),
		slog.Duration("latency", time.Since(started)),
	)
}

func (s *Service) publishChunk(req protocol.TTSRequest, chunk SynthChunk) {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal tts chunk", slogError(err))
		return
	}
	if err := s.pub.Publish(protocol.SubjectTTSAudio, data); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func (s *Service) record(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if s.recorder == nil || sessionID == "" {
		return
	}
	if eventType == EventStarted {
		if err := s.recorder.AppendSession(ctx, sessionID, "tts", "session"); err != nil {
			s.logger.Warn("failed to record tts session", slogError(err))
			return
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	evt := eventstore.Event{SessionID: sessionID, ActorID: "tts", Type: eventType, Payload: data, Privacy: "session"}
	if err := s.recorder.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record tts event", slog.String("type", eventType), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
