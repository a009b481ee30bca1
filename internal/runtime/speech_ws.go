package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-phone/internal/tts"
)

// speechDone closes one utterance on a speech socket. Audio for the
// utterance precedes it as binary PCM messages.
type speechDone struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Chunks     int    `json:"chunks"`
	Bytes      int    `json:"bytes"`
	Error      string `json:"error,omitempty"`
}

// ServeWS keeps a call's speech channel open: every JSON request received
// is voiced in turn and answered with binary PCM frames followed by a
// "done" message. Failures end the utterance, not the connection.
func (h *speechHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slogError(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := r.Context()
	for {
		var req speechRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug("speech socket closed", slogError(err))
			}
			return
		}
		done := h.voiceOverSocket(ctx, conn, req)
		if err := wsjson.Write(ctx, conn, done); err != nil {
			h.logger.Debug("speech socket write failed", slogError(err))
			return
		}
	}
}

func (h *speechHandler) voiceOverSocket(ctx context.Context, conn *websocket.Conn, req speechRequest) speechDone {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	done := speechDone{Type: "done", SessionID: req.SessionID, SampleRate: h.sampleRate}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		done.Error = "text is required"
		return done
	}
	voice := req.Voice
	if voice == "" {
		voice = h.voice
	}

	synthCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	started := time.Now()
	err := h.consume(synthCtx, tts.SynthRequest{SessionID: req.SessionID, Text: text, Voice: voice}, func(chunk tts.SynthChunk) error {
		if len(chunk.PCM) == 0 {
			return nil
		}
		if chunk.SampleRate > 0 {
			done.SampleRate = chunk.SampleRate
		}
		if err := conn.Write(synthCtx, websocket.MessageBinary, chunk.PCM); err != nil {
			return err
		}
		done.Chunks++
		done.Bytes += len(chunk.PCM)
		return nil
	})
	h.metrics.record(ctx, "ws", started, done.Bytes, err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("speech socket utterance ended early", slog.String("session_id", req.SessionID), slogError(err))
		}
		done.Error = err.Error()
	}
	return done
}
