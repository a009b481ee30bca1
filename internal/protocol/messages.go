package protocol

import "time"

// AudioFrame represents caller PCM audio streamed into the runtime.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Message is one earlier turn of a call. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMRequest asks the language model service for a reply. History holds
// the call's earlier turns, oldest first, without the current Prompt.
type LLMRequest struct {
	SessionID   string    `json:"session_id"`
	Prompt      string    `json:"prompt"`
	System      string    `json:"system,omitempty"`
	History     []Message `json:"history,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LLMResponse carries streamed or final model output.
type LLMResponse struct {
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	Partial          bool      `json:"partial"`
	TraceID          string    `json:"trace_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// TTSRequest asks the speech service to voice Text.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AudioChunk is one piece of synthesised PCM, little-endian 16-bit.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus closes a synthesis session. Error is set when synthesis ended
// early; the audio already published stays valid.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Chunks    int       `json:"chunks"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	SubjectAudioFramePrefix   = "audio.frame"
	SubjectTranscriptPartial  = "stt.text.partial"
	SubjectTranscriptFinal    = "stt.text.final"
	SubjectLLMRequest         = "llm.request"
	SubjectLLMResponsePartial = "llm.response.partial"
	SubjectLLMResponseFinal   = "llm.response.final"
	SubjectTTSRequest         = "tts.request"
	SubjectTTSAudio           = "tts.audio"
	SubjectTTSDone            = "tts.done"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
