package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Agent       AgentConfig      `yaml:"agent"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"` // mock, exec, whisper
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
	PublishInterim  bool   `yaml:"publish_interim"`
}

type LLMConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Mode          string  `yaml:"mode"` // mock, ollama, exec, openai
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Command       string  `yaml:"command"`
	ModelFast     string  `yaml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced"`
	DefaultTier   string  `yaml:"default_tier"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Enabled         bool           `yaml:"enabled"`
	Mode            string         `yaml:"mode"` // mock, exec, orpheus, together
	Command         string         `yaml:"command"`
	Voice           string         `yaml:"voice"`
	SampleRate      int            `yaml:"sample_rate"`
	Channels        int            `yaml:"channels"`
	ChunkDurationMS int            `yaml:"chunk_duration_ms"`
	TimeoutMS       int            `yaml:"timeout_ms"`
	Orpheus         OrpheusConfig  `yaml:"orpheus"`
	Together        TogetherConfig `yaml:"together"`
}

type OrpheusConfig struct {
	Endpoint          string            `yaml:"endpoint"`
	Headers           map[string]string `yaml:"headers"`
	APIKey            string            `yaml:"api_key"`
	Model             string            `yaml:"model"`
	Voice             string            `yaml:"voice"`
	Temperature       float64           `yaml:"temperature"`
	TopP              float64           `yaml:"top_p"`
	MaxTokens         int               `yaml:"max_tokens"`
	RepetitionPenalty float64           `yaml:"repetition_penalty"`
	SampleRate        int               `yaml:"sample_rate"`
	TimeoutMS         int               `yaml:"timeout_ms"`
	QueueSize         int               `yaml:"queue_size"`
	Codec             CodecConfig       `yaml:"codec"`
}

type CodecConfig struct {
	Mode      string `yaml:"mode"` // http, exec
	Endpoint  string `yaml:"endpoint"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TogetherConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	QueueSize  int    `yaml:"queue_size"`
}

type AgentConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DefaultTier     string `yaml:"default_tier"`
	DefaultVoice    string `yaml:"default_voice"`
	Target          string `yaml:"target"`
	SystemPrompt    string `yaml:"system_prompt"`
	FallbackMessage string `yaml:"fallback_message"`
	HistoryTurns    int    `yaml:"history_turns"`
	SessionIdleMS   int    `yaml:"session_idle_ms"`
}

const defaultSystemPrompt = "You are a friendly phone assistant. Use only plain text suitable for speech. " +
	"Do not use emojis, asterisks, bullet points or any special formatting. " +
	"Write all numbers fully in words. Keep answers concise and easy to follow."

func Default() Config {
	return Config{
		RuntimeName: "loqa-phone",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-phone-1",
			Role:              "voice",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-phone-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Enabled:         false,
			Mode:            "mock",
			Endpoint:        "https://api.groq.com/openai/v1",
			Model:           "whisper-large-v3",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			PartialEveryMS:  800,
		},
		LLM: LLMConfig{
			Enabled:       false,
			Mode:          "mock",
			Endpoint:      "https://api.groq.com/openai/v1",
			ModelFast:     "openai/gpt-oss-20b",
			ModelBalanced: "openai/gpt-oss-20b",
			DefaultTier:   "balanced",
			MaxTokens:     256,
			Temperature:   0.7,
		},
		TTS: TTSConfig{
			Enabled:         false,
			Mode:            "mock",
			SampleRate:      24000,
			Channels:        1,
			ChunkDurationMS: 400,
			TimeoutMS:       45000,
			Orpheus: OrpheusConfig{
				Endpoint:          "http://localhost:8000",
				Model:             "orpheus-3b-0.1-ft",
				Voice:             "mia",
				Temperature:       0.6,
				TopP:              0.9,
				MaxTokens:         1200,
				RepetitionPenalty: 1.1,
				SampleRate:        24000,
				TimeoutMS:         30000,
				QueueSize:         32,
				Codec: CodecConfig{
					Mode:      "http",
					Endpoint:  "http://localhost:8001",
					TimeoutMS: 5000,
				},
			},
			Together: TogetherConfig{
				Endpoint:   "https://api.together.xyz/v1",
				Model:      "canopylabs/orpheus-3b-0.1-ft",
				Voice:      "tara",
				SampleRate: 24000,
				QueueSize:  32,
			},
		},
		Agent: AgentConfig{
			Enabled:         true,
			DefaultTier:     "balanced",
			DefaultVoice:    "",
			Target:          "default",
			SystemPrompt:    defaultSystemPrompt,
			FallbackMessage: "I'm sorry, I couldn't find anything useful in the system.",
			HistoryTurns:    10,
			SessionIdleMS:   900000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "LOQA_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.FrameDurationMS, "LOQA_STT_FRAME_DURATION_MS")
	overrideInt(&cfg.STT.PartialEveryMS, "LOQA_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "LOQA_STT_PUBLISH_INTERIM")
	overrideBool(&cfg.LLM.Enabled, "LOQA_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "LOQA_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.ModelFast, "LOQA_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "LOQA_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "LOQA_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "LOQA_TTS_CHUNK_DURATION_MS")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideString(&cfg.TTS.Orpheus.Endpoint, "LOQA_TTS_ORPHEUS_ENDPOINT")
	overrideString(&cfg.TTS.Orpheus.APIKey, "LOQA_TTS_ORPHEUS_API_KEY")
	overrideString(&cfg.TTS.Orpheus.Model, "LOQA_TTS_ORPHEUS_MODEL")
	overrideString(&cfg.TTS.Orpheus.Voice, "LOQA_TTS_ORPHEUS_VOICE")
	overrideFloat(&cfg.TTS.Orpheus.Temperature, "LOQA_TTS_ORPHEUS_TEMPERATURE")
	overrideFloat(&cfg.TTS.Orpheus.TopP, "LOQA_TTS_ORPHEUS_TOP_P")
	overrideInt(&cfg.TTS.Orpheus.MaxTokens, "LOQA_TTS_ORPHEUS_MAX_TOKENS")
	overrideFloat(&cfg.TTS.Orpheus.RepetitionPenalty, "LOQA_TTS_ORPHEUS_REPETITION_PENALTY")
	overrideInt(&cfg.TTS.Orpheus.SampleRate, "LOQA_TTS_ORPHEUS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Orpheus.TimeoutMS, "LOQA_TTS_ORPHEUS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.Orpheus.QueueSize, "LOQA_TTS_ORPHEUS_QUEUE_SIZE")
	overrideString(&cfg.TTS.Orpheus.Codec.Mode, "LOQA_TTS_ORPHEUS_CODEC_MODE")
	overrideString(&cfg.TTS.Orpheus.Codec.Endpoint, "LOQA_TTS_ORPHEUS_CODEC_ENDPOINT")
	overrideString(&cfg.TTS.Orpheus.Codec.Command, "LOQA_TTS_ORPHEUS_CODEC_COMMAND")
	overrideInt(&cfg.TTS.Orpheus.Codec.TimeoutMS, "LOQA_TTS_ORPHEUS_CODEC_TIMEOUT_MS")
	overrideString(&cfg.TTS.Together.APIKey, "LOQA_TTS_TOGETHER_API_KEY")
	overrideString(&cfg.TTS.Together.Endpoint, "LOQA_TTS_TOGETHER_ENDPOINT")
	overrideString(&cfg.TTS.Together.Model, "LOQA_TTS_TOGETHER_MODEL")
	overrideString(&cfg.TTS.Together.Voice, "LOQA_TTS_TOGETHER_VOICE")
	overrideInt(&cfg.TTS.Together.SampleRate, "LOQA_TTS_TOGETHER_SAMPLE_RATE")
	overrideBool(&cfg.Agent.Enabled, "LOQA_AGENT_ENABLED")
	overrideString(&cfg.Agent.DefaultTier, "LOQA_AGENT_DEFAULT_TIER")
	overrideString(&cfg.Agent.DefaultVoice, "LOQA_AGENT_DEFAULT_VOICE")
	overrideString(&cfg.Agent.Target, "LOQA_AGENT_TARGET")
	overrideString(&cfg.Agent.SystemPrompt, "LOQA_AGENT_SYSTEM_PROMPT")
	overrideString(&cfg.Agent.FallbackMessage, "LOQA_AGENT_FALLBACK_MESSAGE")
	overrideInt(&cfg.Agent.HistoryTurns, "LOQA_AGENT_HISTORY_TURNS")
	overrideInt(&cfg.Agent.SessionIdleMS, "LOQA_AGENT_SESSION_IDLE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg *Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec", "whisper":
		default:
			return errors.New("stt.mode must be one of mock|exec|whisper")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.Mode == "whisper" && cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=whisper")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec", "openai":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec|openai")
		}
		if (cfg.LLM.Mode == "ollama" || cfg.LLM.Mode == "openai") && cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec", "orpheus", "together":
		default:
			return errors.New("tts.mode must be one of mock|exec|orpheus|together")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.Mode == "orpheus" {
			if err := validateOrpheus(cfg.TTS.Orpheus); err != nil {
				return err
			}
		}
		if cfg.TTS.Mode == "together" {
			if cfg.TTS.Together.APIKey == "" {
				return errors.New("tts.together.api_key must be set when mode=together")
			}
			if cfg.TTS.Together.SampleRate <= 0 {
				return errors.New("tts.together.sample_rate must be positive")
			}
		}
	}
	if cfg.Agent.Enabled {
		if cfg.Agent.DefaultTier == "" {
			cfg.Agent.DefaultTier = "balanced"
		}
		if cfg.Agent.Target == "" {
			cfg.Agent.Target = "default"
		}
		if cfg.Agent.HistoryTurns < 0 {
			return errors.New("agent.history_turns must not be negative")
		}
	}
	return nil
}

func validateOrpheus(cfg OrpheusConfig) error {
	if cfg.Endpoint == "" {
		return errors.New("tts.orpheus.endpoint must not be empty")
	}
	if cfg.Model == "" {
		return errors.New("tts.orpheus.model must not be empty")
	}
	if cfg.SampleRate <= 0 {
		return errors.New("tts.orpheus.sample_rate must be positive")
	}
	if cfg.MaxTokens <= 0 {
		return errors.New("tts.orpheus.max_tokens must be positive")
	}
	switch cfg.Codec.Mode {
	case "http":
		if cfg.Codec.Endpoint == "" {
			return errors.New("tts.orpheus.codec.endpoint must be set when codec mode=http")
		}
	case "exec":
		if cfg.Codec.Command == "" {
			return errors.New("tts.orpheus.codec.command must be set when codec mode=exec")
		}
	default:
		return errors.New("tts.orpheus.codec.mode must be one of http|exec")
	}
	return nil
}
