package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.Orpheus.Voice != "mia" {
		t.Fatalf("expected default orpheus voice mia, got %q", cfg.TTS.Orpheus.Voice)
	}
	if cfg.TTS.Orpheus.SampleRate != 24000 {
		t.Fatalf("expected 24000 Hz, got %d", cfg.TTS.Orpheus.SampleRate)
	}
	if cfg.TTS.Together.Model != "canopylabs/orpheus-3b-0.1-ft" {
		t.Fatalf("unexpected together model %q", cfg.TTS.Together.Model)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	data := []byte(`
tts:
  enabled: true
  mode: orpheus
  orpheus:
    endpoint: http://gpu-pod:8000
    voice: tara
    temperature: 0.4
    headers:
      X-Api-Key: abc
    codec:
      mode: exec
      command: "python3 snac_decode.py --device cpu"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TTS.Orpheus.Endpoint != "http://gpu-pod:8000" {
		t.Fatalf("endpoint not loaded: %q", cfg.TTS.Orpheus.Endpoint)
	}
	if cfg.TTS.Orpheus.Voice != "tara" || cfg.TTS.Orpheus.Temperature != 0.4 {
		t.Fatalf("orpheus overrides not applied: %+v", cfg.TTS.Orpheus)
	}
	if cfg.TTS.Orpheus.Headers["X-Api-Key"] != "abc" {
		t.Fatalf("headers not loaded: %v", cfg.TTS.Orpheus.Headers)
	}
	// untouched fields keep defaults
	if cfg.TTS.Orpheus.MaxTokens != 1200 {
		t.Fatalf("expected default max tokens, got %d", cfg.TTS.Orpheus.MaxTokens)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_TTS_ORPHEUS_TOP_P", "0.8")
	t.Setenv("LOQA_TTS_ORPHEUS_MAX_TOKENS", "900")
	t.Setenv("LOQA_TTS_TOGETHER_API_KEY", "tok")
	t.Setenv("LOQA_AGENT_FALLBACK_MESSAGE", "sorry")
	t.Setenv("LOQA_AGENT_HISTORY_TURNS", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" || cfg.Node.HeartbeatInterval != 1500 || cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected node overrides, got %+v", cfg.Node)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.TTS.Orpheus.TopP != 0.8 || cfg.TTS.Orpheus.MaxTokens != 900 {
		t.Fatalf("expected orpheus overrides, got %+v", cfg.TTS.Orpheus)
	}
	if cfg.TTS.Together.APIKey != "tok" {
		t.Fatalf("expected together api key override")
	}
	if cfg.Agent.FallbackMessage != "sorry" {
		t.Fatalf("expected fallback override, got %q", cfg.Agent.FallbackMessage)
	}
	if cfg.Agent.HistoryTurns != 4 {
		t.Fatalf("expected history turns override, got %d", cfg.Agent.HistoryTurns)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown tts mode", func(c *Config) { c.TTS.Enabled = true; c.TTS.Mode = "kokoro" }},
		{"together without key", func(c *Config) { c.TTS.Enabled = true; c.TTS.Mode = "together" }},
		{"orpheus exec codec without command", func(c *Config) {
			c.TTS.Enabled = true
			c.TTS.Mode = "orpheus"
			c.TTS.Orpheus.Codec.Mode = "exec"
		}},
		{"orpheus bad codec mode", func(c *Config) {
			c.TTS.Enabled = true
			c.TTS.Mode = "orpheus"
			c.TTS.Orpheus.Codec.Mode = "grpc"
		}},
		{"whisper without endpoint", func(c *Config) {
			c.STT.Enabled = true
			c.STT.Mode = "whisper"
			c.STT.Endpoint = ""
		}},
		{"openai llm without endpoint", func(c *Config) {
			c.LLM.Enabled = true
			c.LLM.Mode = "openai"
			c.LLM.Endpoint = ""
		}},
		{"bad retention", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.TTS.Enabled = true
	cfg.TTS.Mode = "orpheus"
	if err := validate(&cfg); err != nil {
		t.Fatalf("default orpheus config should validate: %v", err)
	}
}
