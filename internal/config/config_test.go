package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 30*time.Minute {
		t.Errorf("Expected 30m idle timeout, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.Providers.LLM != ProviderMock || cfg.Providers.STT != ProviderMock || cfg.Providers.TTS != ProviderMock {
		t.Errorf("Expected mock providers, got %+v", cfg.Providers)
	}
	if cfg.Archive.Backend != BackendMemory || cfg.Presence.Backend != BackendMemory {
		t.Errorf("Expected memory backends, got %s/%s", cfg.Archive.Backend, cfg.Presence.Backend)
	}
	if cfg.Server.Node == "" {
		t.Error("Expected node to default to the hostname")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CLIENT_KEYS", "alice:a-key, bob:b-key")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("ELEVEN_LABS_STABILITY", "0.4")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Providers.LLM != ProviderGemini || cfg.Gemini.APIKey != "g-key" {
		t.Errorf("Unexpected gemini config %+v %+v", cfg.Providers, cfg.Gemini)
	}
	if len(cfg.Auth.ClientKeys) != 2 || cfg.Auth.ClientKeys["bob"] != "b-key" {
		t.Errorf("Unexpected client keys %v", cfg.Auth.ClientKeys)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("Unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.IdleTimeout != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.ElevenLabs.Stability != 0.4 || !cfg.Archive.S3UseSSL {
		t.Errorf("Unexpected parsed values %+v %+v", cfg.ElevenLabs, cfg.Archive)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liveview.yaml")
	content := `
server:
  port: "7070"
  language: id-ID
providers:
  tts: elevenlabs
archive:
  backend: mongo
  mongo_uri: mongodb://db:27017
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("PORT", "6060")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "6060" {
		t.Errorf("Expected environment to win, got %s", cfg.Server.Port)
	}
	if cfg.Server.Language != "id-ID" || cfg.Providers.TTS != ProviderElevenLabs {
		t.Errorf("Unexpected file values %+v %+v", cfg.Server, cfg.Providers)
	}
	if cfg.Archive.MongoURI != "mongodb://db:27017" || cfg.Archive.MongoDatabase != "liveview" {
		t.Errorf("Unexpected archive config %+v", cfg.Archive)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestParseClientKeys(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"a:1", 1, false},
		{"a:1,b:2,", 2, false},
		{"a", 0, true},
		{":1", 0, true},
		{"a:", 0, true},
	}

	for _, tt := range tests {
		keys, err := ParseClientKeys(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClientKeys(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if len(keys) != tt.want {
			t.Errorf("ParseClientKeys(%q) = %v, want %d keys", tt.raw, keys, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerParams{Port: "8080"},
			Auth:      AuthParams{JWTSecret: "s", ClientKeys: map[string]string{"a": "k"}},
			Providers: ProviderParams{LLM: ProviderMock, STT: ProviderMock, TTS: ProviderMock},
			Archive:   ArchiveParams{Backend: BackendMemory},
			Presence:  PresenceParams{Backend: BackendMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"no clients", func(c *Config) { c.Auth.ClientKeys = nil }, true},
		{"unknown llm", func(c *Config) { c.Providers.LLM = "claude" }, true},
		{"gemini without key", func(c *Config) { c.Providers.LLM = ProviderGemini }, true},
		{"openai llm with key", func(c *Config) { c.Providers.LLM = ProviderOpenAI; c.OpenAI.APIKey = "k" }, false},
		{"whisper without key", func(c *Config) { c.Providers.STT = ProviderWhisper }, true},
		{"google stt", func(c *Config) { c.Providers.STT = ProviderGoogle }, false},
		{"elevenlabs without key", func(c *Config) { c.Providers.TTS = ProviderElevenLabs }, true},
		{"unknown tts", func(c *Config) { c.Providers.TTS = "espeak" }, true},
		{"mongo without uri", func(c *Config) { c.Archive.Backend = BackendMongo }, true},
		{"s3 without credentials", func(c *Config) { c.Archive.Backend = BackendS3 }, true},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "disk" }, true},
		{"valkey without addr", func(c *Config) { c.Presence.Backend = BackendValkey }, true},
		{"valkey with addr", func(c *Config) { c.Presence.Backend = BackendValkey; c.Presence.ValkeyAddr = "localhost:6379" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
