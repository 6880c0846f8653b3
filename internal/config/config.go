package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider and backend names
const (
	ProviderMock       = "mock"
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderWhisper    = "whisper"
	ProviderElevenLabs = "elevenlabs"

	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendS3     = "s3"
	BackendValkey = "valkey"
)

// Config is the complete server configuration
type Config struct {
	Server     ServerParams
	Auth       AuthParams
	Providers  ProviderParams
	Gemini     GeminiParams
	OpenAI     OpenAIParams
	ElevenLabs ElevenLabsParams
	Archive    ArchiveParams
	Presence   PresenceParams
}

type ServerParams struct {
	Port           string
	Node           string
	AllowedOrigins []string
	IdleTimeout    time.Duration
	// Language is the default speech recognition language
	Language string
}

type AuthParams struct {
	JWTSecret string
	TokenTTL  time.Duration
	// ClientKeys maps client IDs to their access keys
	ClientKeys map[string]string
}

type ProviderParams struct {
	LLM string
	STT string
	TTS string
}

type GeminiParams struct {
	APIKey string
	Model  string
}

type OpenAIParams struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string
}

type ElevenLabsParams struct {
	APIKey    string
	BaseURL   string
	VoiceID   string
	ModelID   string
	Stability float64
	Clarity   float64
}

type ArchiveParams struct {
	Backend       string
	MongoURI      string
	MongoDatabase string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3UseSSL      bool
	S3URLExpiry   time.Duration
}

type PresenceParams struct {
	Backend        string
	ValkeyAddr     string
	ValkeyPassword string
	TTL            time.Duration
}

// envBindings maps config keys to the environment variables they read
var envBindings = map[string]string{
	"server.port":            "PORT",
	"server.node":            "NODE_ID",
	"server.allowed_origins": "ALLOWED_ORIGINS",
	"server.idle_timeout":    "SESSION_IDLE_TIMEOUT",
	"server.language":        "SPEECH_LANGUAGE",

	"auth.jwt_secret":  "JWT_SECRET",
	"auth.token_ttl":   "JWT_TTL",
	"auth.client_keys": "CLIENT_KEYS",

	"providers.llm": "LLM_PROVIDER",
	"providers.stt": "STT_PROVIDER",
	"providers.tts": "TTS_PROVIDER",

	"gemini.api_key": "GEMINI_API_KEY",
	"gemini.model":   "GEMINI_MODEL",

	"openai.api_key":             "OPENAI_API_KEY",
	"openai.base_url":            "OPENAI_BASE_URL",
	"openai.chat_model":          "OPENAI_CHAT_MODEL",
	"openai.transcription_model": "OPENAI_TRANSCRIPTION_MODEL",
	"openai.speech_model":        "OPENAI_SPEECH_MODEL",

	"elevenlabs.api_key":   "ELEVEN_LABS_API_KEY",
	"elevenlabs.base_url":  "ELEVEN_LABS_API_BASE_URL",
	"elevenlabs.voice_id":  "ELEVEN_LABS_VOICE_ID",
	"elevenlabs.model_id":  "ELEVEN_LABS_MODEL_ID",
	"elevenlabs.stability": "ELEVEN_LABS_STABILITY",
	"elevenlabs.clarity":   "ELEVEN_LABS_CLARITY",

	"archive.backend":        "ARCHIVE_BACKEND",
	"archive.mongo_uri":      "MONGODB_URI",
	"archive.mongo_database": "MONGODB_DATABASE",
	"archive.s3_endpoint":    "S3_ENDPOINT",
	"archive.s3_access_key":  "S3_ACCESS_KEY",
	"archive.s3_secret_key":  "S3_SECRET_KEY",
	"archive.s3_bucket":      "S3_BUCKET",
	"archive.s3_use_ssl":     "S3_USE_SSL",
	"archive.s3_url_expiry":  "S3_URL_EXPIRY",

	"presence.backend":         "PRESENCE_BACKEND",
	"presence.valkey_addr":     "VALKEY_ADDR",
	"presence.valkey_password": "VALKEY_PASSWORD",
	"presence.ttl":             "PRESENCE_TTL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.idle_timeout", 30*time.Minute)
	v.SetDefault("server.language", "en-US")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("providers.llm", ProviderMock)
	v.SetDefault("providers.stt", ProviderMock)
	v.SetDefault("providers.tts", ProviderMock)
	v.SetDefault("archive.backend", BackendMemory)
	v.SetDefault("archive.mongo_database", "liveview")
	v.SetDefault("archive.s3_bucket", "liveview-archives")
	v.SetDefault("archive.s3_url_expiry", time.Hour)
	v.SetDefault("presence.backend", BackendMemory)
	v.SetDefault("presence.ttl", 2*time.Minute)
}

// Load reads configuration from .env, an optional YAML file and the
// environment, in increasing precedence
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	clientKeys, err := ParseClientKeys(v.GetString("auth.client_keys"))
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	node := v.GetString("server.node")
	if node == "" {
		node = hostname
	}

	return &Config{
		Server: ServerParams{
			Port:           v.GetString("server.port"),
			Node:           node,
			AllowedOrigins: splitList(v.GetString("server.allowed_origins")),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
			Language:       v.GetString("server.language"),
		},
		Auth: AuthParams{
			JWTSecret:  v.GetString("auth.jwt_secret"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
			ClientKeys: clientKeys,
		},
		Providers: ProviderParams{
			LLM: strings.ToLower(v.GetString("providers.llm")),
			STT: strings.ToLower(v.GetString("providers.stt")),
			TTS: strings.ToLower(v.GetString("providers.tts")),
		},
		Gemini: GeminiParams{
			APIKey: v.GetString("gemini.api_key"),
			Model:  v.GetString("gemini.model"),
		},
		OpenAI: OpenAIParams{
			APIKey:             v.GetString("openai.api_key"),
			BaseURL:            v.GetString("openai.base_url"),
			ChatModel:          v.GetString("openai.chat_model"),
			TranscriptionModel: v.GetString("openai.transcription_model"),
			SpeechModel:        v.GetString("openai.speech_model"),
		},
		ElevenLabs: ElevenLabsParams{
			APIKey:    v.GetString("elevenlabs.api_key"),
			BaseURL:   v.GetString("elevenlabs.base_url"),
			VoiceID:   v.GetString("elevenlabs.voice_id"),
			ModelID:   v.GetString("elevenlabs.model_id"),
			Stability: v.GetFloat64("elevenlabs.stability"),
			Clarity:   v.GetFloat64("elevenlabs.clarity"),
		},
		Archive: ArchiveParams{
			Backend:       strings.ToLower(v.GetString("archive.backend")),
			MongoURI:      v.GetString("archive.mongo_uri"),
			MongoDatabase: v.GetString("archive.mongo_database"),
			S3Endpoint:    v.GetString("archive.s3_endpoint"),
			S3AccessKey:   v.GetString("archive.s3_access_key"),
			S3SecretKey:   v.GetString("archive.s3_secret_key"),
			S3Bucket:      v.GetString("archive.s3_bucket"),
			S3UseSSL:      v.GetBool("archive.s3_use_ssl"),
			S3URLExpiry:   v.GetDuration("archive.s3_url_expiry"),
		},
		Presence: PresenceParams{
			Backend:        strings.ToLower(v.GetString("presence.backend")),
			ValkeyAddr:     v.GetString("presence.valkey_addr"),
			ValkeyPassword: v.GetString("presence.valkey_password"),
			TTL:            v.GetDuration("presence.ttl"),
		},
	}, nil
}

// ParseClientKeys parses "id:key,id2:key2"
func ParseClientKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range splitList(raw) {
		id, key, ok := strings.Cut(pair, ":")
		id, key = strings.TrimSpace(id), strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid client key entry %q, expected id:key", pair)
		}
		keys[id] = key
	}
	return keys, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks provider names and the secrets they require
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Auth.ClientKeys) == 0 {
		return fmt.Errorf("CLIENT_KEYS must list at least one client")
	}

	switch c.Providers.LLM {
	case ProviderMock:
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	default:
		return fmt.Errorf("llm provider is invalid: %s. try mock/gemini/openai instead", c.Providers.LLM)
	}

	switch c.Providers.STT {
	case ProviderMock, ProviderGoogle:
	case ProviderWhisper:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the whisper provider")
		}
	default:
		return fmt.Errorf("stt provider is invalid: %s. try mock/google/whisper instead", c.Providers.STT)
	}

	switch c.Providers.TTS {
	case ProviderMock:
	case ProviderElevenLabs:
		if c.ElevenLabs.APIKey == "" {
			return fmt.Errorf("ELEVEN_LABS_API_KEY is required for the elevenlabs provider")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai tts provider")
		}
	default:
		return fmt.Errorf("tts provider is invalid: %s. try mock/elevenlabs/openai instead", c.Providers.TTS)
	}

	switch c.Archive.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Archive.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo archive")
		}
	case BackendS3:
		if c.Archive.S3Endpoint == "" || c.Archive.S3AccessKey == "" || c.Archive.S3SecretKey == "" {
			return fmt.Errorf("S3 endpoint, access key and secret key are required for the s3 archive")
		}
	default:
		return fmt.Errorf("archive backend is invalid: %s. try memory/mongo/s3 instead", c.Archive.Backend)
	}

	switch c.Presence.Backend {
	case BackendMemory:
	case BackendValkey:
		if c.Presence.ValkeyAddr == "" {
			return fmt.Errorf("VALKEY_ADDR is required for the valkey presence registry")
		}
	default:
		return fmt.Errorf("presence backend is invalid: %s. try memory/valkey instead", c.Presence.Backend)
	}

	return nil
}
