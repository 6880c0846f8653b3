package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/adapters/llm"
	"github.com/satriahrh/liveview/adapters/memory"
	"github.com/satriahrh/liveview/adapters/mongo"
	"github.com/satriahrh/liveview/adapters/s3"
	"github.com/satriahrh/liveview/adapters/stt"
	"github.com/satriahrh/liveview/adapters/tts"
	"github.com/satriahrh/liveview/adapters/valkey"
	"github.com/satriahrh/liveview/domain/repositories"
	"github.com/satriahrh/liveview/internal/api"
	"github.com/satriahrh/liveview/internal/auth"
	"github.com/satriahrh/liveview/internal/config"
	"github.com/satriahrh/liveview/internal/websocket"
	"github.com/satriahrh/liveview/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("LIVEVIEW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// closers run in reverse order on shutdown
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Initialize adapters
	model, err := newLLM(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM", zap.String("provider", cfg.Providers.LLM), zap.Error(err))
	}
	speechToText, err := newSpeechToText(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech-to-text", zap.String("provider", cfg.Providers.STT), zap.Error(err))
	}
	if c, ok := speechToText.(io.Closer); ok {
		closers = append(closers, func() { c.Close() })
	}
	textToSpeech, err := newTextToSpeech(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize text-to-speech", zap.String("provider", cfg.Providers.TTS), zap.Error(err))
	}

	archives, closeArchives, err := newArchiveRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize archive storage", zap.String("backend", cfg.Archive.Backend), zap.Error(err))
	}
	closers = append(closers, closeArchives)

	presence, closePresence, err := newPresenceRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize presence registry", zap.String("backend", cfg.Presence.Backend), zap.Error(err))
	}
	closers = append(closers, closePresence)

	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: cfg.Auth.JWTSecret, TTL: cfg.Auth.TokenTTL})
	if err != nil {
		logger.Fatal("Failed to initialize token manager", zap.Error(err))
	}

	// Initialize usecase services
	chatService := usecase.NewChatService(model, logger.Named("chat"))
	conversationService := usecase.NewConversationService(speechToText, chatService, cfg.Server.Language, logger.Named("conversation"))
	analysisService := usecase.NewAnalysisService(model, 0, logger.Named("analysis"))
	speechService := usecase.NewSpeechService(textToSpeech, cfg.Server.Language, logger.Named("speech"))

	// Initialize WebSocket hub with the session services
	hub := websocket.NewHub(websocket.HubConfig{
		Analyzer:       analysisService,
		Responder:      conversationService,
		Synthesizer:    speechService,
		Language:       cfg.Server.Language,
		Presence:       presence,
		Node:           cfg.Server.Node,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger.Named("hub"))
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	cleanup := websocket.NewSessionCleanupService(hub, websocket.CleanupConfig{
		IdleTimeout: cfg.Server.IdleTimeout,
		Interval:    cfg.Presence.TTL / 4,
	}, logger.Named("cleanup"))
	cleanup.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.Server.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	var voices repositories.VoiceLister
	if lister, ok := textToSpeech.(repositories.VoiceLister); ok {
		voices = lister
	}

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Hub:      hub,
		Tokens:   tokens,
		Clients:  memory.NewClientRegistry(cfg.Auth.ClientKeys),
		Archives: archives,
		Presence: presence,
		Voices:   voices,
	}, logger.Named("api"))

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Live view server started",
		zap.String("port", cfg.Server.Port),
		zap.String("node", cfg.Server.Node),
		zap.String("llm", cfg.Providers.LLM),
		zap.String("stt", cfg.Providers.STT),
		zap.String("tts", cfg.Providers.TTS),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("presence", cfg.Presence.Backend))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cleanup.Stop()
	cancel()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out closing live sessions")
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLLM(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.Providers.LLM {
	case config.ProviderGemini:
		return llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		}, logger.Named("gemini"))
	case config.ProviderOpenAI:
		return llm.NewOpenAILLM(llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.ChatModel,
		}, logger.Named("openai"))
	default:
		return llm.NewMockLLM(), nil
	}
}

func newSpeechToText(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch cfg.Providers.STT {
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechToText(ctx, logger.Named("google-stt"))
	case config.ProviderWhisper:
		return stt.NewWhisperSpeechToText(stt.WhisperConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.TranscriptionModel,
		}, logger.Named("whisper"))
	default:
		return stt.NewMockSpeechToText(logger.Named("mock-stt")), nil
	}
}

func newTextToSpeech(cfg *config.Config, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.Providers.TTS {
	case config.ProviderElevenLabs:
		return tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabs.APIKey,
			APIBaseURL: cfg.ElevenLabs.BaseURL,
			VoiceID:    cfg.ElevenLabs.VoiceID,
			ModelID:    cfg.ElevenLabs.ModelID,
			Stability:  cfg.ElevenLabs.Stability,
			Clarity:    cfg.ElevenLabs.Clarity,
		}, logger.Named("elevenlabs"))
	case config.ProviderOpenAI:
		return tts.NewOpenAITTS(tts.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.SpeechModel,
		}, logger.Named("openai-tts"))
	default:
		return tts.NewMockTTS(logger.Named("mock-tts")), nil
	}
}

func newArchiveRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.ArchiveRepository, func(), error) {
	switch cfg.Archive.Backend {
	case config.BackendMongo:
		client, err := mongo.NewClient(ctx, mongo.ClientConfig{
			URI:      cfg.Archive.MongoURI,
			Database: cfg.Archive.MongoDatabase,
		}, logger.Named("mongo"))
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(closeCtx)
		}

		repo := mongo.NewArchiveRepository(client.Database, logger.Named("archives"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeClient()
			return nil, nil, err
		}
		return repo, closeClient, nil

	case config.BackendS3:
		repo, err := s3.NewArchiveRepository(ctx, s3.Config{
			Endpoint:  cfg.Archive.S3Endpoint,
			AccessKey: cfg.Archive.S3AccessKey,
			SecretKey: cfg.Archive.S3SecretKey,
			Bucket:    cfg.Archive.S3Bucket,
			UseSSL:    cfg.Archive.S3UseSSL,
			URLExpiry: cfg.Archive.S3URLExpiry,
		}, logger.Named("archives"))
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil

	default:
		return memory.NewArchiveRepository(), func() {}, nil
	}
}

func newPresenceRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.PresenceRepository, func(), error) {
	if cfg.Presence.Backend != config.BackendValkey {
		return memory.NewPresenceRepository(cfg.Presence.TTL), func() {}, nil
	}

	repo, err := valkey.NewPresenceRepository(ctx, valkey.Config{
		Addr:     cfg.Presence.ValkeyAddr,
		Password: cfg.Presence.ValkeyPassword,
		TTL:      cfg.Presence.TTL,
	}, logger.Named("presence"))
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}
