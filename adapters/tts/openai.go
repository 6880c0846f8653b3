package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/repositories"
)

// OpenAIConfig holds configuration for the OpenAI speech adapter
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAITTS implements TextToSpeech with the OpenAI audio API
type OpenAITTS struct {
	client *openai.Client
	model  openai.SpeechModel
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*OpenAITTS)(nil)

// NewOpenAITTS creates a new OpenAI speech synthesizer
func NewOpenAITTS(config OpenAIConfig, logger *zap.Logger) (*OpenAITTS, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	model := openai.SpeechModel(config.Model)
	if model == "" {
		model = openai.TTSModel1
		logger.Info("Using default speech model", zap.String("model", string(model)))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAITTS{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}, nil
}

// SynthesizeAudio returns 24kHz 16-bit mono PCM
func (o *OpenAITTS) SynthesizeAudio(ctx context.Context, text string, config repositories.VoiceConfig) (*repositories.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voice := openai.SpeechVoice(config.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}
	speed := config.Speed
	if speed == 0 {
		speed = 1
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("openai returned no audio")
	}

	o.logger.Debug("Received synthesized audio",
		zap.Int("bytes", len(data)),
		zap.String("voice", string(voice)))
	return &repositories.Speech{Data: data, Format: repositories.PCM24kMono}, nil
}
