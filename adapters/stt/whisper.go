package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/repositories"
)

// WhisperConfig holds configuration for OpenAI transcription
type WhisperConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// WhisperSpeechToText implements SpeechToText with the OpenAI audio API
type WhisperSpeechToText struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*WhisperSpeechToText)(nil)

// NewWhisperSpeechToText creates a new Whisper transcriber
func NewWhisperSpeechToText(config WhisperConfig, logger *zap.Logger) (*WhisperSpeechToText, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
		logger.Info("Using default transcription model", zap.String("model", config.Model))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &WhisperSpeechToText{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
		logger: logger,
	}, nil
}

// TranscribeAudio converts a finalized recording to text
func (w *WhisperSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	filename, payload, err := whisperUpload(audioData, config)
	if err != nil {
		return "", err
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   bytes.NewReader(payload),
		Language: baseLanguage(config.Language),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	w.logger.Debug("Whisper transcription finished", zap.Int("characters", len(resp.Text)))
	return strings.TrimSpace(resp.Text), nil
}

// whisperUpload names the upload by container and wraps raw PCM as WAV
func whisperUpload(audioData []byte, config repositories.AudioConfig) (string, []byte, error) {
	switch strings.ToUpper(config.Encoding) {
	case "WEBM_OPUS":
		return "speech.webm", audioData, nil
	case "OGG_OPUS":
		return "speech.ogg", audioData, nil
	case "FLAC":
		return "speech.flac", audioData, nil
	case "WAV":
		return "speech.wav", audioData, nil
	case "LINEAR16":
		if config.SampleRate <= 0 {
			return "", nil, errors.New("sample rate is required for LINEAR16 audio")
		}
		return "speech.wav", wavFile(audioData, config.SampleRate), nil
	default:
		return "", nil, fmt.Errorf("unsupported encoding: %s", config.Encoding)
	}
}

// wavFile prefixes mono 16-bit PCM with a RIFF header
func wavFile(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	write := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	buf.WriteString("RIFF")
	write(uint32(36 + len(pcm)))
	buf.WriteString("WAVEfmt ")
	write(uint32(16))
	write(uint16(1))
	write(uint16(1))
	write(uint32(sampleRate))
	write(uint32(sampleRate * 2))
	write(uint16(2))
	write(uint16(16))
	buf.WriteString("data")
	write(uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// baseLanguage turns "en-US" into the ISO-639-1 code Whisper expects
func baseLanguage(language string) string {
	if i := strings.IndexAny(language, "-_"); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
