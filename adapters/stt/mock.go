package stt

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/repositories"
)

// MockSpeechToText is an offline transcriber for development
type MockSpeechToText struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// TranscribeAudio returns canned text picked by recording size
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Mock transcription",
		zap.Int("size", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	switch {
	case len(audioData) > 64000:
		return "Can you explain what is happening on my screen right now?", nil
	case len(audioData) > 16000:
		return "What do you see?", nil
	case len(audioData) > 4000:
		return "Hello there", nil
	default:
		return "", nil
	}
}
