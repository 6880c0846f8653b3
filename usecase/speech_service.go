package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// SpeechService synthesizes assistant text with the session voice settings
type SpeechService struct {
	textToSpeech repositories.TextToSpeech
	language     string
	logger       *zap.Logger
}

// NewSpeechService creates a new speech service
func NewSpeechService(tts repositories.TextToSpeech, language string, logger *zap.Logger) *SpeechService {
	return &SpeechService{textToSpeech: tts, language: language, logger: logger}
}

// Synthesize converts text to speech
func (s *SpeechService) Synthesize(ctx context.Context, text string, settings entities.AudioSettings) (*repositories.Speech, error) {
	if text == "" {
		return nil, errors.New("nothing to synthesize")
	}

	speech, err := s.textToSpeech.SynthesizeAudio(ctx, text, repositories.VoiceConfig{
		Voice:    settings.Voice,
		Speed:    settings.Speed,
		Language: s.language,
	})
	if err != nil {
		return nil, fmt.Errorf("text-to-speech failed: %w", err)
	}

	s.logger.Info("TTS completed",
		zap.String("voice", settings.Voice),
		zap.Int("audioSize", len(speech.Data)))
	return speech, nil
}
