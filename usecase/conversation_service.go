package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// ConversationService transcribes speech and delegates replies to chat
type ConversationService struct {
	speechToText repositories.SpeechToText
	chatService  *ChatService
	language     string
	logger       *zap.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(
	stt repositories.SpeechToText,
	chatService *ChatService,
	language string,
	logger *zap.Logger,
) *ConversationService {
	if language == "" {
		language = "en-US"
	}
	return &ConversationService{
		speechToText: stt,
		chatService:  chatService,
		language:     language,
		logger:       logger,
	}
}

// Transcribe converts a finalized recording to text
func (s *ConversationService) Transcribe(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	if config.Language == "" {
		config.Language = s.language
	}

	transcription, err := s.speechToText.TranscribeAudio(ctx, audio, config)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	transcription = strings.TrimSpace(transcription)
	s.logger.Info("Transcription completed",
		zap.Int("audioBytes", len(audio)),
		zap.Int("characters", len(transcription)))
	return transcription, nil
}

// Reply produces the assistant answer for a user turn
func (s *ConversationService) Reply(ctx context.Context, text string, frame *repositories.Image, recent []entities.Message) (string, error) {
	return s.chatService.Reply(ctx, text, frame, recent)
}
