package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// ChatService runs one chat round trip with bounded context
type ChatService struct {
	llm    repositories.LargeLanguageModel
	logger *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(llm repositories.LargeLanguageModel, logger *zap.Logger) *ChatService {
	return &ChatService{llm: llm, logger: logger}
}

// Reply answers text given recent messages and an optional screenshot
func (s *ChatService) Reply(ctx context.Context, text string, frame *repositories.Image, recent []entities.Message) (string, error) {
	history := append([]repositories.ChatMessage{{
		Role:    repositories.SystemRole,
		Content: chatSystemPrompt,
	}}, historyFrom(recent)...)

	session, err := s.llm.GenerateChat(ctx, history)
	if err != nil {
		return "", fmt.Errorf("failed to start chat: %w", err)
	}

	message := repositories.ChatMessage{Role: repositories.UserRole, Content: text}
	if frame != nil {
		message.Images = []repositories.Image{*frame}
	}

	response, err := session.SendMessage(ctx, message)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	if reply == "" {
		return "", errors.New("empty reply from model")
	}

	s.logger.Info("AI response generated",
		zap.Int("contextMessages", len(recent)),
		zap.Bool("withFrame", frame != nil))
	return reply, nil
}
