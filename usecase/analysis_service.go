package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// AnalysisService asks a multimodal model whether a frame deserves comment
type AnalysisService struct {
	llm     repositories.LargeLanguageModel
	timeout time.Duration
	logger  *zap.Logger
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(llm repositories.LargeLanguageModel, timeout time.Duration, logger *zap.Logger) *AnalysisService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnalysisService{llm: llm, timeout: timeout, logger: logger}
}

// AnalyzeFrame sends the frame with recent context and classifies the answer
func (s *AnalysisService) AnalyzeFrame(ctx context.Context, frame repositories.Image, recent []entities.Message, sensitivity entities.Sensitivity) entities.AnalysisOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	history := append([]repositories.ChatMessage{{
		Role:    repositories.SystemRole,
		Content: analysisSystemPrompt(sensitivity),
	}}, historyFrom(recent)...)

	session, err := s.llm.GenerateChat(ctx, history)
	if err != nil {
		return entities.Failed(fmt.Errorf("failed to start analysis chat: %w", err))
	}

	answer, err := session.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: "Here is the latest screenshot.",
		Images:  []repositories.Image{frame},
	})
	if err != nil {
		return entities.Failed(fmt.Errorf("analysis request failed: %w", err))
	}

	if isNoComment(answer.Content) {
		s.logger.Debug("Model declined to comment")
		return entities.NoComment()
	}

	text := strings.TrimSpace(answer.Content)
	s.logger.Debug("Model commented on frame", zap.Int("length", len(text)))
	return entities.Comment(text)
}
