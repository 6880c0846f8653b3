package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/liveview/domain/repositories"
)

var geminiSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	client       *genai.Client
	config       GeminiConfig
	logger       *zap.Logger
	systemPrompt string
	history      []*genai.Content
}

// NewGeminiChatSession creates a new chat session from history. System
// messages become the system instruction.
func NewGeminiChatSession(client *genai.Client, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) *GeminiChatSession {
	var system []string
	var turns []repositories.ChatMessage
	for _, msg := range history {
		if msg.Role == repositories.SystemRole {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}

	return &GeminiChatSession{
		client:       client,
		config:       config,
		logger:       logger,
		systemPrompt: strings.Join(system, "\n\n"),
		history:      convertRepositoryToGeminiFormat(turns),
	}
}

// SendMessage sends a message and gets a response, updating the history
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	userContent := toGeminiContent(message, genai.RoleUser)
	contents := append(append([]*genai.Content{}, s.history...), userContent)

	config := &genai.GenerateContentConfig{
		SafetySettings:  geminiSafetySettings,
		Temperature:     genai.Ptr(s.config.Temperature),
		TopP:            genai.Ptr(s.config.TopP),
		TopK:            genai.Ptr(s.config.TopK),
		MaxOutputTokens: int32(s.config.MaxOutputTokens),
	}
	if s.systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(s.systemPrompt, genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < defaultRetries; attempt++ {
		response, err = s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
		if err == nil {
			break
		}

		s.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < defaultRetries-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return repositories.ChatMessage{}, ctx.Err()
			}
		}
	}
	if err != nil {
		s.logger.Error("Failed to send message in chat session", zap.Error(err))
		return repositories.ChatMessage{}, fmt.Errorf("gemini generate content: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return repositories.ChatMessage{}, errors.New("no content generated")
	}

	var responseText string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			responseText += part.Text
		}
	}

	// Images are not kept in history, later turns carry their own frame
	s.history = append(s.history,
		genai.NewContentFromText(message.Content, genai.RoleUser),
		genai.NewContentFromText(responseText, genai.RoleModel))

	s.logger.Debug("Chat session message processed",
		zap.Int("images", len(message.Images)),
		zap.Int("response_length", len(responseText)),
		zap.Int("history_length", len(s.history)))

	return repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: responseText,
	}, nil
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	return convertGeminiToRepositoryFormat(s.history), nil
}

func toGeminiContent(msg repositories.ChatMessage, role genai.Role) *genai.Content {
	parts := make([]*genai.Part, 0, len(msg.Images)+1)
	for _, img := range msg.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
	}
	if msg.Content != "" {
		parts = append(parts, genai.NewPartFromText(msg.Content))
	}
	return genai.NewContentFromParts(parts, role)
}

// convertRepositoryToGeminiFormat converts repository messages to Gemini format
func convertRepositoryToGeminiFormat(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == repositories.AssistantRole {
			role = genai.RoleModel
		}
		contents = append(contents, toGeminiContent(msg, role))
	}

	return contents
}

// convertGeminiToRepositoryFormat converts Gemini content to repository messages
func convertGeminiToRepositoryFormat(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage

	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == string(genai.RoleModel) {
			role = repositories.AssistantRole
		}

		var text string
		for _, part := range content.Parts {
			if part.Text != "" {
				text += part.Text
			}
		}

		if text != "" {
			messages = append(messages, repositories.ChatMessage{
				Role:    role,
				Content: text,
			})
		}
	}

	return messages
}
