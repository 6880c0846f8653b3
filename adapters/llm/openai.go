package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/repositories"
)

// OpenAIConfig holds configuration for the OpenAI chat provider
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	ImageDetail string
}

// OpenAILLM implements the LargeLanguageModel interface with chat completions
type OpenAILLM struct {
	client *openai.Client
	config OpenAIConfig
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*OpenAILLM)(nil)

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return errors.New("OpenAI API key is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	switch config.ImageDetail {
	case "", "low", "high", "auto":
	default:
		return fmt.Errorf("invalid image detail: %s", config.ImageDetail)
	}
	return nil
}

// NewOpenAILLM creates a new OpenAI LLM instance
func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}

	if config.Model == "" {
		config.Model = openai.GPT4oMini
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
		logger.Info("Using default maxTokens", zap.Int("maxTokens", config.MaxTokens))
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
		logger.Info("Using default temperature", zap.Float32("temperature", config.Temperature))
	}
	if config.ImageDetail == "" {
		config.ImageDetail = "low"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}, nil
}

// GenerateChat creates a chat session with history
func (o *OpenAILLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, toOpenAIMessage(msg, o.config.ImageDetail))
	}
	return &OpenAIChatSession{
		client:   o.client,
		config:   o.config,
		logger:   o.logger,
		messages: messages,
	}, nil
}

// OpenAIChatSession implements the ChatSession interface
type OpenAIChatSession struct {
	client   *openai.Client
	config   OpenAIConfig
	logger   *zap.Logger
	messages []openai.ChatCompletionMessage
}

// SendMessage sends a message and gets a response, updating the history
func (s *OpenAIChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	request := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    append(append([]openai.ChatCompletionMessage{}, s.messages...), toOpenAIMessage(message, s.config.ImageDetail)),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	response, err := s.client.CreateChatCompletion(ctx, request)
	if err != nil {
		s.logger.Error("Failed to create chat completion", zap.Error(err))
		return repositories.ChatMessage{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return repositories.ChatMessage{}, errors.New("no choices in chat completion")
	}

	text := response.Choices[0].Message.Content
	s.messages = append(s.messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message.Content},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text})

	s.logger.Debug("Chat completion received",
		zap.Int("promptTokens", response.Usage.PromptTokens),
		zap.Int("completionTokens", response.Usage.CompletionTokens))

	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: text}, nil
}

// History returns the current conversation history
func (s *OpenAIChatSession) History() ([]repositories.ChatMessage, error) {
	history := make([]repositories.ChatMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		var role repositories.Role
		switch msg.Role {
		case openai.ChatMessageRoleAssistant:
			role = repositories.AssistantRole
		case openai.ChatMessageRoleSystem:
			role = repositories.SystemRole
		default:
			role = repositories.UserRole
		}
		history = append(history, repositories.ChatMessage{Role: role, Content: msg.Content})
	}
	return history, nil
}

func toOpenAIMessage(msg repositories.ChatMessage, detail string) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	switch msg.Role {
	case repositories.AssistantRole:
		role = openai.ChatMessageRoleAssistant
	case repositories.SystemRole:
		role = openai.ChatMessageRoleSystem
	}

	if len(msg.Images) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Content}
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: msg.Content}}
	for _, img := range msg.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetail(detail),
			},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func dataURL(img repositories.Image) string {
	return "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
