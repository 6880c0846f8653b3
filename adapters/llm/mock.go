package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/satriahrh/liveview/domain/repositories"
)

// MockLLM is an offline model for development. It comments on every
// second screenshot and echoes chat turns.
type MockLLM struct{}

var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a new mock LLM
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (m *MockLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockChatSession{history: history}, nil
}

// MockChatSession implements repositories.ChatSession
type MockChatSession struct {
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (m *MockChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	m.history = append(m.history, message)

	var response string
	switch {
	case len(message.Images) > 0 && m.analyzing():
		turns := 0
		for _, msg := range m.history {
			if msg.Role == repositories.AssistantRole {
				turns++
			}
		}
		if turns%2 == 1 {
			response = "NO_COMMENT"
		} else {
			response = fmt.Sprintf("I can see a %d byte screenshot of your screen.", len(message.Images[0].Data))
		}
	case len(message.Images) > 0:
		response = fmt.Sprintf("Looking at your screen, you asked: %q.", message.Content)
	default:
		response = fmt.Sprintf("You said: %q.", message.Content)
	}

	reply := repositories.ChatMessage{Role: repositories.AssistantRole, Content: response}
	m.history = append(m.history, reply)
	return reply, nil
}

// History implements repositories.ChatSession
func (m *MockChatSession) History() ([]repositories.ChatMessage, error) {
	return m.history, nil
}

func (m *MockChatSession) analyzing() bool {
	for _, msg := range m.history {
		if msg.Role == repositories.SystemRole && strings.Contains(msg.Content, "NO_COMMENT") {
			return true
		}
	}
	return false
}
