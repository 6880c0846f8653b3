package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType represents who produced a message in the conversation
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeSystem    MessageType = "system"
)

// Message represents a single conversational turn of a live session
type Message struct {
	ID        string      `json:"id" bson:"id"`
	Type      MessageType `json:"type" bson:"type"`
	Content   string      `json:"content" bson:"content"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
	IsPlaying bool        `json:"is_playing" bson:"is_playing"`
	// PausedAt is the playback offset in seconds where audio was last paused
	PausedAt float64 `json:"paused_at" bson:"paused_at"`
}

// NewMessage creates a message stamped with the current time
func NewMessage(messageType MessageType, content string) *Message {
	now := time.Now()
	return &Message{
		ID:        fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Type:      messageType,
		Content:   content,
		Timestamp: now,
	}
}

// Validate validates the message data
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}

	switch m.Type {
	case MessageTypeUser, MessageTypeAssistant, MessageTypeSystem:
	default:
		return fmt.Errorf("invalid message type: %s", m.Type)
	}

	if m.PausedAt < 0 {
		return errors.New("paused_at cannot be negative")
	}

	return nil
}
