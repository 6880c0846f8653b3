package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server
const (
	MessageTypeScreenReady  MessageType = "screen_ready"
	MessageTypeScreenDenied MessageType = "screen_denied"
	MessageTypeScreenEnded  MessageType = "screen_ended"
	MessageTypeMicReady     MessageType = "mic_ready"
	MessageTypeMicDenied    MessageType = "mic_denied"
	MessageTypeCaptureStart MessageType = "capture_start"
	MessageTypeCaptureStop  MessageType = "capture_stop"
	MessageTypeCallStart    MessageType = "call_start"
	MessageTypeCallEnd      MessageType = "call_end"
	MessageTypeSendText     MessageType = "send_text"
	MessageTypeToggleAudio  MessageType = "toggle_audio"
	MessageTypeStopAudio    MessageType = "stop_audio"
	MessageTypeClear        MessageType = "clear"
	MessageTypeSettings     MessageType = "settings"
	MessageTypePing         MessageType = "ping"
)

// Server to client
const (
	MessageTypeSession       MessageType = "session"
	MessageTypeScreenAcquire MessageType = "screen_acquire"
	MessageTypeScreenRelease MessageType = "screen_release"
	MessageTypeMicAcquire    MessageType = "mic_acquire"
	MessageTypeMicRelease    MessageType = "mic_release"
	MessageTypeRecordStart   MessageType = "record_start"
	MessageTypeMessage       MessageType = "message"
	MessageTypeMessageState  MessageType = "message_state"
	MessageTypeStats         MessageType = "stats"
	MessageTypeNotice        MessageType = "notice"
	MessageTypeCallState     MessageType = "call_state"
	MessageTypeCleared       MessageType = "cleared"
	MessageTypeAudioStart    MessageType = "audio_start"
	MessageTypeAudioPause    MessageType = "audio_pause"
	MessageTypeAudioEnd      MessageType = "audio_end"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Both directions
const (
	// record_stop from the client follows its last audio chunk; from the
	// server it asks the client to stop and flush
	MessageTypeRecordStop MessageType = "record_stop"
	MessageTypeExport     MessageType = "export"
)

// Binary frame kinds, carried in the first byte
const (
	FrameScreen   byte = 0x01
	FrameMic      byte = 0x02
	FramePlayback byte = 0x03
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ScreenDeniedMessage reports a failed screen acquisition
type ScreenDeniedMessage struct {
	BaseMessage
	// Reason is "denied" when the user refused, anything else means unavailable
	Reason string `json:"reason"`
}

// MicReadyMessage reports an acquired microphone and its recording format
type MicReadyMessage struct {
	BaseMessage
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language,omitempty"`
}

// MicDeniedMessage reports a failed microphone acquisition
type MicDeniedMessage struct {
	BaseMessage
	Reason string `json:"reason"`
}

// SendTextMessage carries typed user text
type SendTextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// ToggleAudioMessage plays or pauses the audio of a message
type ToggleAudioMessage struct {
	BaseMessage
	MessageID string `json:"message_id"`
}

// AnalysisSettingsPayload is AnalysisSettings with the interval in seconds
type AnalysisSettingsPayload struct {
	IntervalSeconds int                  `json:"interval_seconds"`
	Sensitivity     entities.Sensitivity `json:"sensitivity"`
	ContextLength   int                  `json:"context_length"`
}

// SettingsMessage updates either or both settings groups
type SettingsMessage struct {
	BaseMessage
	Analysis *AnalysisSettingsPayload `json:"analysis,omitempty"`
	Audio    *entities.AudioSettings  `json:"audio,omitempty"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ControlMessage is any client command without a payload
type ControlMessage struct {
	BaseMessage
}

// SessionMessage greets a freshly connected client
type SessionMessage struct {
	BaseMessage
	SessionID string                  `json:"session_id"`
	Analysis  AnalysisSettingsPayload `json:"analysis"`
	Audio     entities.AudioSettings  `json:"audio"`
}

// AcquireMessage asks the client for a device
type AcquireMessage struct {
	BaseMessage
	Constraints interface{} `json:"constraints,omitempty"`
}

// ChatMessage carries a conversation message
type ChatMessage struct {
	BaseMessage
	Message entities.Message `json:"message"`
}

// MessageStateMessage reports playback state of a message
type MessageStateMessage struct {
	BaseMessage
	MessageID string  `json:"message_id"`
	Status    string  `json:"status"`
	PausedAt  float64 `json:"paused_at"`
}

// StatsMessage carries stream statistics
type StatsMessage struct {
	BaseMessage
	Stats entities.StreamStats `json:"stats"`
}

// NoticeMessage carries a user-visible notice
type NoticeMessage struct {
	BaseMessage
	entities.Notice
}

// CallStateMessage reports the voice call state
type CallStateMessage struct {
	BaseMessage
	State string `json:"state"`
}

// ExportMessage carries a session snapshot
type ExportMessage struct {
	BaseMessage
	Export entities.SessionExport `json:"export"`
}

// AudioStartMessage announces PCM for a message; binary 0x03 frames follow
type AudioStartMessage struct {
	BaseMessage
	MessageID  string  `json:"message_id"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Offset     float64 `json:"offset"`
}

// AudioStateMessage covers audio_pause and audio_end
type AudioStateMessage struct {
	BaseMessage
	MessageID string  `json:"message_id"`
	Offset    float64 `json:"offset,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeScreenDenied:
		var msg ScreenDeniedMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid screen denied message: %w", err)
		}
		return &msg, nil

	case MessageTypeMicReady:
		var msg MicReadyMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid mic ready message: %w", err)
		}
		if err := v.validateMicReady(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeMicDenied:
		var msg MicDeniedMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid mic denied message: %w", err)
		}
		return &msg, nil

	case MessageTypeSendText:
		var msg SendTextMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid send text message: %w", err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypeToggleAudio:
		var msg ToggleAudioMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid toggle audio message: %w", err)
		}
		if msg.MessageID == "" {
			return nil, fmt.Errorf("message_id is required")
		}
		return &msg, nil

	case MessageTypeSettings:
		var msg SettingsMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid settings message: %w", err)
		}
		if err := v.validateSettings(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case MessageTypeScreenReady, MessageTypeScreenEnded, MessageTypeCaptureStart,
		MessageTypeCaptureStop, MessageTypeCallStart, MessageTypeCallEnd,
		MessageTypeRecordStop, MessageTypeStopAudio, MessageTypeClear, MessageTypeExport:
		return &ControlMessage{BaseMessage: base}, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateMicReady validates the announced recording format
func (v *MessageValidator) validateMicReady(msg *MicReadyMessage) error {
	if msg.Encoding == "" {
		return fmt.Errorf("encoding is required")
	}

	validEncodings := map[string]bool{
		"LINEAR16": true, "WEBM_OPUS": true, "OGG_OPUS": true, "FLAC": true,
	}
	if !validEncodings[strings.ToUpper(msg.Encoding)] {
		return fmt.Errorf("encoding must be one of: LINEAR16, WEBM_OPUS, OGG_OPUS, FLAC")
	}

	if strings.EqualFold(msg.Encoding, "LINEAR16") && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	return nil
}

// validateSettings checks the settings against the legal values
func (v *MessageValidator) validateSettings(msg *SettingsMessage) error {
	if msg.Analysis == nil && msg.Audio == nil {
		return fmt.Errorf("analysis or audio settings are required")
	}
	if msg.Analysis != nil {
		if err := msg.Analysis.Settings().Validate(); err != nil {
			return err
		}
	}
	if msg.Audio != nil {
		if err := msg.Audio.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Settings converts the payload to domain settings
func (p AnalysisSettingsPayload) Settings() entities.AnalysisSettings {
	return entities.AnalysisSettings{
		Interval:      time.Duration(p.IntervalSeconds) * time.Second,
		Sensitivity:   p.Sensitivity,
		ContextLength: p.ContextLength,
	}
}

// NewAnalysisSettingsPayload converts domain settings for the wire
func NewAnalysisSettingsPayload(s entities.AnalysisSettings) AnalysisSettingsPayload {
	return AnalysisSettingsPayload{
		IntervalSeconds: int(s.Interval / time.Second),
		Sensitivity:     s.Sensitivity,
		ContextLength:   s.ContextLength,
	}
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}
