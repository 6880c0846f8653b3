package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{"ping", `{"type":"ping","data":"x"}`, false},
		{"capture start", `{"type":"capture_start"}`, false},
		{"record stop", `{"type":"record_stop"}`, false},
		{"send text", `{"type":"send_text","text":"hello"}`, false},
		{"blank text", `{"type":"send_text","text":"   "}`, true},
		{"toggle audio", `{"type":"toggle_audio","message_id":"m1"}`, false},
		{"toggle without id", `{"type":"toggle_audio"}`, true},
		{"mic ready opus", `{"type":"mic_ready","encoding":"WEBM_OPUS","sample_rate":48000}`, false},
		{"mic ready linear16", `{"type":"mic_ready","encoding":"LINEAR16","sample_rate":16000}`, false},
		{"mic ready bad rate", `{"type":"mic_ready","encoding":"LINEAR16","sample_rate":100000}`, true},
		{"mic ready bad encoding", `{"type":"mic_ready","encoding":"mp3","sample_rate":16000}`, true},
		{"settings audio", `{"type":"settings","audio":{"enabled":true,"auto_play":false,"volume":0.5,"speed":1.5,"voice":"nova"}}`, false},
		{"settings bad voice", `{"type":"settings","audio":{"volume":0.5,"speed":1,"voice":"robot"}}`, true},
		{"settings analysis", `{"type":"settings","analysis":{"interval_seconds":10,"sensitivity":"high","context_length":3}}`, false},
		{"settings bad interval", `{"type":"settings","analysis":{"interval_seconds":7,"sensitivity":"high","context_length":3}}`, true},
		{"settings empty", `{"type":"settings"}`, true},
		{"unknown type", `{"type":"teleport"}`, true},
		{"invalid json", `{"type":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidator_Types(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"type":"screen_denied","reason":"denied"}`))
	if err != nil {
		t.Fatalf("ValidateMessage failed: %v", err)
	}
	denied, ok := msg.(*ScreenDeniedMessage)
	if !ok || denied.Reason != "denied" {
		t.Errorf("Expected ScreenDeniedMessage, got %#v", msg)
	}

	msg, _ = validator.ValidateMessage([]byte(`{"type":"clear","request_id":"r1"}`))
	control, ok := msg.(*ControlMessage)
	if !ok || control.Type != MessageTypeClear || control.RequestID != "r1" {
		t.Errorf("Expected ControlMessage, got %#v", msg)
	}
}

func TestAnalysisSettingsPayload(t *testing.T) {
	settings := entities.AnalysisSettings{Interval: 15 * time.Second, Sensitivity: entities.SensitivityLow, ContextLength: 10}

	payload := NewAnalysisSettingsPayload(settings)
	if payload.IntervalSeconds != 15 {
		t.Errorf("Expected 15 seconds, got %d", payload.IntervalSeconds)
	}
	if payload.Settings() != settings {
		t.Errorf("Round trip mismatch: %+v", payload.Settings())
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage("chat_failed", "Chat failed", "timeout")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	_ = json.Unmarshal(data, &decoded)
	if decoded["type"] != "error" || decoded["error_code"] != "chat_failed" || decoded["details"] != "timeout" {
		t.Errorf("Unexpected error message %s", data)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("Invalid timestamp: %v", err)
	}
}

func TestNoticeMessage_Flattened(t *testing.T) {
	msg := &NoticeMessage{
		BaseMessage: newBase(MessageTypeNotice),
		Notice:      entities.Notice{Level: entities.NoticeWarning, Code: "too_short", Text: "Speak longer"},
	}
	data, _ := json.Marshal(msg)

	var decoded map[string]interface{}
	_ = json.Unmarshal(data, &decoded)
	if decoded["code"] != "too_short" || decoded["level"] != "warning" {
		t.Errorf("Expected flattened notice, got %s", data)
	}
}
