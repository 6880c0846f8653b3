package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

type fakeLLM struct {
	answer      string
	err         error
	history     []repositories.ChatMessage
	sent        repositories.ChatMessage
	generateErr error
}

func (f *fakeLLM) GenerateChat(_ context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	f.history = history
	return f, nil
}

func (f *fakeLLM) SendMessage(_ context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	f.sent = message
	if f.err != nil {
		return repositories.ChatMessage{}, f.err
	}
	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: f.answer}, nil
}

func (f *fakeLLM) History() ([]repositories.ChatMessage, error) {
	return f.history, nil
}

type fakeSTT struct {
	text   string
	err    error
	config repositories.AudioConfig
}

func (f *fakeSTT) TranscribeAudio(_ context.Context, _ []byte, config repositories.AudioConfig) (string, error) {
	f.config = config
	return f.text, f.err
}

type fakeTTS struct {
	config repositories.VoiceConfig
	err    error
}

func (f *fakeTTS) SynthesizeAudio(_ context.Context, _ string, config repositories.VoiceConfig) (*repositories.Speech, error) {
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &repositories.Speech{Data: []byte{1, 2}, Format: repositories.PCM24kMono}, nil
}

func TestAnalysisService_Outcomes(t *testing.T) {
	frame := repositories.Image{MimeType: "image/jpeg", Data: []byte{0xff}}

	tests := []struct {
		name string
		llm  *fakeLLM
		want entities.OutcomeKind
		text string
	}{
		{"no comment token", &fakeLLM{answer: "NO_COMMENT"}, entities.OutcomeNoComment, ""},
		{"token with punctuation", &fakeLLM{answer: " no_comment. "}, entities.OutcomeNoComment, ""},
		{"empty answer", &fakeLLM{answer: "  "}, entities.OutcomeNoComment, ""},
		{"comment", &fakeLLM{answer: " The build just failed. "}, entities.OutcomeComment, "The build just failed."},
		{"request error", &fakeLLM{err: errors.New("quota")}, entities.OutcomeFailed, ""},
		{"session error", &fakeLLM{generateErr: errors.New("auth")}, entities.OutcomeFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewAnalysisService(tt.llm, 0, zaptest.NewLogger(t))
			outcome := service.AnalyzeFrame(context.Background(), frame, nil, entities.SensitivityMedium)

			if outcome.Kind != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, outcome.Kind)
			}
			if outcome.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, outcome.Text)
			}
			if tt.want == entities.OutcomeFailed && outcome.Err == nil {
				t.Error("Expected failure to carry its error")
			}
		})
	}
}

func TestAnalysisService_SendsFrameAndContext(t *testing.T) {
	llm := &fakeLLM{answer: "NO_COMMENT"}
	service := NewAnalysisService(llm, 0, zaptest.NewLogger(t))
	recent := []entities.Message{
		{ID: "1", Type: entities.MessageTypeUser, Content: "hi"},
		{ID: "2", Type: entities.MessageTypeSystem, Content: "capture started"},
		{ID: "3", Type: entities.MessageTypeAssistant, Content: "hello"},
	}

	service.AnalyzeFrame(context.Background(), repositories.Image{MimeType: "image/jpeg", Data: []byte{1}}, recent, entities.SensitivityLow)

	if len(llm.history) != 3 {
		t.Fatalf("Expected system prompt plus 2 turns, got %d", len(llm.history))
	}
	if llm.history[0].Role != repositories.SystemRole {
		t.Errorf("Expected system prompt first, got %s", llm.history[0].Role)
	}
	if llm.history[2].Role != repositories.AssistantRole {
		t.Errorf("Expected assistant turn, got %s", llm.history[2].Role)
	}
	if len(llm.sent.Images) != 1 {
		t.Errorf("Expected the frame attached, got %d images", len(llm.sent.Images))
	}
}

func TestChatService_Reply(t *testing.T) {
	llm := &fakeLLM{answer: "  Sure thing.  "}
	service := NewChatService(llm, zaptest.NewLogger(t))

	reply, err := service.Reply(context.Background(), "help me", nil, nil)
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "Sure thing." {
		t.Errorf("Expected trimmed reply, got %q", reply)
	}
	if len(llm.sent.Images) != 0 {
		t.Error("Expected no image without a frame")
	}

	frame := &repositories.Image{MimeType: "image/jpeg", Data: []byte{1}}
	if _, err := service.Reply(context.Background(), "and now?", frame, nil); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if len(llm.sent.Images) != 1 {
		t.Error("Expected frame attached")
	}

	llm.answer = ""
	if _, err := service.Reply(context.Background(), "hello", nil, nil); err == nil {
		t.Error("Expected error on empty reply")
	}
}

func TestConversationService_TranscribeDefaultsLanguage(t *testing.T) {
	stt := &fakeSTT{text: "  hello world "}
	service := NewConversationService(stt, NewChatService(&fakeLLM{}, zaptest.NewLogger(t)), "id-ID", zaptest.NewLogger(t))

	text, err := service.Transcribe(context.Background(), []byte{1, 2, 3}, repositories.AudioConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected trimmed transcript, got %q", text)
	}
	if stt.config.Language != "id-ID" {
		t.Errorf("Expected default language, got %s", stt.config.Language)
	}

	stt.err = errors.New("stt down")
	if _, err := service.Transcribe(context.Background(), []byte{1}, repositories.AudioConfig{}); err == nil {
		t.Error("Expected transcription error")
	}
}

func TestSpeechService_PassesVoiceSettings(t *testing.T) {
	tts := &fakeTTS{}
	service := NewSpeechService(tts, "en-US", zaptest.NewLogger(t))

	settings := entities.DefaultAudioSettings()
	settings.Voice = "shimmer"
	settings.Speed = 1.25
	if _, err := service.Synthesize(context.Background(), "hello", settings); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if tts.config.Voice != "shimmer" || tts.config.Speed != 1.25 || tts.config.Language != "en-US" {
		t.Errorf("Unexpected voice config: %+v", tts.config)
	}

	if _, err := service.Synthesize(context.Background(), "", settings); err == nil {
		t.Error("Expected error for empty text")
	}
}
