package live

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap"
)

const (
	// DefaultRecordingCeiling force-stops a recording that is never stopped
	DefaultRecordingCeiling = 10 * time.Second
	// DefaultMinAudioBytes is the smallest recording worth transcribing
	DefaultMinAudioBytes = 1000
	// MinTranscriptChars is the fewest letters or digits a transcript needs
	MinTranscriptChars = 3
	// ChatContextLength is how many recent messages go with a chat turn
	ChatContextLength = 5
)

// CallState is the voice call state machine
type CallState string

const (
	CallIdle       CallState = "idle"
	CallActive     CallState = "active"
	CallProcessing CallState = "processing"
)

// Responder transcribes speech and produces chat replies
type Responder interface {
	Transcribe(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error)
	Reply(ctx context.Context, text string, frame *repositories.Image, recent []entities.Message) (string, error)
}

// VoiceManager runs one bounded recording-to-reply cycle at a time
type VoiceManager struct {
	mic       repositories.Microphone
	chat      *ChatTurn
	scheduler Scheduler
	ceiling   time.Duration
	minBytes  int
	emit      Observer
	logger    *zap.Logger

	mu sync.Mutex
	// acquiring reserves the call while the microphone prompt is open
	acquiring bool
	state     CallState
	stream    repositories.MicStream
	stopRec   chan struct{}
	stopOnce  *sync.Once
	closed    bool
}

// VoiceConfig wires a VoiceManager
type VoiceConfig struct {
	Microphone    repositories.Microphone
	Scheduler     Scheduler
	Ceiling       time.Duration
	MinAudioBytes int
	Emit          Observer
}

// NewVoiceManager creates an idle voice manager
func NewVoiceManager(config VoiceConfig, chat *ChatTurn, logger *zap.Logger) *VoiceManager {
	if config.Ceiling <= 0 {
		config.Ceiling = DefaultRecordingCeiling
	}
	if config.MinAudioBytes <= 0 {
		config.MinAudioBytes = DefaultMinAudioBytes
	}
	return &VoiceManager{
		mic:       config.Microphone,
		chat:      chat,
		scheduler: config.Scheduler,
		ceiling:   config.Ceiling,
		minBytes:  config.MinAudioBytes,
		emit:      config.Emit,
		logger:    logger,
		state:     CallIdle,
	}
}

// State returns the current call state
func (v *VoiceManager) State() CallState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// StartCall acquires the microphone. It is rejected unless the manager is
// idle, and the call becomes active only once the microphone is held.
func (v *VoiceManager) StartCall(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return entities.ErrSessionClosed
	}
	if v.state != CallIdle || v.acquiring {
		v.mu.Unlock()
		return entities.ErrCallInProgress
	}
	v.acquiring = true
	v.mu.Unlock()

	stream, err := v.mic.AcquireMicrophone(ctx, repositories.MicConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})

	v.mu.Lock()
	v.acquiring = false
	if err != nil {
		v.mu.Unlock()
		return fmt.Errorf("failed to acquire microphone: %w", err)
	}
	if v.closed {
		v.mu.Unlock()
		if err := stream.Close(); err != nil {
			v.logger.Warn("Failed to release microphone", zap.Error(err))
		}
		return entities.ErrSessionClosed
	}
	v.stream = stream
	v.state = CallActive
	v.mu.Unlock()

	v.publish(CallActive)
	v.logger.Info("Voice call started")
	return nil
}

// EndCall records from the acquired microphone until StopRecording, the
// recording ceiling, or ctx cancellation, then transcribes and replies.
// The microphone is released and the state returns to idle on every path.
func (v *VoiceManager) EndCall(ctx context.Context) (entities.CallResult, error) {
	v.mu.Lock()
	if v.state != CallActive || v.stream == nil {
		v.mu.Unlock()
		return entities.CallResult{}, entities.ErrNoActiveCall
	}
	stream := v.stream
	stop := make(chan struct{})
	v.state = CallProcessing
	v.stopRec = stop
	v.stopOnce = &sync.Once{}
	v.mu.Unlock()
	v.publish(CallProcessing)

	defer v.finish(stream)

	ceiling := make(chan struct{})
	var ceilingOnce sync.Once
	cancel := v.scheduler.After(v.ceiling, func() { ceilingOnce.Do(func() { close(ceiling) }) })
	defer cancel()

	if err := stream.StartRecording(); err != nil {
		v.emit.notice(entities.NoticeError, "recording_failed", "Could not start recording")
		return entities.CallResult{}, fmt.Errorf("failed to start recording: %w", err)
	}

	select {
	case <-stop:
	case <-ceiling:
		v.logger.Info("Recording ceiling reached", zap.Duration("ceiling", v.ceiling))
	case <-ctx.Done():
	}

	audio, err := stream.StopRecording()
	if err != nil {
		v.emit.notice(entities.NoticeError, "recording_failed", "Could not finalize recording")
		return entities.CallResult{}, fmt.Errorf("failed to stop recording: %w", err)
	}

	if len(audio) < v.minBytes {
		v.logger.Info("Recording too short", zap.Int("bytes", len(audio)))
		v.emit.notice(entities.NoticeWarning, "too_short", "Recording too short, please speak longer")
		return entities.CallResult{Outcome: entities.CallNoSpeech, Reason: "too short"}, nil
	}

	transcript, err := v.chat.responder.Transcribe(ctx, audio, stream.Format())
	if err != nil {
		v.emit.notice(entities.NoticeError, "transcription_failed", "Speech could not be transcribed")
		return entities.CallResult{}, fmt.Errorf("failed to transcribe: %w", err)
	}
	if !HasSpeech(transcript) {
		v.emit.notice(entities.NoticeInfo, "no_speech", "No speech detected")
		return entities.CallResult{Outcome: entities.CallNoSpeech, Reason: "no speech detected", Transcript: transcript}, nil
	}

	return v.chat.Run(ctx, transcript)
}

// StopRecording finalizes a recording that EndCall is waiting on
func (v *VoiceManager) StopRecording() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != CallProcessing || v.stopRec == nil {
		return entities.ErrNoActiveCall
	}
	stop := v.stopRec
	v.stopOnce.Do(func() { close(stop) })
	return nil
}

// Close releases the microphone and rejects further calls. A recording in
// progress is finalized and its EndCall completes the cleanup.
func (v *VoiceManager) Close() {
	v.mu.Lock()
	v.closed = true
	var release repositories.MicStream
	switch v.state {
	case CallProcessing:
		if v.stopRec != nil {
			stop := v.stopRec
			v.stopOnce.Do(func() { close(stop) })
		}
	case CallActive:
		release = v.stream
		v.stream = nil
		v.state = CallIdle
	}
	v.mu.Unlock()

	if release != nil {
		if err := release.Close(); err != nil {
			v.logger.Warn("Failed to release microphone", zap.Error(err))
		}
		v.publish(CallIdle)
	}
}

func (v *VoiceManager) finish(stream repositories.MicStream) {
	if err := stream.Close(); err != nil {
		v.logger.Warn("Failed to release microphone", zap.Error(err))
	}

	v.mu.Lock()
	v.stream = nil
	v.stopRec = nil
	v.stopOnce = nil
	v.state = CallIdle
	v.mu.Unlock()

	v.publish(CallIdle)
	v.logger.Info("Voice call ended")
}

func (v *VoiceManager) publish(state CallState) {
	v.emit.notify(Event{Type: EventCallState, CallState: state})
}

// HasSpeech reports whether text holds enough letters or digits to be
// treated as speech
func HasSpeech(text string) bool {
	count := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
			if count >= MinTranscriptChars {
				return true
			}
		}
	}
	return false
}

// ChatTurn is the user-text-to-spoken-reply round trip shared by voice
// calls and typed messages
type ChatTurn struct {
	responder Responder
	store     *Conversation
	playback  *PlaybackCoordinator
	frame     func() *EncodedFrame
	audio     func() entities.AudioSettings
	emit      Observer
	logger    *zap.Logger
}

// ChatTurnConfig wires a ChatTurn
type ChatTurnConfig struct {
	Responder Responder
	Store     *Conversation
	Playback  *PlaybackCoordinator
	Frame     func() *EncodedFrame
	Audio     func() entities.AudioSettings
	Emit      Observer
}

// NewChatTurn creates a chat round trip
func NewChatTurn(config ChatTurnConfig, logger *zap.Logger) *ChatTurn {
	return &ChatTurn{
		responder: config.Responder,
		store:     config.Store,
		playback:  config.Playback,
		frame:     config.Frame,
		audio:     config.Audio,
		emit:      config.Emit,
		logger:    logger,
	}
}

// Run appends text as a user message, asks for a reply with recent context
// and the current frame, appends the reply and speaks it when audio is on.
// A speech failure leaves the reply in place.
func (c *ChatTurn) Run(ctx context.Context, text string) (entities.CallResult, error) {
	recent := c.store.LastN(ChatContextLength)

	user := entities.NewMessage(entities.MessageTypeUser, text)
	userSnapshot := *user
	if err := c.store.Append(user); err != nil {
		return entities.CallResult{}, err
	}
	c.emit.notify(Event{Type: EventMessage, Message: &userSnapshot})
	result := entities.CallResult{Outcome: entities.CallReplied, Transcript: text, UserID: user.ID}

	var image *repositories.Image
	if frame := c.frame(); frame != nil {
		img := frame.Image()
		image = &img
	}

	reply, err := c.responder.Reply(ctx, text, image, recent)
	if err != nil {
		c.emit.notice(entities.NoticeError, "chat_failed", "The assistant could not reply")
		return result, fmt.Errorf("failed to get reply: %w", err)
	}

	assistant := entities.NewMessage(entities.MessageTypeAssistant, reply)
	assistantSnapshot := *assistant
	if err := c.store.Append(assistant); err != nil {
		return result, err
	}
	c.emit.notify(Event{Type: EventMessage, Message: &assistantSnapshot})
	result.ReplyID = assistant.ID

	if c.audio().Enabled {
		if _, err := c.playback.Play(ctx, assistant.ID, reply); err != nil {
			c.logger.Warn("Failed to speak reply", zap.String("messageID", assistant.ID), zap.Error(err))
			c.emit.notice(entities.NoticeWarning, "tts_failed", "Reply audio is unavailable")
		}
	}
	return result, nil
}
