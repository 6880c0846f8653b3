package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap"
)

// Dependencies are the collaborators of a Session
type Dependencies struct {
	Screen      repositories.ScreenSource
	Microphone  repositories.Microphone
	Output      repositories.AudioOutput
	Analyzer    Analyzer
	Responder   Responder
	Synthesizer Synthesizer
	Scheduler   Scheduler
	Encoder     FrameEncoder
}

// Config tunes timing of a Session. Zero values select defaults.
type Config struct {
	SampleTick       time.Duration
	AutoPlayDelay    time.Duration
	RecordingCeiling time.Duration
	MinAudioBytes    int
	Capture          repositories.CaptureConstraints
	Analysis         entities.AnalysisSettings
	Audio            entities.AudioSettings
}

// Session is the live coordinator for one connected client
type Session struct {
	id     string
	logger *zap.Logger
	emit   Observer

	capture      *CaptureSource
	sampler      *Sampler
	dispatcher   *Dispatcher
	voice        *VoiceManager
	chat         *ChatTurn
	conversation *Conversation
	playback     *PlaybackCoordinator
	stats        *StatsTracker

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	analysis  entities.AnalysisSettings
	audio     entities.AudioSettings
	closed    bool
	closeOnce sync.Once
}

// NewSession wires the coordinator components for one client
func NewSession(id string, deps Dependencies, config Config, observer Observer, logger *zap.Logger) *Session {
	if deps.Scheduler == nil {
		deps.Scheduler = ClockScheduler{}
	}
	if deps.Encoder == nil {
		deps.Encoder = JPEGEncoder{}
	}
	if config.Capture.FrameRate == 0 {
		config.Capture = DefaultCaptureConstraints
	}
	if config.Analysis.Interval == 0 {
		config.Analysis = entities.DefaultAnalysisSettings()
	}
	if config.Audio.Voice == "" {
		config.Audio = entities.DefaultAudioSettings()
	}

	logger = logger.With(zap.String("sessionID", id))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:       id,
		logger:   logger,
		emit:     observer,
		ctx:      ctx,
		cancel:   cancel,
		analysis: config.Analysis,
		audio:    config.Audio,
	}

	s.conversation = NewConversation()
	s.stats = NewStatsTracker(observer)
	s.capture = NewCaptureSource(deps.Screen, config.Capture, logger.Named("capture"))
	s.sampler = NewSampler(deps.Scheduler, deps.Encoder, config.SampleTick, logger.Named("sampler"))
	s.playback = NewPlaybackCoordinator(deps.Output, deps.Synthesizer, s.conversation, s.AudioSettings, observer, logger.Named("playback"))
	s.dispatcher = NewDispatcher(DispatcherConfig{
		Analyzer:      deps.Analyzer,
		Store:         s.conversation,
		Stats:         s.stats,
		Playback:      s.playback,
		Scheduler:     deps.Scheduler,
		Analysis:      s.AnalysisSettings,
		Audio:         s.AudioSettings,
		AutoPlayDelay: config.AutoPlayDelay,
		Emit:          observer,
	}, logger.Named("dispatcher"))
	s.chat = NewChatTurn(ChatTurnConfig{
		Responder: deps.Responder,
		Store:     s.conversation,
		Playback:  s.playback,
		Frame:     s.sampler.CaptureFrame,
		Audio:     s.AudioSettings,
		Emit:      observer,
	}, logger.Named("chat"))
	s.voice = NewVoiceManager(VoiceConfig{
		Microphone:    deps.Microphone,
		Scheduler:     deps.Scheduler,
		Ceiling:       config.RecordingCeiling,
		MinAudioBytes: config.MinAudioBytes,
		Emit:          observer,
	}, s.chat, logger.Named("voice"))

	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// StartCapture acquires the screen and starts sampling it
func (s *Session) StartCapture(ctx context.Context) error {
	if s.isClosed() {
		return entities.ErrSessionClosed
	}

	handle, err := s.capture.Start(ctx, s.onCaptureEnded)
	if err != nil {
		s.logger.Warn("Screen capture failed", zap.Error(err))
		switch {
		case errors.Is(err, entities.ErrPermissionDenied):
			s.emit.notice(entities.NoticeError, "screen_denied", "Screen sharing permission was denied")
		default:
			s.emit.notice(entities.NoticeError, "screen_unavailable", "Screen sharing is unavailable")
		}
		return err
	}

	s.stats.Reset()
	s.sampler.Start(handle, s.AnalysisSettings(),
		func(frame *EncodedFrame) { s.dispatcher.Submit(s.ctx, frame) },
		s.stats.SetFPS)
	return nil
}

// StopCapture stops sampling and releases the screen
func (s *Session) StopCapture() {
	s.sampler.Stop()
	s.capture.Stop()
	s.stats.Freeze()
}

func (s *Session) onCaptureEnded(handle *CaptureHandle) {
	if !s.capture.Forget(handle) {
		return
	}
	s.sampler.Stop()
	s.stats.Freeze()
	s.emit.notice(entities.NoticeInfo, "capture_ended", "Screen sharing ended")
}

// IsLive reports whether a capture is running
func (s *Session) IsLive() bool {
	return s.capture.Current() != nil
}

// CaptureFrame encodes the current screen frame, or returns nil
func (s *Session) CaptureFrame() *EncodedFrame {
	return s.sampler.CaptureFrame()
}

// StartCall acquires the microphone for a voice call
func (s *Session) StartCall(ctx context.Context) error {
	if s.isClosed() {
		return entities.ErrSessionClosed
	}
	err := s.voice.StartCall(ctx)
	if err != nil && !errors.Is(err, entities.ErrCallInProgress) {
		s.emit.notice(entities.NoticeError, "mic_denied", "Microphone access failed")
	}
	return err
}

// EndCall records, transcribes and answers the voice call
func (s *Session) EndCall(ctx context.Context) (entities.CallResult, error) {
	return s.voice.EndCall(ctx)
}

// StopRecording finalizes the recording of the current call
func (s *Session) StopRecording() error {
	return s.voice.StopRecording()
}

// CallState returns the voice call state
func (s *Session) CallState() CallState {
	return s.voice.State()
}

// SendText runs a chat round trip for typed text
func (s *Session) SendText(ctx context.Context, text string) (entities.CallResult, error) {
	if s.isClosed() {
		return entities.CallResult{}, entities.ErrSessionClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return entities.CallResult{}, errors.New("message text is required")
	}
	return s.chat.Run(ctx, text)
}

// ToggleAudio plays, pauses or resumes the audio of a message
func (s *Session) ToggleAudio(ctx context.Context, messageID string) (PlaybackStatus, error) {
	msg, ok := s.conversation.Get(messageID)
	if !ok {
		return PlaybackNoAudio, fmt.Errorf("%w: %s", entities.ErrMessageNotFound, messageID)
	}
	status, err := s.playback.Toggle(ctx, messageID, msg.Content)
	if err != nil {
		s.emit.notice(entities.NoticeWarning, "tts_failed", "Audio for this message is unavailable")
	}
	return status, err
}

// StopAudio releases every playback
func (s *Session) StopAudio() {
	s.playback.StopAll()
}

// Clear stops playback and empties the conversation
func (s *Session) Clear() {
	s.conversation.Clear()
	s.emit.notify(Event{Type: EventCleared})
}

// Messages returns the conversation in order
func (s *Session) Messages() []entities.Message {
	return s.conversation.Messages()
}

// PlaybackStatus returns the audio state of a message
func (s *Session) PlaybackStatus(messageID string) PlaybackStatus {
	return s.playback.Status(messageID)
}

// Stats returns the current stream stats
func (s *Session) Stats() entities.StreamStats {
	return s.stats.Snapshot()
}

// Export snapshots the session for download
func (s *Session) Export() entities.SessionExport {
	return s.conversation.Export(s.id, s.stats.Snapshot(), s.AnalysisSettings(), s.AudioSettings())
}

// AnalysisSettings returns the current analysis settings
func (s *Session) AnalysisSettings() entities.AnalysisSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analysis
}

// AudioSettings returns the current audio settings
func (s *Session) AudioSettings() entities.AudioSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

// UpdateSettings validates and applies new settings. Nil leaves a group
// unchanged.
func (s *Session) UpdateSettings(analysis *entities.AnalysisSettings, audio *entities.AudioSettings) error {
	if analysis != nil {
		if err := analysis.Validate(); err != nil {
			return err
		}
	}
	if audio != nil {
		if err := audio.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if analysis != nil {
		s.analysis = *analysis
	}
	if audio != nil {
		s.audio = *audio
	}
	s.mu.Unlock()

	if analysis != nil {
		s.sampler.SetSettings(*analysis)
	}
	if audio != nil && !audio.Enabled {
		s.playback.StopAll()
	}
	return nil
}

// Close tears the session down, releasing capture, microphone, timers and
// audio. Each release runs regardless of the others.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.sampler.Stop()
		s.capture.Stop()
		s.stats.Freeze()
		s.voice.Close()
		s.cancel()
		s.dispatcher.Close()
		s.playback.StopAll()
		s.logger.Info("Live session closed")
	})
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
