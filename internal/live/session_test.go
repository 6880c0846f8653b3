package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"go.uber.org/zap/zaptest"
)

type sessionFixture struct {
	session   *Session
	screen    *fakeScreen
	mic       *fakeMic
	output    *fakeOutput
	analyzer  *fakeAnalyzer
	responder *fakeResponder
	scheduler *manualScheduler
	events    *eventRecorder
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		screen:    &fakeScreen{frame: testFrame(32, 32)},
		mic:       &fakeMic{audio: make([]byte, 2048)},
		output:    &fakeOutput{},
		analyzer:  &fakeAnalyzer{outcome: entities.Comment("I see a terminal")},
		responder: &fakeResponder{transcript: "hello there", reply: "Hi!"},
		scheduler: &manualScheduler{},
		events:    &eventRecorder{},
	}
	analysis := entities.DefaultAnalysisSettings()
	analysis.Interval = 2 * time.Second

	f.session = NewSession("session-1", Dependencies{
		Screen:      f.screen,
		Microphone:  f.mic,
		Output:      f.output,
		Analyzer:    f.analyzer,
		Responder:   f.responder,
		Synthesizer: &fakeSynth{},
		Scheduler:   f.scheduler,
	}, Config{
		SampleTick: 100 * time.Millisecond,
		Analysis:   analysis,
	}, f.events.observe, zaptest.NewLogger(t))
	t.Cleanup(f.session.Close)
	return f
}

func TestSession_CaptureAnalyzesFrames(t *testing.T) {
	f := newSessionFixture(t)

	if err := f.session.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if !f.session.Stats().IsLive {
		t.Error("Expected live stats")
	}

	f.scheduler.Advance(2 * time.Second)
	eventually(t, func() bool {
		return f.session.Stats().FramesAnalyzed == 1 && !f.session.dispatcher.Busy()
	}, "analysis")

	messages := f.session.Messages()
	if len(messages) != 1 || messages[0].Content != "I see a terminal" {
		t.Fatalf("Expected analysis comment, got %+v", messages)
	}

	f.scheduler.Advance(DefaultAutoPlayDelay)
	if f.session.PlaybackStatus(messages[0].ID) != PlaybackPlaying {
		t.Errorf("Expected auto-play, got %s", f.session.PlaybackStatus(messages[0].ID))
	}
}

func TestSession_CaptureEndedExternally(t *testing.T) {
	f := newSessionFixture(t)

	if err := f.session.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	stream := f.screen.last()
	stream.end()

	eventually(t, func() bool { return !f.session.IsLive() && !f.session.Stats().IsLive }, "capture cleanup")
	eventually(t, func() bool { return f.events.hasNotice("capture_ended") }, "capture_ended notice")

	if got := stream.closes.Load(); got != 1 {
		t.Errorf("Expected stream released once, got %d", got)
	}
	if f.scheduler.Pending() != 0 {
		t.Errorf("Expected sampling timers cancelled, %d pending", f.scheduler.Pending())
	}

	f.session.StopCapture()
	if got := stream.closes.Load(); got != 1 {
		t.Errorf("Explicit stop after end must not release again, got %d", got)
	}
}

func TestSession_RestartCaptureReleasesPrevious(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_ = f.session.StartCapture(ctx)
	first := f.screen.last()
	f.scheduler.Advance(time.Second)
	_ = f.session.StartCapture(ctx)

	if first.closes.Load() != 1 {
		t.Error("Expected previous capture released")
	}
	if !f.session.IsLive() {
		t.Error("Expected new capture live")
	}
	if stats := f.session.Stats(); stats.TotalFramesCaptured != 0 {
		t.Errorf("Expected stats reset, got %+v", stats)
	}
}

func TestSession_CapturePermissionDenied(t *testing.T) {
	f := newSessionFixture(t)
	f.screen.err = entities.ErrPermissionDenied

	err := f.session.StartCapture(context.Background())
	if !errors.Is(err, entities.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if f.session.IsLive() {
		t.Error("Denied capture must not be live")
	}
	if !f.events.hasNotice("screen_denied") {
		t.Error("Expected screen_denied notice")
	}
	if f.scheduler.Pending() != 0 {
		t.Error("Denied capture must not start timers")
	}
}

func TestSession_SendTextAndExport(t *testing.T) {
	f := newSessionFixture(t)

	result, err := f.session.SendText(context.Background(), "  what now?  ")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if result.Outcome != entities.CallReplied || result.ReplyID == "" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if _, err := f.session.SendText(context.Background(), "   "); err == nil {
		t.Error("Expected empty text to be rejected")
	}

	export := f.session.Export()
	if export.SessionID != "session-1" || len(export.Messages) != 2 {
		t.Fatalf("Unexpected export: %+v", export)
	}
	if export.Messages[0].Content != "what now?" {
		t.Errorf("Expected trimmed text, got %q", export.Messages[0].Content)
	}
}

func TestSession_ToggleUnknownMessage(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.ToggleAudio(context.Background(), "missing")
	if !errors.Is(err, entities.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
}

func TestSession_UpdateSettings(t *testing.T) {
	f := newSessionFixture(t)

	bad := entities.DefaultAnalysisSettings()
	bad.Interval = 7 * time.Second
	if err := f.session.UpdateSettings(&bad, nil); err == nil {
		t.Error("Expected invalid interval to be rejected")
	}

	audio := entities.DefaultAudioSettings()
	audio.Voice = "nova"
	audio.Speed = 1.5
	if err := f.session.UpdateSettings(nil, &audio); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if got := f.session.AudioSettings(); got.Voice != "nova" || got.Speed != 1.5 {
		t.Errorf("Settings not applied: %+v", got)
	}
	if got := f.session.AnalysisSettings(); got.Interval != 2*time.Second {
		t.Errorf("Analysis settings must be unchanged, got %+v", got)
	}
}

func TestSession_ClearStopsAudio(t *testing.T) {
	f := newSessionFixture(t)

	result, err := f.session.SendText(context.Background(), "say something")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if f.session.PlaybackStatus(result.ReplyID) != PlaybackPlaying {
		t.Fatal("Expected reply playing")
	}

	f.session.Clear()
	if f.output.open() != 0 {
		t.Errorf("Expected no open audio after clear, got %d", f.output.open())
	}
	if len(f.session.Messages()) != 0 {
		t.Error("Expected empty conversation")
	}
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	if err := f.session.StartCapture(ctx); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if _, err := f.session.SendText(ctx, "talk to me"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if err := f.session.StartCall(ctx); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}

	f.session.Close()
	f.session.Close()

	if f.screen.last().closes.Load() != 1 {
		t.Error("Expected screen released")
	}
	if f.mic.last().closes.Load() != 1 {
		t.Error("Expected microphone released")
	}
	if f.output.open() != 0 {
		t.Errorf("Expected audio released, %d open", f.output.open())
	}
	if f.scheduler.Pending() != 0 {
		t.Errorf("Expected timers cancelled, %d pending", f.scheduler.Pending())
	}
	if err := f.session.StartCapture(ctx); !errors.Is(err, entities.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}
