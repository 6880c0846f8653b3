package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap"
)

// DefaultAutoPlayDelay lets clients render a comment before its audio starts
const DefaultAutoPlayDelay = 500 * time.Millisecond

// Analyzer inspects one frame with recent context
type Analyzer interface {
	AnalyzeFrame(ctx context.Context, frame repositories.Image, recent []entities.Message, sensitivity entities.Sensitivity) entities.AnalysisOutcome
}

// Dispatcher sends sampled frames for analysis, at most one at a time.
// Frames submitted while a call is outstanding are dropped.
type Dispatcher struct {
	analyzer  Analyzer
	store     *Conversation
	stats     *StatsTracker
	playback  *PlaybackCoordinator
	scheduler Scheduler
	analysis  func() entities.AnalysisSettings
	audio     func() entities.AudioSettings
	delay     time.Duration
	emit      Observer
	logger    *zap.Logger

	busy     atomic.Bool
	dropped  atomic.Uint64
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	pending  map[string]func()
}

// DispatcherConfig wires a Dispatcher
type DispatcherConfig struct {
	Analyzer      Analyzer
	Store         *Conversation
	Stats         *StatsTracker
	Playback      *PlaybackCoordinator
	Scheduler     Scheduler
	Analysis      func() entities.AnalysisSettings
	Audio         func() entities.AudioSettings
	AutoPlayDelay time.Duration
	Emit          Observer
}

// NewDispatcher creates a dispatcher
func NewDispatcher(config DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if config.AutoPlayDelay <= 0 {
		config.AutoPlayDelay = DefaultAutoPlayDelay
	}
	return &Dispatcher{
		analyzer:  config.Analyzer,
		store:     config.Store,
		stats:     config.Stats,
		playback:  config.Playback,
		scheduler: config.Scheduler,
		analysis:  config.Analysis,
		audio:     config.Audio,
		delay:     config.AutoPlayDelay,
		emit:      config.Emit,
		logger:    logger,
		pending:   make(map[string]func()),
	}
}

// Submit starts analysis of frame in the background. It returns false
// when the frame was dropped because a call is still outstanding.
func (d *Dispatcher) Submit(ctx context.Context, frame *EncodedFrame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if !d.busy.CompareAndSwap(false, true) {
		d.dropped.Add(1)
		d.logger.Debug("Analysis in flight, dropping frame")
		return false
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer d.busy.Store(false)
		d.dispatch(ctx, frame)
	}()
	return true
}

// Busy reports whether an analysis call is outstanding
func (d *Dispatcher) Busy() bool {
	return d.busy.Load()
}

// Dropped returns how many frames were dropped under load
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close rejects new frames, cancels pending auto-play and waits for the
// outstanding call to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for id, cancel := range d.pending {
		cancel()
		delete(d.pending, id)
	}
	d.mu.Unlock()

	d.inflight.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, frame *EncodedFrame) {
	settings := d.analysis()
	recent := d.store.LastN(settings.ContextLength)

	start := time.Now()
	outcome := d.analyzer.AnalyzeFrame(ctx, frame.Image(), recent, settings.Sensitivity)
	d.logger.Debug("Frame analyzed",
		zap.String("outcome", string(outcome.Kind)),
		zap.Duration("latency", time.Since(start)))

	d.Record(ctx, outcome)
}

// Record applies an analysis outcome to stats and the conversation
func (d *Dispatcher) Record(ctx context.Context, outcome entities.AnalysisOutcome) *entities.Message {
	d.stats.Record(outcome)

	switch outcome.Kind {
	case entities.OutcomeComment:
		msg := entities.NewMessage(entities.MessageTypeAssistant, outcome.Text)
		// the stored message is mutated under the store lock from here on
		snapshot := *msg
		if err := d.store.Append(msg); err != nil {
			d.logger.Error("Failed to append analysis comment", zap.Error(err))
			return nil
		}
		msg = &snapshot
		d.emit.notify(Event{Type: EventMessage, Message: msg})

		if audio := d.audio(); audio.Enabled && audio.AutoPlay {
			d.scheduleAutoPlay(ctx, msg)
		}
		return msg

	case entities.OutcomeFailed:
		d.logger.Warn("Frame analysis failed", zap.Error(outcome.Err))
		d.emit.notice(entities.NoticeWarning, "analysis_failed", "Frame analysis is temporarily unavailable")
	}
	return nil
}

func (d *Dispatcher) scheduleAutoPlay(ctx context.Context, msg *entities.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	id, text := msg.ID, msg.Content
	d.pending[id] = d.scheduler.After(d.delay, func() {
		d.mu.Lock()
		_, ok := d.pending[id]
		delete(d.pending, id)
		d.mu.Unlock()
		if !ok {
			return
		}

		// cleared before the delay elapsed
		if _, ok := d.store.Get(id); !ok {
			return
		}
		if d.playback.Status(id) != PlaybackNoAudio {
			return
		}
		if _, err := d.playback.Play(ctx, id, text); err != nil {
			d.logger.Warn("Auto-play failed", zap.String("messageID", id), zap.Error(err))
			d.emit.notice(entities.NoticeWarning, "tts_failed", "Audio for this comment is unavailable")
		}
	})
}
