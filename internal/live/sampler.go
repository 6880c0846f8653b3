package live

import (
	"math"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"go.uber.org/zap"
)

// DefaultSampleTick is the fine-grained sampler tick
const DefaultSampleTick = time.Second / 30

// TicksPerSample returns how many ticks elapse between sampled frames
func TicksPerSample(interval, tick time.Duration) int {
	if tick <= 0 {
		return 1
	}
	// tolerance absorbs ticks truncated to whole nanoseconds, like time.Second/30
	n := int(math.Ceil(float64(interval) / float64(tick) * (1 - 1e-6)))
	if n < 1 {
		n = 1
	}
	return n
}

// Sampler turns a live capture into encoded stills at the analysis cadence
// and, independently, measures the capture frame rate once per second.
type Sampler struct {
	scheduler Scheduler
	encoder   FrameEncoder
	tick      time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	handle      *CaptureHandle
	settings    entities.AnalysisSettings
	every       int
	ticks       int
	lastCount   uint64
	cancelTick  func()
	cancelFPS   func()
	onFrame     func(*EncodedFrame)
	onFrameRate func(int)
}

// NewSampler creates an idle sampler
func NewSampler(scheduler Scheduler, encoder FrameEncoder, tick time.Duration, logger *zap.Logger) *Sampler {
	if tick <= 0 {
		tick = DefaultSampleTick
	}
	return &Sampler{
		scheduler: scheduler,
		encoder:   encoder,
		tick:      tick,
		logger:    logger,
		settings:  entities.DefaultAnalysisSettings(),
	}
}

// Start begins sampling handle. Any previous run is stopped first.
func (s *Sampler) Start(handle *CaptureHandle, settings entities.AnalysisSettings, onFrame func(*EncodedFrame), onFrameRate func(int)) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.handle = handle
	s.settings = settings
	s.every = TicksPerSample(settings.Interval, s.tick)
	s.ticks = 0
	s.lastCount = handle.FrameCount()
	s.onFrame = onFrame
	s.onFrameRate = onFrameRate
	s.cancelTick = s.scheduler.Every(s.tick, s.onTick)
	s.cancelFPS = s.scheduler.Every(time.Second, s.onSecond)

	s.logger.Debug("Sampler started",
		zap.Duration("tick", s.tick),
		zap.Int("ticksPerSample", s.every))
}

// Stop cancels both timers and forgets the capture
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	if s.cancelFPS != nil {
		s.cancelFPS()
		s.cancelFPS = nil
	}
	s.handle = nil
}

// SetSettings applies new analysis settings to the running cadence
func (s *Sampler) SetSettings(settings entities.AnalysisSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.every = TicksPerSample(settings.Interval, s.tick)
}

// CaptureFrame encodes the current frame. It returns nil when nothing is
// live or the stream has not produced a frame with dimensions yet.
func (s *Sampler) CaptureFrame() *EncodedFrame {
	s.mu.Lock()
	handle := s.handle
	quality := s.settings.Sensitivity.Quality()
	s.mu.Unlock()

	if handle == nil || !handle.Live() {
		return nil
	}
	img := handle.LatestFrame()
	if img == nil || img.Bounds().Empty() {
		return nil
	}

	frame, err := s.encoder.Encode(img, quality)
	if err != nil {
		s.logger.Warn("Failed to encode sampled frame", zap.Error(err))
		return nil
	}
	return frame
}

func (s *Sampler) onTick() {
	s.mu.Lock()
	if s.handle == nil {
		s.mu.Unlock()
		return
	}
	s.ticks++
	due := s.ticks%s.every == 0
	onFrame := s.onFrame
	s.mu.Unlock()

	if !due {
		return
	}
	if frame := s.CaptureFrame(); frame != nil && onFrame != nil {
		onFrame(frame)
	}
}

func (s *Sampler) onSecond() {
	s.mu.Lock()
	handle := s.handle
	if handle == nil {
		s.mu.Unlock()
		return
	}
	count := handle.FrameCount()
	fps := int(count - s.lastCount)
	s.lastCount = count
	onFrameRate := s.onFrameRate
	s.mu.Unlock()

	if onFrameRate != nil {
		onFrameRate(fps)
	}
}
