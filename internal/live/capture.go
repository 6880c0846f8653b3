package live

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap"
)

// DefaultCaptureConstraints asks for 30fps up to 1920x1080
var DefaultCaptureConstraints = repositories.CaptureConstraints{
	FrameRate: 30,
	MaxWidth:  1920,
	MaxHeight: 1080,
}

// CaptureSource owns the single screen capture of a session
type CaptureSource struct {
	screen      repositories.ScreenSource
	constraints repositories.CaptureConstraints
	logger      *zap.Logger

	mu      sync.Mutex
	current *CaptureHandle
}

// NewCaptureSource creates a capture source over screen
func NewCaptureSource(screen repositories.ScreenSource, constraints repositories.CaptureConstraints, logger *zap.Logger) *CaptureSource {
	return &CaptureSource{
		screen:      screen,
		constraints: constraints,
		logger:      logger,
	}
}

// Start acquires a new screen stream, releasing any prior one first.
// onEnded runs after the stream is released because sharing was revoked
// outside the application.
func (c *CaptureSource) Start(ctx context.Context, onEnded func(*CaptureHandle)) (*CaptureHandle, error) {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		c.logger.Debug("Releasing previous capture before starting a new one")
		prev.Stop()
	}

	stream, err := c.screen.AcquireScreen(ctx, c.constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire screen: %w", err)
	}

	handle := &CaptureHandle{
		stream:    stream,
		startedAt: time.Now(),
		stopped:   make(chan struct{}),
		onEnded:   onEnded,
		logger:    c.logger,
	}
	go handle.watch()

	c.mu.Lock()
	c.current = handle
	c.mu.Unlock()

	c.logger.Info("Screen capture started",
		zap.Int("frameRate", c.constraints.FrameRate),
		zap.Int("maxWidth", c.constraints.MaxWidth),
		zap.Int("maxHeight", c.constraints.MaxHeight))
	return handle, nil
}

// Current returns the live handle, or nil
func (c *CaptureSource) Current() *CaptureHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.current.Live() {
		return nil
	}
	return c.current
}

// Forget drops handle if it is still the current capture and reports
// whether it was
func (c *CaptureSource) Forget(handle *CaptureHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != handle {
		return false
	}
	c.current = nil
	return true
}

// Stop releases the current capture if any
func (c *CaptureSource) Stop() {
	c.mu.Lock()
	handle := c.current
	c.current = nil
	c.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

// CaptureHandle is one screen-sharing lifetime
type CaptureHandle struct {
	stream    repositories.ScreenStream
	startedAt time.Time
	once      sync.Once
	stopped   chan struct{}
	onEnded   func(*CaptureHandle)
	logger    *zap.Logger
}

// Stop releases the stream. Safe to call more than once.
func (h *CaptureHandle) Stop() {
	h.release()
}

// release runs the cleanup once and reports whether this call ran it
func (h *CaptureHandle) release() bool {
	released := false
	h.once.Do(func() {
		released = true
		close(h.stopped)
		if err := h.stream.Close(); err != nil {
			h.logger.Warn("Failed to release screen stream", zap.Error(err))
		}
		h.logger.Info("Screen capture stopped", zap.Duration("duration", time.Since(h.startedAt)))
	})
	return released
}

// Live reports whether the handle has not been stopped
func (h *CaptureHandle) Live() bool {
	select {
	case <-h.stopped:
		return false
	default:
		return true
	}
}

// Stopped is closed once the handle is released
func (h *CaptureHandle) Stopped() <-chan struct{} {
	return h.stopped
}

// LatestFrame returns the most recent raw frame, or nil
func (h *CaptureHandle) LatestFrame() image.Image {
	return h.stream.LatestFrame()
}

// FrameCount returns how many frames the stream has delivered
func (h *CaptureHandle) FrameCount() uint64 {
	return h.stream.FrameCount()
}

func (h *CaptureHandle) watch() {
	select {
	case <-h.stream.Ended():
		if h.release() && h.onEnded != nil {
			h.logger.Info("Screen sharing ended externally")
			h.onEnded(h)
		}
	case <-h.stopped:
	}
}
