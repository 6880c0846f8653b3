package repositories

import (
	"context"
	"image"
	"time"
)

// CaptureConstraints are requested when acquiring a screen stream
type CaptureConstraints struct {
	FrameRate int `json:"frame_rate"`
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
}

// ScreenSource acquires live screen-sharing streams
type ScreenSource interface {
	AcquireScreen(ctx context.Context, constraints CaptureConstraints) (ScreenStream, error)
}

// ScreenStream is a live screen feed owned by one capture session
type ScreenStream interface {
	// LatestFrame returns the most recent frame, or nil before the first one
	LatestFrame() image.Image
	// FrameCount is the number of frames received so far
	FrameCount() uint64
	// Ended is closed when sharing is revoked outside the application
	Ended() <-chan struct{}
	Close() error
}

// MicConstraints are requested when acquiring a microphone
type MicConstraints struct {
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
}

// Microphone acquires exclusive microphone streams
type Microphone interface {
	AcquireMicrophone(ctx context.Context, constraints MicConstraints) (MicStream, error)
}

// MicStream is an acquired microphone
type MicStream interface {
	StartRecording() error
	// StopRecording finalizes the recording and returns its bytes
	StopRecording() ([]byte, error)
	Format() AudioConfig
	Close() error
}

// AudioOutput opens playable audio for a message
type AudioOutput interface {
	Open(messageID string, speech *Speech, volume float64) (PlaybackHandle, error)
}

// PlaybackHandle controls one opened audio resource
type PlaybackHandle interface {
	Play(from time.Duration) error
	// Pause stops advancing and returns the current offset
	Pause() time.Duration
	Position() time.Duration
	// Done is closed when audio reaches its natural end
	Done() <-chan struct{}
	Close() error
}
