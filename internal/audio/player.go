package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap"
)

// ErrTrackClosed is returned when controlling a released track
var ErrTrackClosed = errors.New("audio track closed")

// Sink receives paced PCM for delivery to a speaker
type Sink interface {
	AudioStart(messageID string, format repositories.AudioFormat, offset time.Duration) error
	AudioChunk(messageID string, chunk []byte) error
	AudioPause(messageID string, offset time.Duration) error
	AudioEnd(messageID string) error
}

// PlayerConfig holds pacing configuration for the player
type PlayerConfig struct {
	// Tick is how often a chunk is released to the sink
	Tick time.Duration
}

// Player paces synthesized PCM into a Sink in real time
type Player struct {
	sink   Sink
	tick   time.Duration
	logger *zap.Logger
}

var _ repositories.AudioOutput = (*Player)(nil)

// NewPlayer creates a player writing to sink. A nil sink discards audio
// while still keeping time, which is useful without a speaker.
func NewPlayer(sink Sink, config PlayerConfig, logger *zap.Logger) *Player {
	if config.Tick <= 0 {
		config.Tick = 20 * time.Millisecond
		logger.Debug("Using default playback tick", zap.Duration("tick", config.Tick))
	}
	if sink == nil {
		sink = discard{}
	}
	return &Player{sink: sink, tick: config.Tick, logger: logger}
}

// Open prepares a track for messageID with volume applied as gain
func (p *Player) Open(messageID string, speech *repositories.Speech, volume float64) (repositories.PlaybackHandle, error) {
	if speech == nil || len(speech.Data) == 0 {
		return nil, fmt.Errorf("no audio for message %s", messageID)
	}
	format := speech.Format
	if format.BytesPerSecond() <= 0 {
		format = repositories.PCM24kMono
	}

	frame := format.Channels * format.BytesPerSample
	perTick := int(int64(format.BytesPerSecond()) * int64(p.tick) / int64(time.Second))
	perTick -= perTick % frame
	if perTick <= 0 {
		perTick = frame
	}

	return &Track{
		messageID: messageID,
		pcm:       ApplyGain(speech.Data, volume),
		format:    format,
		frame:     frame,
		perTick:   perTick,
		tick:      p.tick,
		sink:      p.sink,
		logger:    p.logger.With(zap.String("messageID", messageID)),
		done:      make(chan struct{}),
	}, nil
}

// Track is one opened audio resource
type Track struct {
	messageID string
	pcm       []byte
	format    repositories.AudioFormat
	frame     int
	perTick   int
	tick      time.Duration
	sink      Sink
	logger    *zap.Logger

	mu       sync.Mutex
	offset   int
	stop     chan struct{}
	closed   bool
	finished bool
	done     chan struct{}
}

// Play starts or resumes playback at from
func (t *Track) Play(from time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTrackClosed
	}
	if t.finished {
		return errors.New("audio track already ended")
	}

	t.halt()
	t.offset = t.bytesAt(from)
	if err := t.sink.AudioStart(t.messageID, t.format, t.durationOf(t.offset)); err != nil {
		t.logger.Warn("Audio sink rejected start", zap.Error(err))
	}

	stop := make(chan struct{})
	t.stop = stop
	go t.run(stop)
	return nil
}

// Pause stops advancing and returns the current offset
func (t *Track) Pause() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == nil {
		return t.durationOf(t.offset)
	}
	t.halt()
	at := t.durationOf(t.offset)
	if err := t.sink.AudioPause(t.messageID, at); err != nil {
		t.logger.Warn("Audio sink rejected pause", zap.Error(err))
	}
	return at
}

// Position returns the current playback offset
func (t *Track) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationOf(t.offset)
}

// Duration returns the total length of the track
func (t *Track) Duration() time.Duration {
	return t.durationOf(len(t.pcm))
}

// Done is closed when the track reaches its natural end
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Close releases the track. It never closes Done.
func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	running := t.stop != nil
	t.halt()
	t.closed = true
	if running {
		if err := t.sink.AudioEnd(t.messageID); err != nil {
			t.logger.Debug("Audio sink rejected end", zap.Error(err))
		}
	}
	return nil
}

func (t *Track) run(stop chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.stop != stop {
			t.mu.Unlock()
			return
		}
		end := t.offset + t.perTick
		if end > len(t.pcm) {
			end = len(t.pcm)
		}
		chunk := t.pcm[t.offset:end]
		t.offset = end
		if len(chunk) > 0 {
			if err := t.sink.AudioChunk(t.messageID, chunk); err != nil {
				t.logger.Warn("Audio sink write failed", zap.Error(err))
			}
		}
		if t.offset >= len(t.pcm) {
			t.stop = nil
			t.finished = true
			if err := t.sink.AudioEnd(t.messageID); err != nil {
				t.logger.Debug("Audio sink rejected end", zap.Error(err))
			}
			close(t.done)
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

// halt stops the running pacer. Caller holds mu.
func (t *Track) halt() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Track) bytesAt(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(int64(t.format.BytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % t.frame
	if n > len(t.pcm) {
		n = len(t.pcm)
	}
	return n
}

func (t *Track) durationOf(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(t.format.BytesPerSecond()))
}

// ApplyGain scales signed 16-bit little-endian samples by volume in [0, 1]
func ApplyGain(pcm []byte, volume float64) []byte {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	if volume >= 1 {
		return out
	}
	if volume < 0 {
		volume = 0
	}
	for i := 0; i+1 < len(out); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(out[i:])))
		scaled := math.Round(sample * volume)
		scaled = math.Max(math.MinInt16, math.Min(math.MaxInt16, scaled))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(scaled)))
	}
	return out
}

type discard struct{}

func (discard) AudioStart(string, repositories.AudioFormat, time.Duration) error { return nil }
func (discard) AudioChunk(string, []byte) error                                  { return nil }
func (discard) AudioPause(string, time.Duration) error                           { return nil }
func (discard) AudioEnd(string) error                                            { return nil }
