package audio

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu     sync.Mutex
	starts []time.Duration
	pauses []time.Duration
	bytes  int
	ends   int
}

func (s *recordingSink) AudioStart(_ string, _ repositories.AudioFormat, offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, offset)
	return nil
}

func (s *recordingSink) AudioChunk(_ string, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes += len(chunk)
	return nil
}

func (s *recordingSink) AudioPause(_ string, offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses = append(s.pauses, offset)
	return nil
}

func (s *recordingSink) AudioEnd(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	return nil
}

func silence(d time.Duration) *repositories.Speech {
	n := int(int64(repositories.PCM24kMono.BytesPerSecond()) * int64(d) / int64(time.Second))
	return &repositories.Speech{Data: make([]byte, n), Format: repositories.PCM24kMono}
}

func TestTrack_PlaysToNaturalEnd(t *testing.T) {
	sink := &recordingSink{}
	player := NewPlayer(sink, PlayerConfig{Tick: 5 * time.Millisecond}, zaptest.NewLogger(t))

	handle, err := player.Open("m1", silence(50*time.Millisecond), 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := handle.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("track did not finish")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.bytes != 2400 {
		t.Errorf("Expected 2400 bytes delivered, got %d", sink.bytes)
	}
	if sink.ends != 1 {
		t.Errorf("Expected one end notification, got %d", sink.ends)
	}
	if err := handle.Play(0); err == nil {
		t.Error("Expected error replaying a finished track")
	}
}

func TestTrack_PauseAndResume(t *testing.T) {
	sink := &recordingSink{}
	player := NewPlayer(sink, PlayerConfig{Tick: 5 * time.Millisecond}, zaptest.NewLogger(t))

	handle, err := player.Open("m1", silence(time.Second), 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := handle.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	at := handle.Pause()
	if at <= 0 {
		t.Fatalf("Expected positive pause offset, got %v", at)
	}
	time.Sleep(20 * time.Millisecond)
	if pos := handle.Position(); pos != at {
		t.Errorf("Position advanced while paused: %v != %v", pos, at)
	}

	if err := handle.Play(at); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	sink.mu.Lock()
	resumedAt := sink.starts[len(sink.starts)-1]
	sink.mu.Unlock()
	if resumedAt != at {
		t.Errorf("Expected resume at %v, got %v", at, resumedAt)
	}
	if err := handle.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case <-handle.Done():
		t.Error("Done must not close on explicit Close")
	default:
	}
	if err := handle.Play(0); err != ErrTrackClosed {
		t.Errorf("Expected ErrTrackClosed, got %v", err)
	}
}

func TestPlayer_OpenRejectsEmptyAudio(t *testing.T) {
	player := NewPlayer(nil, PlayerConfig{}, zaptest.NewLogger(t))
	if _, err := player.Open("m1", &repositories.Speech{}, 1); err == nil {
		t.Error("Expected error for empty speech")
	}
}

func TestApplyGain(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(1000)))
	var negative int16 = -32768
	binary.LittleEndian.PutUint16(pcm[2:], uint16(negative))

	out := ApplyGain(pcm, 0.5)
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != -16384 {
		t.Errorf("Expected -16384, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[0:])); got != 1000 {
		t.Errorf("Input was modified: %d", got)
	}

	full := ApplyGain(pcm, 1)
	if int16(binary.LittleEndian.Uint16(full[0:])) != 1000 {
		t.Error("Full volume must leave samples unchanged")
	}
}
