package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"go.uber.org/zap"
)

// PlaybackStatus is the audio state of one message
type PlaybackStatus string

const (
	PlaybackNoAudio PlaybackStatus = "no_audio"
	PlaybackLoading PlaybackStatus = "loading"
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
)

// Synthesizer turns assistant text into playable speech
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, settings entities.AudioSettings) (*repositories.Speech, error)
}

type playbackState struct {
	messageID  string
	status     PlaybackStatus
	handle     repositories.PlaybackHandle
	pausedAt   time.Duration
	generation uint64
	released   chan struct{}
}

// PlaybackCoordinator guarantees at most one message is playing and keeps
// paused offsets per message. Every state change goes through its mutex.
type PlaybackCoordinator struct {
	output   repositories.AudioOutput
	synth    Synthesizer
	store    *Conversation
	settings func() entities.AudioSettings
	emit     Observer
	logger   *zap.Logger

	mu         sync.Mutex
	states     map[string]*playbackState
	playing    *playbackState
	generation uint64
}

// NewPlaybackCoordinator creates a coordinator and binds it to store so
// that clearing the conversation stops playback first.
func NewPlaybackCoordinator(output repositories.AudioOutput, synth Synthesizer, store *Conversation, settings func() entities.AudioSettings, emit Observer, logger *zap.Logger) *PlaybackCoordinator {
	p := &PlaybackCoordinator{
		output:   output,
		synth:    synth,
		store:    store,
		settings: settings,
		emit:     emit,
		logger:   logger,
		states:   make(map[string]*playbackState),
	}
	store.playback = p
	return p
}

// Toggle starts, pauses or resumes audio for a message
func (p *PlaybackCoordinator) Toggle(ctx context.Context, messageID, text string) (PlaybackStatus, error) {
	p.mu.Lock()
	st, ok := p.states[messageID]
	if !ok {
		p.mu.Unlock()
		return p.load(ctx, messageID, text)
	}

	var updates []PlaybackUpdate
	defer func() { p.publish(updates) }()
	defer p.mu.Unlock()

	switch st.status {
	case PlaybackLoading:
		return PlaybackLoading, nil

	case PlaybackPlaying:
		st.pausedAt = st.handle.Pause()
		st.status = PlaybackPaused
		if p.playing == st {
			p.playing = nil
		}
		p.store.setPaused(messageID, st.pausedAt.Seconds())
		updates = append(updates, p.update(st))
		return PlaybackPaused, nil

	default:
		if p.playing != nil && p.playing != st {
			updates = append(updates, p.releaseLocked(p.playing))
		}
		if err := st.handle.Play(st.pausedAt); err != nil {
			updates = append(updates, p.releaseLocked(st))
			return PlaybackNoAudio, fmt.Errorf("failed to resume audio: %w", err)
		}
		st.status = PlaybackPlaying
		p.playing = st
		p.store.markPlaying(messageID, st.pausedAt.Seconds())
		updates = append(updates, p.update(st))
		return PlaybackPlaying, nil
	}
}

// Play starts messageID from the beginning, superseding any state it has
func (p *PlaybackCoordinator) Play(ctx context.Context, messageID, text string) (PlaybackStatus, error) {
	return p.load(ctx, messageID, text)
}

// StopAll releases every playing, paused and loading state
func (p *PlaybackCoordinator) StopAll() {
	p.mu.Lock()
	var updates []PlaybackUpdate
	for _, st := range p.states {
		updates = append(updates, p.releaseLocked(st))
	}
	p.store.resetAllPlayback()
	p.mu.Unlock()

	p.publish(updates)
}

// Status returns the playback state of messageID
func (p *PlaybackCoordinator) Status(messageID string) PlaybackStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[messageID]; ok {
		return st.status
	}
	return PlaybackNoAudio
}

// ActiveCount returns how many audio resources are held
func (p *PlaybackCoordinator) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, st := range p.states {
		if st.handle != nil {
			count++
		}
	}
	return count
}

// PlayingID returns the message currently playing, or ""
func (p *PlaybackCoordinator) PlayingID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == nil {
		return ""
	}
	return p.playing.messageID
}

func (p *PlaybackCoordinator) load(ctx context.Context, messageID, text string) (PlaybackStatus, error) {
	p.mu.Lock()
	var updates []PlaybackUpdate
	for _, other := range p.states {
		if other.messageID == messageID || other.status != PlaybackPaused {
			updates = append(updates, p.releaseLocked(other))
		}
	}
	p.generation++
	st := &playbackState{
		messageID:  messageID,
		status:     PlaybackLoading,
		generation: p.generation,
		released:   make(chan struct{}),
	}
	p.states[messageID] = st
	updates = append(updates, p.update(st))
	settings := p.settings()
	p.mu.Unlock()
	p.publish(updates)

	speech, err := p.synth.Synthesize(ctx, text, settings)

	p.mu.Lock()
	updates = nil
	defer func() { p.publish(updates) }()
	defer p.mu.Unlock()

	if p.states[messageID] != st {
		p.logger.Debug("Discarding stale speech", zap.String("messageID", messageID), zap.Uint64("generation", st.generation))
		return PlaybackNoAudio, nil
	}
	if err != nil {
		updates = append(updates, p.releaseLocked(st))
		return PlaybackNoAudio, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	handle, err := p.output.Open(messageID, speech, settings.Volume)
	if err != nil {
		updates = append(updates, p.releaseLocked(st))
		return PlaybackNoAudio, fmt.Errorf("failed to open audio: %w", err)
	}
	st.handle = handle

	if p.playing != nil && p.playing != st {
		updates = append(updates, p.releaseLocked(p.playing))
	}
	if err := handle.Play(0); err != nil {
		updates = append(updates, p.releaseLocked(st))
		return PlaybackNoAudio, fmt.Errorf("failed to start audio: %w", err)
	}
	st.status = PlaybackPlaying
	p.playing = st
	p.store.markPlaying(messageID, 0)
	updates = append(updates, p.update(st))
	go p.watch(st, handle)

	return PlaybackPlaying, nil
}

func (p *PlaybackCoordinator) watch(st *playbackState, handle repositories.PlaybackHandle) {
	select {
	case <-handle.Done():
	case <-st.released:
		return
	}

	p.mu.Lock()
	if p.states[st.messageID] != st {
		p.mu.Unlock()
		return
	}
	update := p.releaseLocked(st)
	p.mu.Unlock()

	p.logger.Debug("Audio reached natural end", zap.String("messageID", st.messageID))
	p.publish([]PlaybackUpdate{update})
}

// releaseLocked drops st and frees its audio. Caller holds mu.
func (p *PlaybackCoordinator) releaseLocked(st *playbackState) PlaybackUpdate {
	if p.states[st.messageID] == st {
		delete(p.states, st.messageID)
	}
	if p.playing == st {
		p.playing = nil
	}
	select {
	case <-st.released:
	default:
		close(st.released)
	}
	if st.handle != nil {
		if err := st.handle.Close(); err != nil {
			p.logger.Warn("Failed to release audio", zap.String("messageID", st.messageID), zap.Error(err))
		}
		st.handle = nil
	}
	st.status = PlaybackNoAudio
	p.store.resetPlayback(st.messageID)
	return PlaybackUpdate{MessageID: st.messageID, Status: PlaybackNoAudio}
}

func (p *PlaybackCoordinator) update(st *playbackState) PlaybackUpdate {
	return PlaybackUpdate{MessageID: st.messageID, Status: st.status, PausedAt: st.pausedAt.Seconds()}
}

func (p *PlaybackCoordinator) publish(updates []PlaybackUpdate) {
	for i := range updates {
		u := updates[i]
		p.emit.notify(Event{Type: EventMessageState, Playback: &u})
	}
}
