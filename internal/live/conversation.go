package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
)

// Conversation is the ordered message log of one session
type Conversation struct {
	mu       sync.RWMutex
	messages []*entities.Message
	index    map[string]int
	playback interface{ StopAll() }
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{index: make(map[string]int)}
}

// Append adds msg at the end of the log
func (c *Conversation) Append(msg *entities.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[msg.ID]; exists {
		return fmt.Errorf("duplicate message id: %s", msg.ID)
	}
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	return nil
}

// Clear stops all playback and then removes every message
func (c *Conversation) Clear() {
	if c.playback != nil {
		c.playback.StopAll()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.index = make(map[string]int)
}

// LastN returns copies of the k most recent messages, oldest first
func (c *Conversation) LastN(k int) []entities.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if k <= 0 {
		return nil
	}
	start := len(c.messages) - k
	if start < 0 {
		start = 0
	}
	return c.copyRange(start, len(c.messages))
}

// Messages returns copies of every message in order
func (c *Conversation) Messages() []entities.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyRange(0, len(c.messages))
}

// Get returns a copy of the message with id
func (c *Conversation) Get(id string) (entities.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[id]
	if !ok {
		return entities.Message{}, false
	}
	return *c.messages[i], true
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// PlayingCount returns how many messages are flagged as playing
func (c *Conversation) PlayingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, m := range c.messages {
		if m.IsPlaying {
			count++
		}
	}
	return count
}

// Export snapshots the log with stats and settings. It has no side effects.
func (c *Conversation) Export(sessionID string, stats entities.StreamStats, analysis entities.AnalysisSettings, audio entities.AudioSettings) entities.SessionExport {
	return entities.SessionExport{
		SessionID:        sessionID,
		ExportedAt:       time.Now(),
		Messages:         c.Messages(),
		Stats:            stats,
		AnalysisSettings: analysis,
		AudioSettings:    audio,
	}
}

func (c *Conversation) copyRange(from, to int) []entities.Message {
	out := make([]entities.Message, 0, to-from)
	for _, m := range c.messages[from:to] {
		out = append(out, *m)
	}
	return out
}

// markPlaying flags id as the only playing message
func (c *Conversation) markPlaying(id string, from float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.messages {
		m.IsPlaying = false
	}
	if i, ok := c.index[id]; ok {
		c.messages[i].IsPlaying = true
		c.messages[i].PausedAt = from
	}
}

func (c *Conversation) setPaused(id string, at float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[id]; ok {
		c.messages[i].IsPlaying = false
		c.messages[i].PausedAt = at
	}
}

func (c *Conversation) resetPlayback(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[id]; ok {
		c.messages[i].IsPlaying = false
		c.messages[i].PausedAt = 0
	}
}

func (c *Conversation) resetAllPlayback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.messages {
		m.IsPlaying = false
		m.PausedAt = 0
	}
}
