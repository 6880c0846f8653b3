package live

import (
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
)

// StatsTracker owns the StreamStats of the current capture session
type StatsTracker struct {
	mu    sync.Mutex
	stats entities.StreamStats
	emit  Observer
}

// NewStatsTracker creates a tracker publishing changes to emit
func NewStatsTracker(emit Observer) *StatsTracker {
	return &StatsTracker{emit: emit}
}

// Reset zeroes the counters for a new capture session
func (t *StatsTracker) Reset() {
	t.update(func(s *entities.StreamStats) bool {
		*s = entities.StreamStats{IsLive: true}
		return true
	})
}

// Freeze marks the session stopped; counters stop changing
func (t *StatsTracker) Freeze() {
	t.update(func(s *entities.StreamStats) bool {
		if !s.IsLive {
			return false
		}
		s.IsLive = false
		s.FPS = 0
		return true
	})
}

// SetFPS records the measured frame rate
func (t *StatsTracker) SetFPS(fps int) {
	t.update(func(s *entities.StreamStats) bool {
		if !s.IsLive || s.FPS == fps {
			return false
		}
		s.FPS = fps
		return true
	})
}

// Record applies one analysis outcome to the counters
func (t *StatsTracker) Record(outcome entities.AnalysisOutcome) {
	t.update(func(s *entities.StreamStats) bool {
		if !s.IsLive {
			return false
		}
		s.TotalFramesCaptured++
		switch outcome.Kind {
		case entities.OutcomeComment:
			s.FramesAnalyzed++
			s.LastAnalysisTimestamp = time.Now()
		case entities.OutcomeNoComment:
			s.LastAnalysisTimestamp = time.Now()
		}
		s.Recompute()
		return true
	})
}

// Snapshot returns a copy of the current stats
func (t *StatsTracker) Snapshot() entities.StreamStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *StatsTracker) update(fn func(*entities.StreamStats) bool) {
	t.mu.Lock()
	changed := fn(&t.stats)
	snapshot := t.stats
	t.mu.Unlock()

	if changed {
		t.emit.notify(Event{Type: EventStats, Stats: &snapshot})
	}
}
