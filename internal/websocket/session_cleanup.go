package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CleanupConfig tunes the session cleanup service
type CleanupConfig struct {
	// IdleTimeout closes sessions silent for longer than this
	IdleTimeout time.Duration
	// Interval is how often sessions are checked and presence refreshed
	Interval time.Duration
}

// SessionCleanupService closes idle sessions and keeps presence fresh
type SessionCleanupService struct {
	hub      *Hub
	config   CleanupConfig
	logger   *zap.Logger
	stopChan chan struct{}
	now      func() time.Time
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(hub *Hub, config CleanupConfig, logger *zap.Logger) *SessionCleanupService {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Minute
		logger.Info("Using default idle timeout", zap.Duration("idleTimeout", config.IdleTimeout))
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
		logger.Info("Using default cleanup interval", zap.Duration("interval", config.Interval))
	}
	return &SessionCleanupService{
		hub:      hub,
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started")
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the cleanup process periodically
func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup disconnects idle sessions and refreshes presence of the rest
func (s *SessionCleanupService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	now := s.now()
	closed := 0
	for _, client := range s.hub.snapshot() {
		if now.Sub(client.idleSince()) > s.config.IdleTimeout {
			s.logger.Info("Closing idle session",
				zap.String("sessionID", client.sessionID),
				zap.Time("lastActive", client.idleSince()))
			client.closeConn()
			closed++
			continue
		}

		if presence := s.hub.config.Presence; presence != nil {
			if err := presence.Register(ctx, client.presence()); err != nil {
				s.logger.Warn("Failed to refresh presence",
					zap.String("sessionID", client.sessionID),
					zap.Error(err))
			}
		}
	}

	if closed > 0 {
		s.logger.Info("Session cleanup completed", zap.Int("closed", closed))
	}
}
