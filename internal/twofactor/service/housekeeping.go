package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

// HousekeepingService periodically removes expired ephemeral rows:
// spent-but-unpurged nonces, challenge material, and emailed codes.
type HousekeepingService struct {
	Attrs    store.Attributes
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the cleanup worker. A non-positive
// interval defaults to 15 minutes.
func NewHousekeepingService(attrs store.Attributes, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &HousekeepingService{
		Attrs:    attrs,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut
// it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", "interval", s.Interval)
}

// Stop shuts the worker down, waiting for any in-progress sweep.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Sweep once on startup so restarts don't leave stale rows around.
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.Attrs.PurgeExpired(ctx, time.Now())
	if err != nil {
		s.Logger.Error("housekeeping sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.Logger.Info("housekeeping sweep completed", "purged", n)
	}
}
