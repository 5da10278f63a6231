package hls

import (
	"context"
	"log/slog"
	"time"
)

// Default sweeper cadence and thresholds.
const (
	DefaultPauseCheckInterval   = 10 * time.Second
	DefaultPauseThreshold       = 60 * time.Second
	DefaultCleanupCheckInterval = 60 * time.Second
	DefaultInactivityThreshold  = 180 * time.Second
)

// sessionSweeps is the slice of the supervisor the sweeper drives.
type sessionSweeps interface {
	PauseIdle(threshold time.Duration) int
	CleanupInactive(threshold time.Duration) int
}

// SweeperConfig tunes the two reclamation passes.
type SweeperConfig struct {
	PauseCheckInterval   time.Duration
	PauseThreshold       time.Duration
	CleanupCheckInterval time.Duration
	InactivityThreshold  time.Duration
}

func (c *SweeperConfig) applyDefaults() {
	if c.PauseCheckInterval <= 0 {
		c.PauseCheckInterval = DefaultPauseCheckInterval
	}
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = DefaultPauseThreshold
	}
	if c.CleanupCheckInterval <= 0 {
		c.CleanupCheckInterval = DefaultCleanupCheckInterval
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = DefaultInactivityThreshold
	}
}

// Sweeper periodically pauses idle sessions and reclaims abandoned ones.
// Two independent cadences: a fast pass that only suspends the encoder, and
// a slow pass that tears sessions down and deletes their output.
type Sweeper struct {
	cfg      SweeperConfig
	registry sessionSweeps
	log      *slog.Logger
}

func NewSweeper(registry sessionSweeps, cfg SweeperConfig, log *slog.Logger) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{cfg: cfg, registry: registry, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	pauseTicker := time.NewTicker(s.cfg.PauseCheckInterval)
	defer pauseTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.CleanupCheckInterval)
	defer cleanupTicker.Stop()

	s.log.Info("sweeper started",
		"pauseInterval", s.cfg.PauseCheckInterval,
		"pauseThreshold", s.cfg.PauseThreshold,
		"cleanupInterval", s.cfg.CleanupCheckInterval,
		"inactivityThreshold", s.cfg.InactivityThreshold)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-pauseTicker.C:
			if n := s.registry.PauseIdle(s.cfg.PauseThreshold); n > 0 {
				s.log.Info("paused idle sessions", "count", n)
			}
		case <-cleanupTicker.C:
			if n := s.registry.CleanupInactive(s.cfg.InactivityThreshold); n > 0 {
				s.log.Info("reclaimed inactive sessions", "count", n)
			}
		}
	}
}
