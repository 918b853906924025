// Package scheduler turns app lifecycle signals into sync triggers: process
// start, connectivity changes, explicit refresh, and a periodic timer that
// only fires while the app is in the foreground.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	syncpkg "github.com/kimhsiao/fitsync/internal/sync"
)

// AssetQueue is the part of the asset queue the scheduler drives.
type AssetQueue interface {
	SetOnline(online bool)
	Kick()
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval  time.Duration // periodic sync while foregrounded (default: 15 minutes)
	QueueInterval time.Duration // asset queue nudge (default: 1 minute)
	Clock         clock.Clock
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  15 * time.Minute,
		QueueInterval: 1 * time.Minute,
		Clock:         clock.WallClock,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.SyncInterval <= 0 {
		c.SyncInterval = def.SyncInterval
	}
	if c.QueueInterval <= 0 {
		c.QueueInterval = def.QueueInterval
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
}

// Status reports the scheduler state.
type Status struct {
	IsRunning   bool                  `json:"is_running"`
	IsOnline    bool                  `json:"is_online"`
	Foreground  bool                  `json:"foreground"`
	LastTrigger *time.Time            `json:"last_trigger,omitempty"`
	LastReason  syncpkg.TriggerReason `json:"last_reason,omitempty"`
}

// Scheduler fans lifecycle signals out to the sync engine and asset queue.
type Scheduler struct {
	engine syncpkg.Engine
	assets AssetQueue
	cfg    Config

	mu          sync.RWMutex
	isRunning   bool
	isOnline    bool
	foreground  bool
	lastTrigger time.Time
	lastReason  syncpkg.TriggerReason
}

// New creates a new Scheduler. assets may be nil when uploads are disabled.
func New(engine syncpkg.Engine, assets AssetQueue, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		engine:     engine,
		assets:     assets,
		cfg:        cfg,
		isOnline:   true, // Assume online initially
		foreground: true,
	}
}

// Run triggers the startup sync and then drives the timers until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalid, "scheduler already running")
	}
	s.isRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	logging.Info("sync scheduler started", map[string]interface{}{
		"sync_interval":  s.cfg.SyncInterval.String(),
		"queue_interval": s.cfg.QueueInterval.String(),
	})

	s.trigger(syncpkg.TriggerStartup)
	s.kickAssets()

	syncTimer := s.cfg.Clock.NewTimer(s.cfg.SyncInterval)
	defer syncTimer.Stop()
	queueTimer := s.cfg.Clock.NewTimer(s.cfg.QueueInterval)
	defer queueTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("sync scheduler stopped", nil)
			return nil
		case <-syncTimer.Chan():
			s.mu.RLock()
			due := s.isOnline && s.foreground
			s.mu.RUnlock()
			if due {
				s.trigger(syncpkg.TriggerPeriodic)
			}
			syncTimer.Reset(s.cfg.SyncInterval)
		case <-queueTimer.Chan():
			s.kickAssets()
			queueTimer.Reset(s.cfg.QueueInterval)
		}
	}
}

// SetOnlineStatus forwards a connectivity change. Going offline pauses sync
// and uploads; coming back online restarts both.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline != isOnline {
		logging.Info("online status changed", map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
	}
	if s.assets != nil {
		s.assets.SetOnline(isOnline)
	}
	s.engine.SetOnline(isOnline)
	if isOnline && !wasOnline {
		s.record(syncpkg.TriggerConnectivity)
	}
}

// SetForeground records app visibility. Going to the background cancels the
// running cycle; returning to the foreground syncs immediately. The periodic
// timer is idle in the background.
func (s *Scheduler) SetForeground(foreground bool) {
	s.mu.Lock()
	was := s.foreground
	s.foreground = foreground
	online := s.isOnline
	s.mu.Unlock()

	switch {
	case !foreground && was:
		logging.Info("app backgrounded, cancelling sync", nil)
		s.engine.Reset()
	case foreground && !was && online:
		s.trigger(syncpkg.TriggerPeriodic)
	}
}

// Reset is the forced reset: the running cycle is cancelled and any pending
// follow-up dropped.
func (s *Scheduler) Reset() {
	logging.Info("sync reset requested", nil)
	s.engine.Reset()
}

// Refresh is the explicit user refresh.
func (s *Scheduler) Refresh() {
	s.trigger(syncpkg.TriggerRefresh)
	s.kickAssets()
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		IsRunning:  s.isRunning,
		IsOnline:   s.isOnline,
		Foreground: s.foreground,
		LastReason: s.lastReason,
	}
	if !s.lastTrigger.IsZero() {
		t := s.lastTrigger
		st.LastTrigger = &t
	}
	return st
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

func (s *Scheduler) trigger(reason syncpkg.TriggerReason) {
	s.record(reason)
	logging.Debug("sync triggered", map[string]interface{}{"reason": reason})
	s.engine.Trigger(reason)
}

func (s *Scheduler) record(reason syncpkg.TriggerReason) {
	s.mu.Lock()
	s.lastTrigger = s.cfg.Clock.Now()
	s.lastReason = reason
	s.mu.Unlock()
}

func (s *Scheduler) kickAssets() {
	if s.assets != nil {
		s.assets.Kick()
	}
}
