package reminders

import (
	"context"
	"sync"
	"time"
)

// SchedulerConfig holds configuration for the notice scheduler.
type SchedulerConfig struct {
	// Lead is how long before the session end the notice goes out.
	Lead time.Duration
	// CheckInterval is how often ending sessions are looked up.
	CheckInterval time.Duration
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Lead:          10 * time.Minute,
		CheckInterval: 1 * time.Minute,
	}
}

// Scheduler looks for sessions about to end and notifies their venue staff.
type Scheduler struct {
	config  SchedulerConfig
	store   SessionStore
	sender  *Sender
	metrics *Metrics
	now     func() time.Time
	logger  Logger
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewScheduler creates a new notice scheduler. now may be nil for the wall clock.
func NewScheduler(
	config SchedulerConfig,
	store SessionStore,
	sender *Sender,
	metrics *Metrics,
	now func() time.Time,
	logger Logger,
) *Scheduler {
	if config.Lead <= 0 {
		config.Lead = DefaultSchedulerConfig().Lead
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultSchedulerConfig().CheckInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		config:  config,
		store:   store,
		sender:  sender,
		metrics: metrics,
		now:     now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("session notice scheduler started",
		"lead", s.config.Lead.String(),
		"interval", s.config.CheckInterval.String())

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session notice scheduler stopped by context")
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-s.stopCh:
			s.logger.Info("session notice scheduler stopped")
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats summarizes one check.
type Stats struct {
	Total   int
	Sent    int
	Skipped int
	Failed  int
}

// RunNow sends notices for every session ending within the lead time.
func (s *Scheduler) RunNow(ctx context.Context) Stats {
	var stats Stats
	start := time.Now()
	now := s.now()

	sessions, err := s.store.EndingSessions(ctx, now, now.Add(s.config.Lead))
	if err != nil {
		s.logger.Error("failed to fetch ending sessions", "error", err.Error())
		return stats
	}
	stats.Total = len(sessions)
	s.metrics.SetPending(stats.Total)
	if stats.Total == 0 {
		return stats
	}

	for i := range sessions {
		select {
		case <-ctx.Done():
			s.logger.Info("session notice processing interrupted",
				"processed", stats.Sent+stats.Skipped+stats.Failed,
				"remaining", stats.Total-stats.Sent-stats.Skipped-stats.Failed)
			return stats
		default:
		}

		session := sessions[i]
		if session.ChatID == 0 {
			s.logger.Debug("venue has no staff chat", "venue_id", session.VenueID)
			stats.Skipped++
			continue
		}
		outcome, err := s.sender.SendWithRetry(ctx, session, now)
		s.metrics.IncOutcome(outcome)
		switch {
		case err != nil:
			stats.Failed++
		case outcome == outcomeSent:
			stats.Sent++
		default:
			stats.Skipped++
		}
	}

	s.logger.Info("session notices processed",
		"total", stats.Total,
		"sent", stats.Sent,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration", time.Since(start).String())
	return stats
}
