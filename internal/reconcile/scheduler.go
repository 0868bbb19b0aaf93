package reconcile

import (
	"context"
	"sync"
	"time"
)

// Runner is one reconciliation pass.
type Runner interface {
	RunNow(ctx context.Context) Report
}

// Status is what the scheduler reports about itself.
type Status struct {
	Running    bool      `json:"running"`
	Interval   string    `json:"interval"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastReport *Report   `json:"last_report,omitempty"`
}

// Scheduler runs reconciliation on a fixed interval, starting immediately.
type Scheduler struct {
	runner   Runner
	interval time.Duration

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	lastReport *Report
	passMu     sync.Mutex
}

func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks running passes until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.Trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Stop stops the scheduler loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Trigger runs one pass now. Passes never overlap; the manual trigger and the ticker share this path.
func (s *Scheduler) Trigger(ctx context.Context) Report {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	report := s.runner.RunNow(ctx)

	s.mu.Lock()
	s.lastReport = &report
	s.mu.Unlock()
	return report
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns the scheduler status with the most recent report.
func (s *Scheduler) LastRun() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running, Interval: s.interval.String()}
	if s.lastReport != nil {
		cp := *s.lastReport
		st.LastReport = &cp
		st.LastRunAt = cp.StartedAt
	}
	return st
}
