package hygiene

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Runner sweep on a cron schedule. Where
// internal/cron.Scheduler (the teacher's general-purpose job runner)
// dispatches message/agent/webhook/custom job types from configuration,
// hygiene only ever has one job: run the sweep. So this wraps
// robfig/cron/v3's Cron directly instead of pulling in the teacher's
// Job/JobType abstraction built for a much wider job surface.
type Scheduler struct {
	runner *Runner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	lastRun *Report
}

// NewScheduler builds a Scheduler for runner using the given crontab
// expression (standard five-field cron, e.g. "0 * * * *" for hourly).
func NewScheduler(runner *Runner, cronExpr string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hygiene-scheduler")

	c := cron.New()
	s := &Scheduler{runner: runner, cron: c, logger: logger}
	if _, err := c.AddFunc(cronExpr, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop in the background. Stop must be called to
// release the goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// LastReport returns the most recent sweep's report, or nil if none has
// run yet.
func (s *Scheduler) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) runOnce() {
	report, err := s.runner.Run(context.Background())
	if err != nil {
		s.logger.Error("hygiene sweep failed", "error", err)
		return
	}
	s.mu.Lock()
	s.lastRun = report
	s.mu.Unlock()
	s.logger.Info("hygiene sweep completed",
		"conversations_seen", report.ConversationsSeen,
		"pruned", report.Pruned,
		"deduped", report.Deduped,
		"archived", report.Archived,
		"retitled", report.Retitled,
		"errors", len(report.Errors),
	)
}
