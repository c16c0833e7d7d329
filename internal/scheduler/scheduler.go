package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"case-mail-router/internal/config"
	"case-mail-router/internal/historysync"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/reminder"
	"case-mail-router/internal/service"
)

// Job names
const (
	JobPoll      = "poll"
	JobReminders = "reminders"
	JobSyncSweep = "sync-sweep"
)

// Jobs are the components driven by the scheduler. A nil component disables its job.
type Jobs struct {
	Fetcher   provider.EmailFetcher
	Pipeline  *service.Pipeline
	Reminders *reminder.Escalator
	Sync      *historysync.Manager
}

type cronJob struct {
	schedule string
	fn       func()
}

// Scheduler manages the periodic background work
type Scheduler struct {
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	config    *config.SchedulerConfig
	location  *time.Location
	jobs      Jobs
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler. Cron expressions are read in loc.
func NewScheduler(cfg *config.SchedulerConfig, loc *time.Location, jobs Jobs, metrics *metrics.Metrics) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	// cancelled until Start
	cancel()

	return &Scheduler{
		config:   cfg,
		location: loc,
		jobs:     jobs,
		metrics:  metrics,
		entries:  make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// a stopped cron and its context cannot be reused
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(s.location),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger()))),
	)
	s.entries = make(map[string]cron.EntryID)

	jobs := map[string]cronJob{
		JobPoll:      {fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes), s.processEmails},
		JobReminders: {s.config.ReminderSchedule, s.runReminders},
	}
	if s.config.SyncSweepMinutes > 0 {
		jobs[JobSyncSweep] = cronJob{fmt.Sprintf("0 */%d * * * *", s.config.SyncSweepMinutes), s.sweepSync}
	}

	for name, job := range jobs {
		if job.schedule == "" {
			continue
		}
		entryID, err := s.cron.AddFunc(job.schedule, job.fn)
		if err != nil {
			s.cancel()
			return fmt.Errorf("failed to add %s cron job: %w", name, err)
		}
		s.entries[name] = entryID
	}

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runContext() (context.Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx, s.isRunning
}

// processEmails polls the mailbox and runs new mail through the pipeline
func (s *Scheduler) processEmails() {
	ctx, running := s.runContext()
	if !running {
		logrus.Info("Scheduler not running, skipping processing cycle")
		return
	}
	s.poll(ctx)
}

func (s *Scheduler) poll(ctx context.Context) service.BatchResult {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.jobs.Fetcher == nil || s.jobs.Pipeline == nil {
		return service.BatchResult{}
	}
	logrus.Info("Starting email processing cycle")
	startTime := time.Now()
	s.metrics.PullCount.Inc()

	emails, err := s.jobs.Fetcher.FetchNewEmails(ctx)
	if err != nil {
		logrus.Errorf("Failed to fetch emails: %v", err)
		s.metrics.PullFailures.Inc()
		return service.BatchResult{}
	}
	logrus.Infof("Fetched %d new emails", len(emails))

	result := s.jobs.Pipeline.IngestBatch(ctx, emails)
	if err := s.jobs.Pipeline.RefreshQueueGauges(ctx); err != nil {
		logrus.Warnf("Failed to refresh queue gauges: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"processed":  result.Processed,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}).Infof("Email processing cycle completed in %v", time.Since(startTime))
	return result
}

func (s *Scheduler) runReminders() {
	ctx, running := s.runContext()
	if !running {
		return
	}
	s.reminders(ctx)
}

func (s *Scheduler) reminders(ctx context.Context) reminder.Summary {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.jobs.Reminders == nil {
		return reminder.Summary{}
	}
	sum, err := s.jobs.Reminders.Run(ctx)
	if err != nil {
		logrus.Errorf("Reminder run failed: %v", err)
	}
	return sum
}

func (s *Scheduler) sweepSync() {
	ctx, running := s.runContext()
	if !running {
		return
	}
	s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) int {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.jobs.Sync == nil {
		return 0
	}
	n, err := s.jobs.Sync.Sweep(ctx)
	if err != nil {
		logrus.Errorf("History sync sweep failed: %v", err)
	}
	return n
}

// RunResult reports what a manual run did
type RunResult struct {
	Emails     service.BatchResult `json:"emails"`
	Reminders  reminder.Summary    `json:"reminders"`
	QueuedJobs int                 `json:"queued_jobs"`
}

// RunOnce runs every job once (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) RunResult {
	logrus.Info("Running scheduled jobs once")
	return RunResult{
		Emails:     s.poll(ctx),
		Reminders:  s.reminders(ctx),
		QueuedJobs: s.sweep(ctx),
	}
}

// GetNextRun returns the time of the next scheduled run of a job
func (s *Scheduler) GetNextRun(job string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entries[job]
	if !s.isRunning || !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// GetLastRun returns the time of the last run of a job
func (s *Scheduler) GetLastRun(job string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entries[job]
	if !s.isRunning || !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Prev
}

// Jobs lists the scheduled job names
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for _, name := range []string{JobPoll, JobReminders, JobSyncSweep} {
		if _, ok := s.entries[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Wait waits for running jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
