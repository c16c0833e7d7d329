// Package historysync backfills past mail exchanged with a case contact. Jobs are
// persisted, run on a small worker pool and never duplicate stored messages: a message
// that is already known only gains a link to the job's case.
package historysync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"case-mail-router/internal/config"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/textextract"
)

// ErrInvalidContact is returned when a trigger names no usable address
var ErrInvalidContact = errors.New("invalid contact email")

// errCeiling stops a job once the per-job message ceiling is reached
var errCeiling = errors.New("message ceiling reached")

// Manager owns the sync job queue and its workers
type Manager struct {
	repo    *repository.Repository
	source  provider.HistorySource
	cfg     config.HistorySyncConfig
	metrics *metrics.Metrics
	queue   chan string
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager. Jobs can be triggered before Start; they wait in the
// queue or, when it is full, for the next Sweep.
func NewManager(repo *repository.Repository, source provider.HistorySource, cfg config.HistorySyncConfig, m *metrics.Metrics) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Manager{
		repo:    repo,
		source:  source,
		cfg:     cfg,
		metrics: m,
		queue:   make(chan string, cfg.QueueSize),
		now:     time.Now,
	}
}

// Trigger creates a sync job for the case and contact unless one is already active,
// in which case the active job is returned. It never waits for the job to run.
func (m *Manager) Trigger(ctx context.Context, caseID, contact, requestedBy string) (*model.HistoricalEmailSyncJob, bool, error) {
	contact = model.NormalizeAddress(contact)
	if contact == "" || !strings.Contains(contact, "@") {
		return nil, false, ErrInvalidContact
	}
	if _, err := m.repo.GetCase(ctx, caseID); err != nil {
		return nil, false, err
	}

	var (
		job     *model.HistoricalEmailSyncJob
		created bool
		err     error
	)
	// the active job can finish between the conflicting insert and the lookup
	for attempt := 0; attempt < 3; attempt++ {
		job, created, err = m.repo.CreateSyncJob(ctx, &model.HistoricalEmailSyncJob{
			CaseID:       caseID,
			ContactEmail: contact,
			RequestedBy:  requestedBy,
		})
		if !errors.Is(err, repository.ErrNotFound) {
			break
		}
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		logrus.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"case_id": caseID,
			"contact": contact,
		}).Info("History sync job created")
		m.enqueue(job.ID)
	}
	return job, created, nil
}

// TriggerContacts starts a sync for every contact address of a case
func (m *Manager) TriggerContacts(ctx context.Context, c *model.Case, requestedBy string) ([]*model.HistoricalEmailSyncJob, error) {
	var jobs []*model.HistoricalEmailSyncJob
	for _, contact := range c.ContactEmails {
		job, _, err := m.Trigger(ctx, c.ID, contact, requestedBy)
		if err != nil {
			return jobs, fmt.Errorf("failed to trigger sync for %s: %w", contact, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Status returns the latest job for a case and contact
func (m *Manager) Status(ctx context.Context, caseID, contact string) (*model.HistoricalEmailSyncJob, error) {
	return m.repo.LatestSyncJob(ctx, caseID, model.NormalizeAddress(contact))
}

func (m *Manager) enqueue(jobID string) {
	select {
	case m.queue <- jobID:
	default:
		logrus.WithField("job_id", jobID).Warn("History sync queue full, job left for the next sweep")
	}
}

// Start launches the worker pool
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("history sync is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.running = true

	logrus.Infof("History sync started with %d workers", m.cfg.Workers)
	return nil
}

// Stop cancels running jobs, which go back to pending, and waits for the workers
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	logrus.Info("History sync stopped")
}

// IsRunning returns whether the worker pool is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-m.queue:
			if err := m.Run(ctx, jobID); err != nil {
				logrus.WithField("job_id", jobID).Errorf("History sync job failed to run: %v", err)
			}
		}
	}
}

// Sweep returns stale in-progress jobs to pending and queues every pending job.
// It recovers work lost to restarts or a full queue.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	requeued, err := m.repo.RequeueStaleSyncJobs(ctx, m.now().Add(-2*m.cfg.JobTimeout))
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		logrus.Warnf("Requeued %d stale history sync jobs", requeued)
	}

	jobs, err := m.repo.ListPendingSyncJobs(ctx, cap(m.queue)-len(m.queue))
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		m.enqueue(job.ID)
	}
	return len(jobs), nil
}

// Run claims and processes one job. A job that is not pending is skipped, so
// queueing the same id twice is harmless.
func (m *Manager) Run(ctx context.Context, jobID string) error {
	claimed, err := m.repo.ClaimSyncJob(ctx, jobID, m.now())
	if err != nil {
		return err
	}
	if !claimed {
		logrus.WithField("job_id", jobID).Debug("History sync job already claimed, skipping")
		return nil
	}
	job, err := m.repo.GetSyncJob(ctx, jobID)
	if err != nil {
		return err
	}

	m.metrics.ActiveSyncWorkers.Inc()
	defer m.metrics.ActiveSyncWorkers.Dec()

	log := logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"case_id": job.CaseID,
		"contact": job.ContactEmail,
		"attempt": job.Attempts,
	})
	log.Info("History sync job started")

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()
	synced, total, runErr := m.process(jobCtx, job)

	if ctx.Err() != nil {
		// shutting down: leave the job for the next start
		if err := m.repo.ReleaseSyncJob(context.Background(), job.ID); err != nil {
			return err
		}
		log.Warn("History sync job interrupted, released to pending")
		return ctx.Err()
	}

	out := m.outcome(jobCtx, synced, total, runErr)
	if err := m.repo.FinishSyncJob(ctx, job.ID, out); err != nil {
		return err
	}
	m.metrics.SyncJobs.WithLabelValues(string(out.Status)).Inc()

	log = log.WithFields(logrus.Fields{"synced": synced, "total": total, "status": out.Status})
	if out.Status == model.SyncFailed {
		log.Errorf("History sync job failed: %s", out.ErrorMessage)
	} else {
		log.Info("History sync job completed")
	}
	return nil
}

func (m *Manager) outcome(jobCtx context.Context, synced, total int, err error) repository.SyncOutcome {
	out := repository.SyncOutcome{
		Status: model.SyncCompleted,
		Synced: synced,
		Total:  total,
		At:     m.now(),
	}
	switch {
	case err == nil:
	case errors.Is(err, errCeiling):
		out.Partial = true
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		out.Status = model.SyncFailed
		out.Partial = true
		out.ErrorMessage = fmt.Sprintf("timed out after %s with %d of %d messages synced", m.cfg.JobTimeout, synced, total)
	case provider.IsAuth(err):
		out.Status = model.SyncFailed
		out.Partial = synced > 0
		out.ErrorMessage = "mail provider authentication failed, re-authentication required: " + err.Error()
	default:
		out.Status = model.SyncFailed
		out.Partial = synced > 0
		out.ErrorMessage = err.Error()
	}
	return out
}

// process pages through the contact's mail, newest first, until the mailbox or the
// ceiling is exhausted.
func (m *Manager) process(ctx context.Context, job *model.HistoricalEmailSyncJob) (int, int, error) {
	c, err := m.repo.GetCase(ctx, job.CaseID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load case %s: %w", job.CaseID, err)
	}
	policy := provider.RetryPolicy{MaxAttempts: m.cfg.MaxAttempts, BaseDelay: m.cfg.BaseBackoff}

	synced, total := 0, 0
	token := ""
	for {
		size := m.cfg.PageSize
		if m.cfg.MaxMessages > 0 && m.cfg.MaxMessages-total < size {
			size = m.cfg.MaxMessages - total
		}

		var page provider.Page
		err := provider.Retry(ctx, policy, func(ctx context.Context) error {
			var err error
			page, err = m.source.SearchContact(ctx, provider.SearchOptions{
				Contact:   job.ContactEmail,
				PageToken: token,
				PageSize:  size,
			})
			return err
		})
		if err != nil {
			return synced, total, err
		}

		for _, msg := range page.Messages {
			if m.cfg.MaxMessages > 0 && total >= m.cfg.MaxMessages {
				return synced, total, errCeiling
			}
			total++
			if err := m.store(ctx, job, c.ClientID, msg); err != nil {
				if ctx.Err() != nil {
					return synced, total, ctx.Err()
				}
				logrus.WithField("job_id", job.ID).Warnf("Failed to sync message %s: %v", msg.ID, err)
				continue
			}
			synced++
			m.metrics.SyncedEmails.Inc()
		}

		if err := m.repo.UpdateSyncProgress(ctx, job.ID, synced, total); err != nil {
			return synced, total, err
		}
		if page.NextPageToken == "" {
			return synced, total, nil
		}
		if m.cfg.MaxMessages > 0 && total >= m.cfg.MaxMessages {
			return synced, total, errCeiling
		}
		token = page.NextPageToken
	}
}

// store saves msg unless it is already known and links it to the job's case. Messages
// still waiting for a decision are classified into the case.
func (m *Manager) store(ctx context.Context, job *model.HistoricalEmailSyncJob, clientID string, msg provider.Message) error {
	received := msg.ReceivedAt
	if received.IsZero() {
		received = m.now()
	}
	actor := job.RequestedBy
	if actor == "" {
		actor = model.LinkedBySystem
	}

	return m.repo.Transaction(ctx, func(tx *repository.Repository) error {
		email, _, err := tx.CreateEmailIfAbsent(ctx, &model.Email{
			ProviderMessageID: msg.ID,
			ConversationID:    msg.ConversationID,
			Subject:           msg.Subject,
			Body:              textextract.BodyText(msg.Body, msg.HTMLBody),
			Sender:            msg.From,
			Recipients:        msg.Recipients(),
			ReceivedAt:        received,
		})
		if err != nil {
			return err
		}

		linked, err := tx.LinkEmail(ctx, &model.EmailCaseLink{
			EmailID:    email.ID,
			CaseID:     job.CaseID,
			Confidence: 1.0,
			MatchType:  model.MatchSender,
			LinkedBy:   model.LinkedBySystem,
			IsPrimary:  true,
		})
		if err != nil {
			return err
		}
		if linked {
			m.metrics.LinksCreated.WithLabelValues(string(model.MatchSender)).Inc()
		}

		promoted, err := tx.SetClassification(ctx, email.ID, repository.Classification{
			State:    model.StateClassified,
			ClientID: &clientID,
			Note:     "historical sync " + job.ID,
			At:       m.now(),
		}, model.StatePending, model.StateUncertain)
		if err != nil || !promoted {
			return err
		}
		caseID := job.CaseID
		return tx.RecordEvent(ctx, &model.ClassificationEvent{
			EmailID:    email.ID,
			State:      model.StateClassified,
			CaseID:     &caseID,
			MatchType:  model.MatchSender,
			Confidence: 1.0,
			Rule:       "history-sync",
			Actor:      actor,
			Note:       "historical sync " + job.ID,
		})
	})
}
