package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"case-mail-router/internal/model"
)

// CreateSyncJob inserts a pending job unless one is already active for the same case
// and contact. It returns the active job and whether this call created it.
func (r *Repository) CreateSyncJob(ctx context.Context, job *model.HistoricalEmailSyncJob) (*model.HistoricalEmailSyncJob, bool, error) {
	job.ContactEmail = model.NormalizeAddress(job.ContactEmail)
	key := model.SyncActiveKey(job.CaseID, job.ContactEmail)
	job.ActiveKey = &key
	job.Status = model.SyncPending

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "active_key"}}, DoNothing: true}).
		Create(job)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create sync job: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return job, true, nil
	}

	existing, err := r.FindActiveSyncJob(ctx, job.CaseID, job.ContactEmail)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) GetSyncJob(ctx context.Context, id string) (*model.HistoricalEmailSyncJob, error) {
	var job model.HistoricalEmailSyncJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// FindActiveSyncJob returns the pending or in-progress job for a case and contact
func (r *Repository) FindActiveSyncJob(ctx context.Context, caseID, contact string) (*model.HistoricalEmailSyncJob, error) {
	var job model.HistoricalEmailSyncJob
	if err := r.db.WithContext(ctx).
		First(&job, "active_key = ?", model.SyncActiveKey(caseID, contact)).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// LatestSyncJob returns the most recent job for a case and contact, active or not
func (r *Repository) LatestSyncJob(ctx context.Context, caseID, contact string) (*model.HistoricalEmailSyncJob, error) {
	var job model.HistoricalEmailSyncJob
	if err := r.db.WithContext(ctx).
		Where("case_id = ? AND contact_email = ?", caseID, model.NormalizeAddress(contact)).
		Order("created_at DESC").
		First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// ListSyncJobsForCase returns every job of a case, newest first
func (r *Repository) ListSyncJobsForCase(ctx context.Context, caseID string) ([]model.HistoricalEmailSyncJob, error) {
	var jobs []model.HistoricalEmailSyncJob
	if err := r.db.WithContext(ctx).Where("case_id = ?", caseID).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync jobs for case %s: %w", caseID, err)
	}
	return jobs, nil
}

// ListPendingSyncJobs returns jobs waiting for a worker, oldest first
func (r *Repository) ListPendingSyncJobs(ctx context.Context, limit int) ([]model.HistoricalEmailSyncJob, error) {
	var jobs []model.HistoricalEmailSyncJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", model.SyncPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending sync jobs: %w", err)
	}
	return jobs, nil
}

// ClaimSyncJob moves a pending job to in_progress. Only one caller can win the claim.
func (r *Repository) ClaimSyncJob(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.HistoricalEmailSyncJob{}).
		Where("id = ? AND status = ?", id, model.SyncPending).
		Updates(map[string]interface{}{
			"status":     model.SyncInProgress,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + ?", 1),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim sync job %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateSyncProgress records how many messages have been synced so far
func (r *Repository) UpdateSyncProgress(ctx context.Context, id string, synced, total int) error {
	if err := r.db.WithContext(ctx).Model(&model.HistoricalEmailSyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"synced_emails": synced, "total_emails": total}).Error; err != nil {
		return fmt.Errorf("failed to update sync job %s: %w", id, err)
	}
	return nil
}

// SyncOutcome is the terminal state written by FinishSyncJob
type SyncOutcome struct {
	Status       model.SyncStatus
	Synced       int
	Total        int
	Partial      bool
	ErrorMessage string
	At           time.Time
}

// FinishSyncJob ends an in-progress job and releases its active slot
func (r *Repository) FinishSyncJob(ctx context.Context, id string, out SyncOutcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("sync job %s cannot finish as %s", id, out.Status)
	}
	result := r.db.WithContext(ctx).Model(&model.HistoricalEmailSyncJob{}).
		Where("id = ? AND status = ?", id, model.SyncInProgress).
		Updates(map[string]interface{}{
			"status":        out.Status,
			"synced_emails": out.Synced,
			"total_emails":  out.Total,
			"partial":       out.Partial,
			"error_message": out.ErrorMessage,
			"completed_at":  out.At,
			"active_key":    gorm.Expr("NULL"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish sync job %s: %w", id, result.Error)
	}
	return nil
}

// RequeueStaleSyncJobs returns in-progress jobs started before cutoff to pending,
// recovering work orphaned by a restart.
func (r *Repository) RequeueStaleSyncJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.HistoricalEmailSyncJob{}).
		Where("status = ? AND started_at < ?", model.SyncInProgress, cutoff).
		Update("status", model.SyncPending)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to requeue stale sync jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReleaseSyncJob hands an interrupted in-progress job back to the queue
func (r *Repository) ReleaseSyncJob(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Model(&model.HistoricalEmailSyncJob{}).
		Where("id = ? AND status = ?", id, model.SyncInProgress).
		Update("status", model.SyncPending).Error; err != nil {
		return fmt.Errorf("failed to release sync job %s: %w", id, err)
	}
	return nil
}
