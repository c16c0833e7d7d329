package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"case-mail-router/internal/model"
)

func (r *Repository) CreateDocumentRequest(ctx context.Context, d *model.DocumentRequest) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create document request: %w", err)
	}
	return nil
}

func (r *Repository) GetDocumentRequest(ctx context.Context, id string) (*model.DocumentRequest, error) {
	var d model.DocumentRequest
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ListDocumentRequests returns requests in any of the given states, oldest first
func (r *Repository) ListDocumentRequests(ctx context.Context, statuses ...model.DocumentStatus) ([]model.DocumentRequest, error) {
	q := r.db.WithContext(ctx)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []model.DocumentRequest
	if err := q.Order("requested_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list document requests: %w", err)
	}
	return out, nil
}

// MarkDocumentSent records the dispatch of the initial request
func (r *Repository) MarkDocumentSent(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.DocumentRequest{}).
		Where("id = ? AND status = ?", id, model.DocumentPending).
		Update("status", model.DocumentSent)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark document request %s sent: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecordReminder counts one dispatched reminder. The update only applies while the
// stored count still equals seenCount, so a concurrent run cannot count twice.
func (r *Repository) RecordReminder(ctx context.Context, id string, seenCount int, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.DocumentRequest{}).
		Where("id = ? AND reminders_sent = ? AND status IN ?", id, seenCount,
			[]model.DocumentStatus{model.DocumentSent, model.DocumentReminded}).
		Updates(map[string]interface{}{
			"reminders_sent":   gorm.Expr("reminders_sent + ?", 1),
			"last_reminder_at": at,
			"status":           model.DocumentReminded,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to record reminder for %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ExpireDocumentRequest gives up on an open request
func (r *Repository) ExpireDocumentRequest(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.DocumentRequest{}).
		Where("id = ? AND status IN ?", id,
			[]model.DocumentStatus{model.DocumentPending, model.DocumentSent, model.DocumentReminded}).
		Updates(map[string]interface{}{"status": model.DocumentExpired, "expired_at": at})
	if result.Error != nil {
		return false, fmt.Errorf("failed to expire document request %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkDocumentReceived closes a request. A late answer to an expired request is accepted.
func (r *Repository) MarkDocumentReceived(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.DocumentRequest{}).
		Where("id = ? AND status IN ?", id, []model.DocumentStatus{
			model.DocumentPending, model.DocumentSent, model.DocumentReminded, model.DocumentExpired,
		}).
		Updates(map[string]interface{}{"status": model.DocumentReceived, "received_at": at})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark document request %s received: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}
