package repository

import (
	"context"
	"fmt"

	"case-mail-router/internal/model"
)

func (r *Repository) RecordEvent(ctx context.Context, ev *model.ClassificationEvent) error {
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to record classification event: %w", err)
	}
	return nil
}

// ListEvents returns a page of audit events, newest first, optionally for one email
func (r *Repository) ListEvents(ctx context.Context, emailID string, p Page) ([]model.ClassificationEvent, int64, error) {
	p = p.Normalize()
	q := r.db.WithContext(ctx).Model(&model.ClassificationEvent{})
	if emailID != "" {
		q = q.Where("email_id = ?", emailID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	var events []model.ClassificationEvent
	if err := q.Order("created_at DESC, id DESC").Offset(p.offset()).Limit(p.Limit).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	return events, total, nil
}

func (r *Repository) GetEvent(ctx context.Context, id uint) (*model.ClassificationEvent, error) {
	var ev model.ClassificationEvent
	if err := r.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}
