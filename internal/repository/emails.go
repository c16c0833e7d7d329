package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"case-mail-router/internal/model"
)

// EmailFilter selects emails for the triage queues
type EmailFilter struct {
	State           model.ClassificationState
	ClientID        string
	IncludeArchived bool
	Page            Page
}

// CreateEmailIfAbsent inserts e unless its provider message id is already stored.
// It returns the stored row and whether this call created it.
func (r *Repository) CreateEmailIfAbsent(ctx context.Context, e *model.Email) (*model.Email, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_message_id"}}, DoNothing: true}).
		Create(e)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create email: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return e, true, nil
	}

	existing, err := r.GetEmailByProviderID(ctx, e.ProviderMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	var e model.Email
	if err := r.db.WithContext(ctx).Preload("Links").First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *Repository) GetEmailByProviderID(ctx context.Context, providerID string) (*model.Email, error) {
	var e model.Email
	if err := r.db.WithContext(ctx).First(&e, "provider_message_id = ?", providerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListEmails returns one page of emails, newest first, and the total count
func (r *Repository) ListEmails(ctx context.Context, f EmailFilter) ([]model.Email, int64, error) {
	page := f.Page.Normalize()
	q := r.db.WithContext(ctx).Model(&model.Email{})
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if !f.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	var emails []model.Email
	if err := q.Preload("Links").Order("received_at DESC").Offset(page.offset()).Limit(page.Limit).Find(&emails).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, total, nil
}

// ConversationSiblings returns the other emails of a conversation in the given states
func (r *Repository) ConversationSiblings(ctx context.Context, conversationID, excludeID string, states ...model.ClassificationState) ([]model.Email, error) {
	if conversationID == "" {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Where("conversation_id = ? AND id <> ?", conversationID, excludeID)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var emails []model.Email
	if err := q.Order("received_at ASC").Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversation %s: %w", conversationID, err)
	}
	return emails, nil
}

// Classification is the state change written by SetClassification
type Classification struct {
	State     model.ClassificationState
	ClientID  *string
	Reference string
	Note      string
	At        time.Time
}

// SetClassification updates the classification of an email. When from is non-empty
// the update only applies while the email is in one of those states, and the
// returned bool reports whether it did.
func (r *Repository) SetClassification(ctx context.Context, emailID string, c Classification, from ...model.ClassificationState) (bool, error) {
	updates := map[string]interface{}{
		"state":               c.State,
		"classification_note": c.Note,
	}
	if c.ClientID != nil {
		updates["client_id"] = *c.ClientID
	}
	if c.Reference != "" {
		updates["court_reference"] = c.Reference
	}
	if c.State != model.StatePending {
		at := c.At
		updates["classified_at"] = &at
	}

	q := r.db.WithContext(ctx).Model(&model.Email{}).Where("id = ?", emailID)
	if len(from) > 0 {
		q = q.Where("state IN ?", from)
	}
	result := q.Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to classify email %s: %w", emailID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ArchiveEmail hides an email from the queues without deleting it
func (r *Repository) ArchiveEmail(ctx context.Context, emailID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.Email{}).
		Where("id = ? AND archived_at IS NULL", emailID).
		Update("archived_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to archive email %s: %w", emailID, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetEmail(ctx, emailID); err != nil {
			return err
		}
	}
	return nil
}

// CountEmailsByState backs the queue gauges
func (r *Repository) CountEmailsByState(ctx context.Context) (map[model.ClassificationState]int64, error) {
	var rows []struct {
		State model.ClassificationState
		Count int64
	}
	if err := r.db.WithContext(ctx).Model(&model.Email{}).
		Select("state, COUNT(*) AS count").
		Where("archived_at IS NULL").
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count emails by state: %w", err)
	}
	out := make(map[model.ClassificationState]int64, len(rows))
	for _, row := range rows {
		out[row.State] = row.Count
	}
	return out, nil
}
