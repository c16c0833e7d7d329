package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"case-mail-router/internal/model"
)

// LinkEmail creates the (email, case) link unless it already exists, in which case the
// stored row is left untouched. A link asked to be primary is demoted when the email
// already has a primary link.
func (r *Repository) LinkEmail(ctx context.Context, link *model.EmailCaseLink) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if link.IsPrimary {
			var primaries int64
			if err := tx.Model(&model.EmailCaseLink{}).
				Where("email_id = ? AND is_primary = ?", link.EmailID, true).
				Count(&primaries).Error; err != nil {
				return err
			}
			if primaries > 0 {
				link.IsPrimary = false
			}
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email_id"}, {Name: "case_id"}},
			DoNothing: true,
		}).Create(link)
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to link email %s to case %s: %w", link.EmailID, link.CaseID, err)
	}
	return created, nil
}

func (r *Repository) LinksForEmail(ctx context.Context, emailID string) ([]model.EmailCaseLink, error) {
	var links []model.EmailCaseLink
	if err := r.db.WithContext(ctx).
		Where("email_id = ?", emailID).
		Order("is_primary DESC, created_at ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list links for email %s: %w", emailID, err)
	}
	return links, nil
}

// LinksForCase lists the emails linked to a case
func (r *Repository) LinksForCase(ctx context.Context, caseID string) ([]model.EmailCaseLink, error) {
	var links []model.EmailCaseLink
	if err := r.db.WithContext(ctx).Where("case_id = ?", caseID).Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list links for case %s: %w", caseID, err)
	}
	return links, nil
}

// ConversationCaseLinks returns the primary links held by classified emails of a conversation
func (r *Repository) ConversationCaseLinks(ctx context.Context, conversationID, excludeID string) ([]model.EmailCaseLink, error) {
	var links []model.EmailCaseLink
	err := r.db.WithContext(ctx).
		Joins("JOIN emails ON emails.id = email_case_links.email_id").
		Where("emails.conversation_id = ? AND emails.id <> ? AND emails.state = ?",
			conversationID, excludeID, model.StateClassified).
		Where("email_case_links.is_primary = ?", true).
		Order("email_case_links.created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links for conversation %s: %w", conversationID, err)
	}
	return links, nil
}

// MakePrimary moves the primary flag of an email to its link with caseID
func (r *Repository) MakePrimary(ctx context.Context, emailID, caseID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.EmailCaseLink{}).
			Where("email_id = ? AND case_id <> ?", emailID, caseID).
			Update("is_primary", false).Error; err != nil {
			return fmt.Errorf("failed to clear primary link: %w", err)
		}
		if err := tx.Model(&model.EmailCaseLink{}).
			Where("email_id = ? AND case_id = ?", emailID, caseID).
			Update("is_primary", true).Error; err != nil {
			return fmt.Errorf("failed to set primary link: %w", err)
		}
		return nil
	})
}

// UnlinkOthers removes every link of an email except the one to keepCaseID
func (r *Repository) UnlinkOthers(ctx context.Context, emailID, keepCaseID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("email_id = ? AND case_id <> ?", emailID, keepCaseID).
		Delete(&model.EmailCaseLink{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to unlink email %s: %w", emailID, result.Error)
	}
	return result.RowsAffected, nil
}
