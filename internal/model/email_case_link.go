package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailCaseLink associates an email with a case; an email may belong to many cases
type EmailCaseLink struct {
	ID         string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	EmailID    string    `json:"email_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_email_case"`
	CaseID     string    `json:"case_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_email_case;index"`
	Confidence float64   `json:"confidence"`
	MatchType  MatchType `json:"match_type" gorm:"type:varchar(32);not null"`
	LinkedBy   string    `json:"linked_by" gorm:"type:varchar(255);not null;default:system"`
	IsPrimary  bool      `json:"is_primary" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for EmailCaseLink
func (EmailCaseLink) TableName() string {
	return "email_case_links"
}

func (l *EmailCaseLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.LinkedBy == "" {
		l.LinkedBy = LinkedBySystem
	}
	return nil
}
