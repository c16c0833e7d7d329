package model

import (
	"time"
)

// ClassificationEvent records a state change of an email for the audit view
type ClassificationEvent struct {
	ID         uint                `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID    string              `json:"email_id" gorm:"type:varchar(36);not null;index"`
	State      ClassificationState `json:"state" gorm:"type:varchar(32);not null"`
	CaseID     *string             `json:"case_id,omitempty" gorm:"type:varchar(36)"`
	MatchType  MatchType           `json:"match_type,omitempty" gorm:"type:varchar(32)"`
	Confidence float64             `json:"confidence"`
	Rule       string              `json:"rule" gorm:"type:varchar(64)"`
	Actor      string              `json:"actor" gorm:"type:varchar(255)"`
	Note       string              `json:"note" gorm:"type:text"`
	CreatedAt  time.Time           `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for ClassificationEvent
func (ClassificationEvent) TableName() string {
	return "classification_events"
}
