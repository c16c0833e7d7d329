package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoricalEmailSyncJob backfills past mail exchanged with a contact of a case
type HistoricalEmailSyncJob struct {
	ID           string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	CaseID       string     `json:"case_id" gorm:"type:varchar(36);not null;index:idx_sync_case_contact"`
	ContactEmail string     `json:"contact_email" gorm:"type:varchar(320);not null;index:idx_sync_case_contact"`
	RequestedBy  string     `json:"requested_by" gorm:"type:varchar(255)"`
	Status       SyncStatus `json:"status" gorm:"type:varchar(32);not null;index;default:pending"`
	// ActiveKey is set while the job is pending or in progress and cleared once it ends,
	// so the unique index admits one active job per case and contact.
	ActiveKey    *string    `json:"-" gorm:"type:varchar(400);uniqueIndex"`
	TotalEmails  int        `json:"total_emails"`
	SyncedEmails int        `json:"synced_emails"`
	Attempts     int        `json:"attempts"`
	Partial      bool       `json:"partial"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for HistoricalEmailSyncJob
func (HistoricalEmailSyncJob) TableName() string {
	return "historical_email_sync_jobs"
}

func (j *HistoricalEmailSyncJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = SyncPending
	}
	return nil
}

// SyncActiveKey is the uniqueness key of an active job for a case and contact
func SyncActiveKey(caseID, contact string) string {
	return caseID + "|" + NormalizeAddress(contact)
}
