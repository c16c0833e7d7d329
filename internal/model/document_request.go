package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentRequest asks a recipient to provide a document for a case slot
type DocumentRequest struct {
	ID             string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	SlotID         string         `json:"slot_id" gorm:"type:varchar(255);not null"`
	CaseID         string         `json:"case_id" gorm:"type:varchar(36);not null;index"`
	RecipientEmail string         `json:"recipient_email" gorm:"type:varchar(320);not null"`
	Title          string         `json:"title" gorm:"type:varchar(255)"`
	Status         DocumentStatus `json:"status" gorm:"type:varchar(32);not null;index;default:pending"`
	RequestedAt    time.Time      `json:"requested_at"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	RemindersSent  int            `json:"reminders_sent"`
	LastReminderAt *time.Time     `json:"last_reminder_at,omitempty"`
	ReceivedAt     *time.Time     `json:"received_at,omitempty"`
	ExpiredAt      *time.Time     `json:"expired_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name for DocumentRequest
func (DocumentRequest) TableName() string {
	return "document_requests"
}

func (d *DocumentRequest) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DocumentPending
	}
	d.RecipientEmail = NormalizeAddress(d.RecipientEmail)
	return nil
}
