package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Email is a single inbound or outbound message known to the system
type Email struct {
	ID                 string              `json:"id" gorm:"type:varchar(36);primaryKey"`
	ProviderMessageID  string              `json:"provider_message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ConversationID     string              `json:"conversation_id" gorm:"type:varchar(255);index"`
	Subject            string              `json:"subject" gorm:"type:text"`
	Body               string              `json:"body" gorm:"type:text"`
	Sender             string              `json:"sender" gorm:"type:varchar(320);index"`
	Recipients         []string            `json:"recipients" gorm:"serializer:json;type:text"`
	ReceivedAt         time.Time           `json:"received_at" gorm:"index"`
	State              ClassificationState `json:"state" gorm:"type:varchar(32);not null;index;default:pending"`
	ClientID           *string             `json:"client_id,omitempty" gorm:"type:varchar(36);index"`
	CourtReference     string              `json:"court_reference,omitempty" gorm:"type:varchar(64);index"`
	SuggestedCaseID    *string             `json:"suggested_case_id,omitempty" gorm:"type:varchar(36)"`
	ClassificationNote string              `json:"classification_note,omitempty" gorm:"type:text"`
	ClassifiedAt       *time.Time          `json:"classified_at,omitempty"`
	ArchivedAt         *time.Time          `json:"archived_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`

	Links []EmailCaseLink `json:"links,omitempty" gorm:"foreignKey:EmailID"`
}

// TableName specifies the table name for Email
func (Email) TableName() string {
	return "emails"
}

// BeforeCreate assigns an id and normalizes addresses
func (e *Email) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.State == "" {
		e.State = StatePending
	}
	if e.ConversationID == "" {
		e.ConversationID = e.ProviderMessageID
	}
	e.Sender = NormalizeAddress(e.Sender)
	return nil
}
