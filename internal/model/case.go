package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"case-mail-router/internal/reference"
)

// Case is a legal matter belonging to a client
type Case struct {
	ID               string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ClientID         string    `json:"client_id" gorm:"type:varchar(36);not null;index"`
	Title            string    `json:"title" gorm:"type:varchar(255);not null"`
	Keywords         []string  `json:"keywords" gorm:"serializer:json;type:text"`
	EmailDomains     []string  `json:"email_domains" gorm:"serializer:json;type:text"`
	CourtFileNumbers []string  `json:"court_file_numbers" gorm:"serializer:json;type:text"`
	ContactEmails    []string  `json:"contact_emails" gorm:"serializer:json;type:text"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Client *Client `json:"client,omitempty" gorm:"foreignKey:ClientID"`
}

// TableName specifies the table name for Case
func (Case) TableName() string {
	return "cases"
}

// BeforeSave stores every match key in its canonical form
func (c *Case) BeforeSave(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Keywords = normalizeList(c.Keywords, NormalizeKeyword)
	c.EmailDomains = normalizeList(c.EmailDomains, NormalizeDomain)
	c.ContactEmails = normalizeList(c.ContactEmails, NormalizeAddress)
	c.CourtFileNumbers = normalizeList(c.CourtFileNumbers, reference.Normalize)
	return nil
}

// HasCourtNumber reports whether ref, already normalized, belongs to the case
func (c *Case) HasCourtNumber(ref string) bool {
	for _, n := range c.CourtFileNumbers {
		if n == ref {
			return true
		}
	}
	return false
}
