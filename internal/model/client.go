package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client owns cases; its domains are inherited by cases that declare none
type Client struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name         string    `json:"name" gorm:"type:varchar(255);not null"`
	Aliases      []string  `json:"aliases" gorm:"serializer:json;type:text"`
	EmailDomains []string  `json:"email_domains" gorm:"serializer:json;type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for Client
func (Client) TableName() string {
	return "clients"
}

func (c *Client) BeforeSave(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.EmailDomains = normalizeList(c.EmailDomains, NormalizeDomain)
	return nil
}
