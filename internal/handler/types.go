package handler

import (
	"time"

	"case-mail-router/internal/model"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/textextract"
)

// EmailRequest is an inbound message pushed by a mailbox webhook or delta sync
type EmailRequest struct {
	ProviderMessageID string              `json:"provider_message_id" binding:"required"`
	ConversationID    string              `json:"conversation_id"`
	Subject           string              `json:"subject"`
	From              string              `json:"from" binding:"required"`
	To                []string            `json:"to"`
	CC                []string            `json:"cc"`
	Body              string              `json:"body"`
	HTMLBody          string              `json:"html_body"`
	ReceivedAt        *time.Time          `json:"received_at"`
	Attachments       []AttachmentRequest `json:"attachments"`
}

// AttachmentRequest carries attachment content, base64 encoded in JSON
type AttachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

func (r EmailRequest) message() provider.Message {
	msg := provider.Message{
		ID:             r.ProviderMessageID,
		ConversationID: r.ConversationID,
		Subject:        r.Subject,
		From:           r.From,
		To:             r.To,
		CC:             r.CC,
		Body:           r.Body,
		HTMLBody:       r.HTMLBody,
	}
	if r.ReceivedAt != nil {
		msg.ReceivedAt = *r.ReceivedAt
	}
	for _, a := range r.Attachments {
		msg.Attachments = append(msg.Attachments, textextract.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
		})
	}
	return msg
}

// ClassifyRequest assigns an email to a case by hand
type ClassifyRequest struct {
	CaseID  string `json:"case_id" binding:"required"`
	UserID  string `json:"user_id"`
	Replace bool   `json:"replace"`
}

// ClientRequest creates a client
type ClientRequest struct {
	Name         string   `json:"name" binding:"required"`
	Aliases      []string `json:"aliases"`
	EmailDomains []string `json:"email_domains"`
}

// CaseRequest creates or updates a case
type CaseRequest struct {
	ClientID         string   `json:"client_id" binding:"required"`
	Title            string   `json:"title" binding:"required"`
	Keywords         []string `json:"keywords"`
	EmailDomains     []string `json:"email_domains"`
	CourtFileNumbers []string `json:"court_file_numbers"`
	ContactEmails    []string `json:"contact_emails"`
}

// CaseResponse is a case plus the history sync jobs its contacts started
type CaseResponse struct {
	Case     *model.Case                     `json:"case"`
	SyncJobs []*model.HistoricalEmailSyncJob `json:"sync_jobs"`
}

// SyncRequest starts a history sync for one contact of a case
type SyncRequest struct {
	ContactEmail string `json:"contact_email" binding:"required"`
	RequestedBy  string `json:"requested_by"`
}

// SyncResponse reports the job behind a trigger. Created is false when an active
// job for the same contact already existed.
type SyncResponse struct {
	Job     *model.HistoricalEmailSyncJob `json:"job"`
	Created bool                          `json:"created"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Mailbox   string            `json:"mailbox"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
