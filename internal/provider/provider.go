// Package provider reads mail from Gmail or IMAP mailboxes.
package provider

import (
	"context"
	"time"

	"case-mail-router/internal/textextract"
)

// Message is a mail as delivered by a provider
type Message struct {
	ID             string
	ConversationID string
	Subject        string
	From           string
	To             []string
	CC             []string
	Body           string
	HTMLBody       string
	ReceivedAt     time.Time
	Attachments    []textextract.Attachment
}

// EmailFetcher polls a mailbox for mail that arrived since the previous call
type EmailFetcher interface {
	FetchNewEmails(ctx context.Context) ([]Message, error)
	Close() error
}

// SearchOptions selects one page of mail exchanged with a contact
type SearchOptions struct {
	Contact   string
	PageToken string
	PageSize  int
}

// Page is one page of a contact search, newest first
type Page struct {
	Messages      []Message
	NextPageToken string
}

// HistorySource lists past mail exchanged with a contact address
type HistorySource interface {
	SearchContact(ctx context.Context, opts SearchOptions) (Page, error)
}

// Recipients returns To and CC addresses together
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC))
	out = append(out, m.To...)
	return append(out, m.CC...)
}
