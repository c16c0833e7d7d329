package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"case-mail-router/internal/config"
	"case-mail-router/internal/textextract"
)

// maxAttachmentBytes caps attachment downloads used for text extraction
const maxAttachmentBytes = 5 << 20

// GmailClient implements EmailFetcher and HistorySource with the Gmail API
type GmailClient struct {
	service   *gmail.Service
	userEmail string

	mu        sync.Mutex
	lastCheck time.Time
}

// NewGmailClient creates a Gmail API client from a stored refresh token
func NewGmailClient(cfg *config.GmailConfig) (*GmailClient, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return newGmailClient(service, cfg.UserEmail), nil
}

func newGmailClient(service *gmail.Service, userEmail string) *GmailClient {
	if userEmail == "" {
		userEmail = "me"
	}
	return &GmailClient{
		service:   service,
		userEmail: userEmail,
		lastCheck: time.Now().Add(-24 * time.Hour),
	}
}

// FetchNewEmails lists mail received since the previous poll
func (g *GmailClient) FetchNewEmails(ctx context.Context) ([]Message, error) {
	g.mu.Lock()
	since := g.lastCheck
	g.mu.Unlock()
	started := time.Now()

	query := fmt.Sprintf("after:%d", since.Unix())
	var out []Message
	err := g.service.Users.Messages.List(g.userEmail).Q(query).Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
		msgs, err := g.getMessages(ctx, resp.Messages)
		if err != nil {
			return err
		}
		out = append(out, msgs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	g.mu.Lock()
	g.lastCheck = started
	g.mu.Unlock()
	return out, nil
}

// SearchContact lists mail sent from or to the contact, newest first
func (g *GmailClient) SearchContact(ctx context.Context, opts SearchOptions) (Page, error) {
	query := fmt.Sprintf("from:%s OR to:%s", opts.Contact, opts.Contact)
	call := g.service.Users.Messages.List(g.userEmail).Q(query).Context(ctx)
	if opts.PageSize > 0 {
		call = call.MaxResults(int64(opts.PageSize))
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return Page{}, fmt.Errorf("failed to search messages for %s: %w", opts.Contact, err)
	}

	msgs, err := g.getMessages(ctx, resp.Messages)
	if err != nil {
		return Page{}, err
	}
	return Page{Messages: msgs, NextPageToken: resp.NextPageToken}, nil
}

func (g *GmailClient) getMessages(ctx context.Context, refs []*gmail.Message) ([]Message, error) {
	out := make([]Message, 0, len(refs))
	for _, ref := range refs {
		full, err := g.service.Users.Messages.Get(g.userEmail, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			if IsAuth(err) || IsTransient(err) {
				return nil, fmt.Errorf("failed to get message %s: %w", ref.Id, err)
			}
			logrus.Warnf("Failed to get message %s: %v", ref.Id, err)
			continue
		}
		out = append(out, g.parseMessage(ctx, full))
	}
	return out, nil
}

func (g *GmailClient) parseMessage(ctx context.Context, msg *gmail.Message) Message {
	m := Message{
		ID:             msg.Id,
		ConversationID: msg.ThreadId,
		ReceivedAt:     time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload == nil {
		return m
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			m.Subject = h.Value
		case "From":
			m.From = h.Value
		case "To":
			m.To = splitAddresses(h.Value)
		case "Cc":
			m.CC = splitAddresses(h.Value)
		}
	}

	g.walkParts(ctx, msg.Id, msg.Payload, &m)
	return m
}

// walkParts recursively collects bodies and attachments
func (g *GmailClient) walkParts(ctx context.Context, msgID string, part *gmail.MessagePart, m *Message) {
	if part.Filename != "" && part.Body != nil {
		att := textextract.Attachment{Filename: part.Filename, ContentType: part.MimeType}
		if wantsText(part.MimeType, part.Filename) && part.Body.Size <= maxAttachmentBytes {
			att.Data = g.attachmentData(ctx, msgID, part.Body)
		}
		m.Attachments = append(m.Attachments, att)
	} else if part.Body != nil && part.Body.Data != "" {
		data, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			logrus.Warnf("Failed to decode body of message %s: %v", msgID, err)
		} else {
			switch part.MimeType {
			case "text/plain":
				m.Body = string(data)
			case "text/html":
				m.HTMLBody = string(data)
			}
		}
	}

	for _, sub := range part.Parts {
		g.walkParts(ctx, msgID, sub, m)
	}
}

func (g *GmailClient) attachmentData(ctx context.Context, msgID string, body *gmail.MessagePartBody) []byte {
	if body.Data != "" {
		data, _ := decodeBase64URL(body.Data)
		return data
	}
	if body.AttachmentId == "" {
		return nil
	}
	att, err := g.service.Users.Messages.Attachments.Get(g.userEmail, msgID, body.AttachmentId).Context(ctx).Do()
	if err != nil {
		logrus.Warnf("Failed to get attachment of message %s: %v", msgID, err)
		return nil
	}
	data, err := decodeBase64URL(att.Data)
	if err != nil {
		return nil
	}
	return data
}

// Close is a no-op; the Gmail service holds no connection
func (g *GmailClient) Close() error {
	return nil
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func wantsText(mimeType, filename string) bool {
	_, err := textextract.FromAttachment(textextract.Attachment{ContentType: mimeType, Filename: filename})
	return err == nil
}

func splitAddresses(v string) []string {
	var out []string
	for _, a := range strings.Split(v, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
