package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"case-mail-router/internal/config"
	"case-mail-router/internal/textextract"
)

// IMAPClient implements EmailFetcher and HistorySource over IMAP.
// The underlying connection is not safe for concurrent use, so calls are serialized.
type IMAPClient struct {
	mu        sync.Mutex
	client    *client.Client
	mailbox   string
	lastCheck time.Time
}

// NewIMAPClient connects and logs in to the configured IMAP server
func NewIMAPClient(cfg *config.GmailConfig) (*IMAPClient, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %v: %w", err, ErrAuth)
	}

	mailbox := cfg.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}

	return &IMAPClient{
		client:    c,
		mailbox:   mailbox,
		lastCheck: time.Now().Add(-24 * time.Hour),
	}, nil
}

// FetchNewEmails fetches mail received since the previous poll
func (f *IMAPClient) FetchNewEmails(ctx context.Context) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.client.Select(f.mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", f.mailbox, err)
	}

	started := time.Now()
	criteria := imap.NewSearchCriteria()
	criteria.Since = f.lastCheck

	uids, err := f.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	msgs, err := f.fetch(ctx, uids)
	if err != nil {
		return nil, err
	}
	f.lastCheck = started
	return msgs, nil
}

// SearchContact returns mail from or to the contact, newest first. The page token
// is the offset into the result set.
func (f *IMAPClient) SearchContact(ctx context.Context, opts SearchOptions) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.client.Select(f.mailbox, true); err != nil {
		return Page{}, fmt.Errorf("failed to select %s: %w", f.mailbox, err)
	}

	from := imap.NewSearchCriteria()
	from.Header.Add("From", opts.Contact)
	to := imap.NewSearchCriteria()
	to.Header.Add("To", opts.Contact)
	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{from, to}}

	uids, err := f.client.UidSearch(criteria)
	if err != nil {
		return Page{}, fmt.Errorf("failed to search messages for %s: %w", opts.Contact, err)
	}
	// higher UIDs arrived later
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	offset := 0
	if opts.PageToken != "" {
		if offset, err = strconv.Atoi(opts.PageToken); err != nil {
			return Page{}, fmt.Errorf("invalid page token %q: %w", opts.PageToken, err)
		}
	}
	if offset >= len(uids) {
		return Page{}, nil
	}
	size := opts.PageSize
	if size <= 0 {
		size = 100
	}
	end := offset + size
	next := strconv.Itoa(end)
	if end >= len(uids) {
		end = len(uids)
		next = ""
	}

	msgs, err := f.fetch(ctx, uids[offset:end])
	if err != nil {
		return Page{}, err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt) })
	return Page{Messages: msgs, NextPageToken: next}, nil
}

func (f *IMAPClient) fetch(ctx context.Context, uids []uint32) ([]Message, error) {
	if len(uids) == 0 {
		return []Message{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- f.client.UidFetch(seqset, items, messages)
	}()

	var out []Message
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		m, err := parseIMAPMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message %d: %v", msg.Uid, err)
			continue
		}
		out = append(out, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	m := Message{
		ID:         fmt.Sprintf("imap-uid-%d", msg.Uid),
		ReceivedAt: msg.InternalDate,
	}
	if msg.Envelope != nil {
		m.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			m.From = msg.Envelope.From[0].Address()
		}
		for _, addr := range msg.Envelope.To {
			m.To = append(m.To, addr.Address())
		}
		for _, addr := range msg.Envelope.Cc {
			m.CC = append(m.CC, addr.Address())
		}
		if msg.Envelope.MessageId != "" {
			m.ID = strings.Trim(msg.Envelope.MessageId, "<>")
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		m.ConversationID = m.ID
		return m, nil
	}
	if err := parseMIME(r, &m); err != nil {
		return m, err
	}
	return m, nil
}

// parseMIME fills bodies, attachments and the conversation id from a raw message
func parseMIME(r io.Reader, m *Message) error {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	m.ConversationID = conversationID(&mr.Header, m.ID)
	if m.ReceivedAt.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			m.ReceivedAt = date
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}
			switch contentType {
			case "text/html":
				m.HTMLBody = string(content)
			case "text/plain", "":
				m.Body = string(content)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			att := textextract.Attachment{Filename: filename, ContentType: contentType}
			if wantsText(contentType, filename) {
				data, err := io.ReadAll(io.LimitReader(p.Body, maxAttachmentBytes))
				if err == nil {
					att.Data = data
				}
			}
			m.Attachments = append(m.Attachments, att)
		}
	}
	return nil
}

// conversationID groups a message with its thread: the root of References,
// then In-Reply-To, then the message itself.
func conversationID(h *mail.Header, fallback string) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if parents, err := h.MsgIDList("In-Reply-To"); err == nil && len(parents) > 0 {
		return parents[0]
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return fallback
}

// Close logs out of the IMAP server
func (f *IMAPClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client.Logout()
}
