package notifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"case-mail-router/internal/config"
	"case-mail-router/internal/provider"
)

// GmailSender sends mail as the configured mailbox through the Gmail API
type GmailSender struct {
	service   *gmail.Service
	userEmail string
	retry     provider.RetryPolicy
}

func NewGmailSender(cfg *config.GmailConfig) (*GmailSender, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSender{
		service:   service,
		userEmail: cfg.UserEmail,
		retry:     provider.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
	}, nil
}

func (s *GmailSender) Name() string { return "gmail" }

func (s *GmailSender) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = s.userEmail
	}
	if err := validateMessage(msg); err != nil {
		return err
	}

	raw := base64.URLEncoding.EncodeToString([]byte(buildRFC822(msg, time.Now())))
	err := provider.Retry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.service.Users.Messages.Send(s.userEmail, &gmail.Message{Raw: raw}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	logrus.Infof("Sent email to %s via Gmail", msg.To)
	return nil
}

func buildRFC822(msg Message, now time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}
