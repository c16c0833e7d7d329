// Package notifier delivers outbound document request mail.
package notifier

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"

	"case-mail-router/internal/config"
)

// Message is a plain-text outbound email
type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

// Sender dispatches a message through one backend
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// New returns the sender selected by cfg.Provider
func New(cfg config.NotifierConfig, gmailCfg config.GmailConfig) (Sender, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "log":
		return NewLogSender(), nil
	case "gmail":
		return NewGmailSender(&gmailCfg)
	case "sendgrid":
		return NewSendGridSender(cfg.SendGridAPIKey), nil
	case "resend":
		return NewResendSender(cfg.ResendAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown notifier provider: %s", cfg.Provider)
	}
}

// ValidateAddress rejects header injection and malformed addresses
func ValidateAddress(addr string) error {
	if strings.ContainsAny(addr, "\r\n,;") {
		return fmt.Errorf("address contains invalid characters")
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if msg.From != "" {
		if err := ValidateAddress(msg.From); err != nil {
			return fmt.Errorf("invalid sender: %w", err)
		}
	}
	return nil
}

// LogSender only logs messages; used in development and when no backend is configured
type LogSender struct{}

func NewLogSender() *LogSender { return &LogSender{} }

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Notification (log sender)")
	return nil
}
