// Package reminder escalates outstanding document requests: the initial ask, a
// reminder on day 3 and day 7, then one a day until the document arrives or the
// request expires.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"case-mail-router/internal/config"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/notifier"
	"case-mail-router/internal/repository"
)

// ErrInvalidTransition is returned when a request cannot move to the asked status
var ErrInvalidTransition = errors.New("invalid document request transition")

// ErrInvalidRecipient is returned for recipient addresses that cannot be mailed
var ErrInvalidRecipient = errors.New("invalid recipient")

// Escalator sends document requests and their reminders
type Escalator struct {
	repo    *repository.Repository
	sender  notifier.Sender
	cfg     config.ReminderConfig
	loc     *time.Location
	from    string
	metrics *metrics.Metrics
	now     func() time.Time

	// runs are serialized so one process never sends the same reminder twice
	runMu sync.Mutex
}

// New creates an escalator sending from the given address
func New(repo *repository.Repository, sender notifier.Sender, cfg config.ReminderConfig, from string, m *metrics.Metrics) (*Escalator, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Escalator{
		repo:    repo,
		sender:  sender,
		cfg:     cfg,
		loc:     loc,
		from:    from,
		metrics: m,
		now:     time.Now,
	}, nil
}

// DaysElapsed counts calendar days between requestedAt and now in loc
func DaysElapsed(requestedAt, now time.Time, loc *time.Location) int {
	y1, m1, d1 := requestedAt.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	start := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// Scheduled reports whether a reminder is due on the given day of a request
func (e *Escalator) Scheduled(days int) bool {
	return days == e.cfg.FirstDay || days == e.cfg.SecondDay || (days >= e.cfg.DailyFrom && e.cfg.DailyFrom > 0)
}

func (e *Escalator) sameDay(a, b time.Time) bool {
	return DaysElapsed(a, b, e.loc) == 0
}

// CreateRequest describes a new document request
type CreateRequest struct {
	SlotID         string     `json:"slot_id" binding:"required"`
	CaseID         string     `json:"case_id" binding:"required"`
	RecipientEmail string     `json:"recipient_email" binding:"required"`
	Title          string     `json:"title"`
	DueDate        *time.Time `json:"due_date"`
}

// Create stores a request and dispatches the initial ask. A failed dispatch leaves
// the request pending for the next run.
func (e *Escalator) Create(ctx context.Context, req CreateRequest) (*model.DocumentRequest, error) {
	if err := notifier.ValidateAddress(req.RecipientEmail); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if _, err := e.repo.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}

	d := &model.DocumentRequest{
		SlotID:         req.SlotID,
		CaseID:         req.CaseID,
		RecipientEmail: req.RecipientEmail,
		Title:          req.Title,
		RequestedAt:    e.now(),
		DueDate:        req.DueDate,
	}
	if err := e.repo.CreateDocumentRequest(ctx, d); err != nil {
		return nil, err
	}
	if err := e.sendInitial(ctx, d); err != nil {
		logrus.WithField("request_id", d.ID).Warnf("Initial document request not sent, will retry: %v", err)
	}
	return e.repo.GetDocumentRequest(ctx, d.ID)
}

// MarkReceived closes a request. Received requests cannot be received again.
func (e *Escalator) MarkReceived(ctx context.Context, id string) (*model.DocumentRequest, error) {
	ok, err := e.repo.MarkDocumentReceived(ctx, id, e.now())
	if err != nil {
		return nil, err
	}
	d, err := e.repo.GetDocumentRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return d, fmt.Errorf("%w: request %s is %s", ErrInvalidTransition, id, d.Status)
	}
	logrus.WithField("request_id", id).Info("Document request received")
	return d, nil
}

// Summary counts what one run did
type Summary struct {
	Initial  int `json:"initial"`
	Reminded int `json:"reminded"`
	Expired  int `json:"expired"`
	Failed   int `json:"failed"`
}

// Run scans open requests once. Running it again on the same day sends nothing new.
func (e *Escalator) Run(ctx context.Context) (Summary, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	var sum Summary
	requests, err := e.repo.ListDocumentRequests(ctx,
		model.DocumentPending, model.DocumentSent, model.DocumentReminded)
	if err != nil {
		return sum, err
	}

	now := e.now()
	for i := range requests {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		d := &requests[i]
		log := logrus.WithFields(logrus.Fields{"request_id": d.ID, "case_id": d.CaseID})
		days := DaysElapsed(d.RequestedAt, now, e.loc)

		if e.cfg.MaxAgeDays > 0 && days > e.cfg.MaxAgeDays {
			e.expire(ctx, d, now, &sum, log)
			continue
		}

		if d.Status == model.DocumentPending {
			if err := e.sendInitial(ctx, d); err != nil {
				log.Warnf("Failed to send document request: %v", err)
				sum.Failed++
				continue
			}
			sum.Initial++
			continue
		}

		if !e.Scheduled(days) {
			continue
		}
		if d.LastReminderAt != nil && e.sameDay(*d.LastReminderAt, now) {
			continue
		}
		if e.cfg.MaxReminders > 0 && d.RemindersSent >= e.cfg.MaxReminders {
			e.expire(ctx, d, now, &sum, log)
			continue
		}

		if err := e.sender.Send(ctx, e.reminderMessage(d, days)); err != nil {
			e.metrics.ReminderFailures.Inc()
			log.Warnf("Failed to send reminder, will retry on the next run: %v", err)
			sum.Failed++
			continue
		}
		ok, err := e.repo.RecordReminder(ctx, d.ID, d.RemindersSent, now)
		if err != nil {
			return sum, err
		}
		if ok {
			e.metrics.RemindersSent.Inc()
			sum.Reminded++
			log.WithField("day", days).Info("Document reminder sent")
		}
	}

	logrus.WithFields(logrus.Fields{
		"initial":  sum.Initial,
		"reminded": sum.Reminded,
		"expired":  sum.Expired,
		"failed":   sum.Failed,
	}).Info("Reminder run completed")
	return sum, nil
}

func (e *Escalator) expire(ctx context.Context, d *model.DocumentRequest, now time.Time, sum *Summary, log *logrus.Entry) {
	ok, err := e.repo.ExpireDocumentRequest(ctx, d.ID, now)
	if err != nil {
		log.Errorf("Failed to expire document request: %v", err)
		sum.Failed++
		return
	}
	if ok {
		e.metrics.DocumentsExpired.Inc()
		sum.Expired++
		log.Info("Document request expired")
	}
}

func (e *Escalator) sendInitial(ctx context.Context, d *model.DocumentRequest) error {
	if err := e.sender.Send(ctx, e.initialMessage(d)); err != nil {
		e.metrics.ReminderFailures.Inc()
		return err
	}
	e.metrics.RemindersSent.Inc()
	_, err := e.repo.MarkDocumentSent(ctx, d.ID)
	return err
}

func (e *Escalator) initialMessage(d *model.DocumentRequest) notifier.Message {
	body := fmt.Sprintf("Hello,\n\nPlease send us the document \"%s\" for case %s.\n", e.title(d), d.CaseID)
	if d.DueDate != nil {
		body += fmt.Sprintf("It is due by %s.\n", d.DueDate.In(e.loc).Format("2006-01-02"))
	}
	return notifier.Message{
		To:      d.RecipientEmail,
		From:    e.from,
		Subject: "Document request: " + e.title(d),
		Body:    body + "\nThank you.",
	}
}

func (e *Escalator) reminderMessage(d *model.DocumentRequest, days int) notifier.Message {
	return notifier.Message{
		To:      d.RecipientEmail,
		From:    e.from,
		Subject: "Reminder: " + e.title(d),
		Body: fmt.Sprintf("Hello,\n\nWe asked for the document \"%s\" for case %s %d days ago and have not received it yet.\n\nThank you.",
			e.title(d), d.CaseID, days),
	}
}

func (e *Escalator) title(d *model.DocumentRequest) string {
	if d.Title != "" {
		return d.Title
	}
	return d.SlotID
}
