// Package service runs inbound mail through extraction, matching and routing, stores
// the outcome and fans it out across the conversation.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"case-mail-router/internal/classifier"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/textextract"
)

// ErrInvalidMessage is returned for messages that cannot be stored
var ErrInvalidMessage = errors.New("invalid message")

// Pipeline ingests messages and owns every classification write
type Pipeline struct {
	repo    *repository.Repository
	router  *classifier.Router
	metrics *metrics.Metrics
	locks   *keyedMutex
	now     func() time.Time
}

// NewPipeline creates an ingest pipeline
func NewPipeline(repo *repository.Repository, router *classifier.Router, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		repo:    repo,
		router:  router,
		metrics: m,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// Result is the outcome of ingesting one message
type Result struct {
	Email      *model.Email         `json:"email"`
	Decision   *classifier.Decision `json:"decision,omitempty"`
	Duplicate  bool                 `json:"duplicate"`
	Propagated int                  `json:"propagated"`
}

// BatchResult summarizes IngestBatch
type BatchResult struct {
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Ingest stores msg and classifies it. A message whose provider id is already known
// is returned as stored unless it never got past pending.
func (p *Pipeline) Ingest(ctx context.Context, msg provider.Message) (*Result, error) {
	if msg.ID == "" {
		return nil, fmt.Errorf("%w: missing provider message id", ErrInvalidMessage)
	}
	start := p.now()
	defer func() {
		p.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	conversation := msg.ConversationID
	if conversation == "" {
		conversation = msg.ID
	}
	unlock := p.locks.Lock(conversation)
	defer unlock()

	received := msg.ReceivedAt
	if received.IsZero() {
		received = p.now()
	}
	email, created, err := p.repo.CreateEmailIfAbsent(ctx, &model.Email{
		ProviderMessageID: msg.ID,
		ConversationID:    conversation,
		Subject:           msg.Subject,
		Body:              textextract.BodyText(msg.Body, msg.HTMLBody),
		Sender:            msg.From,
		Recipients:        msg.Recipients(),
		ReceivedAt:        received,
	})
	if err != nil {
		return nil, err
	}
	if created {
		p.metrics.EmailsIngested.Inc()
	} else {
		p.metrics.EmailsDuplicate.Inc()
		if email.State != model.StatePending {
			logrus.Debugf("Email %s already stored as %s, skipping", msg.ID, email.State)
			return &Result{Email: email, Duplicate: true}, nil
		}
	}

	decision := p.classify(ctx, email, msg.Attachments)
	applied, err := p.apply(ctx, email, decision)
	if err != nil {
		p.park(ctx, email, err)
		return nil, err
	}

	result := &Result{Email: email, Decision: &decision, Duplicate: !created}
	switch {
	case !applied:
	case decision.State == model.StateClassified && len(decision.CaseIDs) > 0:
		n, err := p.propagate(ctx, email, decision.CaseIDs, decision.Confidence)
		if err != nil {
			logrus.WithField("email_id", email.ID).Errorf("Failed to propagate classification: %v", err)
		}
		result.Propagated = n
	case decision.State == model.StateUncertain:
		if _, err := p.inherit(ctx, email); err != nil {
			logrus.WithField("email_id", email.ID).Errorf("Failed to inherit thread classification: %v", err)
		}
	}

	stored, err := p.repo.GetEmail(ctx, email.ID)
	if err != nil {
		return nil, err
	}
	result.Email = stored
	return result, nil
}

// IngestBatch ingests every message. A failure is logged and counted but never stops
// the rest of the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, msgs []provider.Message) BatchResult {
	var out BatchResult
	for _, msg := range msgs {
		if ctx.Err() != nil {
			out.Failed += len(msgs) - out.Processed - out.Duplicates - out.Failed
			break
		}
		res, err := p.Ingest(ctx, msg)
		switch {
		case err != nil:
			logrus.WithField("message_id", msg.ID).Errorf("Failed to ingest email: %v", err)
			out.Failed++
		case res.Duplicate && res.Decision == nil:
			out.Duplicates++
		default:
			out.Processed++
		}
	}
	return out
}

// classify runs the router and turns any failure, including a panic in extraction or
// matching, into an uncertain decision carrying the error.
func (p *Pipeline) classify(ctx context.Context, email *model.Email, attachments []textextract.Attachment) (decision classifier.Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = failedDecision(fmt.Errorf("panic: %v", r))
		}
		if decision.Rule == "error" {
			p.metrics.ClassifyFailures.Inc()
			logrus.WithField("email_id", email.ID).Warnf("Classification failed: %s", decision.Note)
		}
	}()

	d, err := p.router.Classify(ctx, classifier.Input{
		Sender:      email.Sender,
		Subject:     email.Subject,
		Body:        email.Body,
		Attachments: textextract.FromAttachments(attachments),
	})
	if err != nil {
		return failedDecision(err)
	}
	return d
}

func failedDecision(err error) classifier.Decision {
	return classifier.Decision{
		State: model.StateUncertain,
		Rule:  "error",
		Note:  "classification failed: " + err.Error(),
	}
}

// apply persists a router decision for a pending email and reports whether it did
func (p *Pipeline) apply(ctx context.Context, email *model.Email, d classifier.Decision) (bool, error) {
	var clientID *string
	if d.ClientID != "" {
		clientID = &d.ClientID
	}
	now := p.now()

	applied := false
	err := p.repo.Transaction(ctx, func(tx *repository.Repository) error {
		ok, err := tx.SetClassification(ctx, email.ID, repository.Classification{
			State:     d.State,
			ClientID:  clientID,
			Reference: d.Reference,
			Note:      d.Note,
			At:        now,
		}, model.StatePending)
		if err != nil || !ok {
			return err
		}
		applied = true

		for i, caseID := range d.CaseIDs {
			created, err := tx.LinkEmail(ctx, &model.EmailCaseLink{
				EmailID:    email.ID,
				CaseID:     caseID,
				Confidence: d.Confidence,
				MatchType:  d.MatchType,
				LinkedBy:   model.LinkedBySystem,
				IsPrimary:  i == 0,
			})
			if err != nil {
				return err
			}
			if created {
				p.metrics.LinksCreated.WithLabelValues(string(d.MatchType)).Inc()
			}
		}

		return tx.RecordEvent(ctx, &model.ClassificationEvent{
			EmailID:    email.ID,
			State:      d.State,
			CaseID:     firstCase(d.CaseIDs),
			MatchType:  d.MatchType,
			Confidence: d.Confidence,
			Rule:       d.Rule,
			Actor:      model.LinkedBySystem,
			Note:       d.Note,
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to store classification of %s: %w", email.ID, err)
	}
	if !applied {
		logrus.WithField("email_id", email.ID).Debug("Email classified concurrently, keeping stored decision")
		return false, nil
	}

	email.State = d.State
	if clientID != nil {
		email.ClientID = clientID
	}
	p.metrics.Classifications.WithLabelValues(string(d.State), d.Rule).Inc()
	logrus.WithFields(logrus.Fields{
		"email_id": email.ID,
		"state":    d.State,
		"rule":     d.Rule,
		"cases":    d.CaseIDs,
	}).Info("Email classified")
	return true, nil
}

// park moves an email whose decision could not be stored to the unclear queue.
// Fetchers do not return a message twice, so a pending email would never be retried.
func (p *Pipeline) park(ctx context.Context, email *model.Email, cause error) {
	log := logrus.WithField("email_id", email.ID)
	ok, err := p.repo.SetClassification(ctx, email.ID, repository.Classification{
		State: model.StateUncertain,
		Note:  "classification not stored: " + cause.Error(),
		At:    p.now(),
	}, model.StatePending)
	if err != nil {
		log.Errorf("Failed to move email to the unclear queue: %v", err)
		return
	}
	if ok {
		email.State = model.StateUncertain
		p.metrics.Classifications.WithLabelValues(string(model.StateUncertain), "error").Inc()
		log.Warn("Email moved to the unclear queue after a storage failure")
	}
}

// Reassign links an email to a case on behalf of a user and makes that link primary.
// With replace set every other link of the email is removed.
func (p *Pipeline) Reassign(ctx context.Context, emailID, caseID, userID string, replace bool) (*model.Email, error) {
	email, err := p.repo.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}
	c, err := p.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = model.LinkedBySystem
	}

	unlock := p.locks.Lock(email.ConversationID)
	defer unlock()

	clientID := c.ClientID
	err = p.repo.Transaction(ctx, func(tx *repository.Repository) error {
		created, err := tx.LinkEmail(ctx, &model.EmailCaseLink{
			EmailID:    email.ID,
			CaseID:     caseID,
			Confidence: 1.0,
			MatchType:  model.MatchManual,
			LinkedBy:   userID,
			IsPrimary:  true,
		})
		if err != nil {
			return err
		}
		if created {
			p.metrics.LinksCreated.WithLabelValues(string(model.MatchManual)).Inc()
		}
		if err := tx.MakePrimary(ctx, email.ID, caseID); err != nil {
			return err
		}
		if replace {
			if _, err := tx.UnlinkOthers(ctx, email.ID, caseID); err != nil {
				return err
			}
		}
		if _, err := tx.SetClassification(ctx, email.ID, repository.Classification{
			State:    model.StateClassified,
			ClientID: &clientID,
			Note:     "assigned by " + userID,
			At:       p.now(),
		}); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, &model.ClassificationEvent{
			EmailID:    email.ID,
			State:      model.StateClassified,
			CaseID:     &caseID,
			MatchType:  model.MatchManual,
			Confidence: 1.0,
			Rule:       "manual",
			Actor:      userID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reassign email %s: %w", email.ID, err)
	}
	p.metrics.Classifications.WithLabelValues(string(model.StateClassified), "manual").Inc()

	email.State = model.StateClassified
	email.ClientID = &clientID
	if _, err := p.propagate(ctx, email, []string{caseID}, 1.0); err != nil {
		logrus.WithField("email_id", email.ID).Errorf("Failed to propagate manual assignment: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"email_id": email.ID,
		"case_id":  caseID,
		"user_id":  userID,
		"replace":  replace,
	}).Info("Email reassigned")
	return p.repo.GetEmail(ctx, email.ID)
}

// ClassificationView is the classification status of one email
type ClassificationView struct {
	EmailID        string                    `json:"email_id"`
	State          model.ClassificationState `json:"state"`
	ClientID       *string                   `json:"client_id,omitempty"`
	CourtReference string                    `json:"court_reference,omitempty"`
	Note           string                    `json:"note,omitempty"`
	ClassifiedAt   *time.Time                `json:"classified_at,omitempty"`
	Links          []model.EmailCaseLink     `json:"links"`
}

// Classification returns the state and case links of an email, primary link first
func (p *Pipeline) Classification(ctx context.Context, emailID string) (*ClassificationView, error) {
	email, err := p.repo.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}
	links, err := p.repo.LinksForEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}
	return &ClassificationView{
		EmailID:        email.ID,
		State:          email.State,
		ClientID:       email.ClientID,
		CourtReference: email.CourtReference,
		Note:           email.ClassificationNote,
		ClassifiedAt:   email.ClassifiedAt,
		Links:          links,
	}, nil
}

// RefreshQueueGauges updates the per-state queue gauges
func (p *Pipeline) RefreshQueueGauges(ctx context.Context) error {
	counts, err := p.repo.CountEmailsByState(ctx)
	if err != nil {
		return err
	}
	for _, state := range []model.ClassificationState{
		model.StatePending, model.StateClassified, model.StateUncertain, model.StateCourtUnassigned,
	} {
		p.metrics.QueueSize.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	return nil
}

func firstCase(ids []string) *string {
	if len(ids) == 0 {
		return nil
	}
	id := ids[0]
	return &id
}
