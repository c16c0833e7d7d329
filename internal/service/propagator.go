package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"case-mail-router/internal/model"
	"case-mail-router/internal/repository"
)

// Propagate assigns caseIDs to every pending or uncertain message of the source's
// conversation and returns how many were promoted. Siblings that already hold a
// decision are left alone.
func (p *Pipeline) Propagate(ctx context.Context, source *model.Email, caseIDs []string, confidence float64) (int, error) {
	unlock := p.locks.Lock(source.ConversationID)
	defer unlock()
	return p.propagate(ctx, source, caseIDs, confidence)
}

func (p *Pipeline) propagate(ctx context.Context, source *model.Email, caseIDs []string, confidence float64) (int, error) {
	if len(caseIDs) == 0 {
		return 0, nil
	}
	siblings, err := p.repo.ConversationSiblings(ctx, source.ConversationID, source.ID,
		model.StatePending, model.StateUncertain)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, sib := range siblings {
		ok, err := p.promote(ctx, sib.ID, source.ClientID, caseIDs, confidence, "thread continuity from "+source.ID)
		if err != nil {
			return promoted, err
		}
		if ok {
			promoted++
		}
	}

	if promoted > 0 {
		p.metrics.PropagatedEmails.Add(float64(promoted))
		logrus.WithFields(logrus.Fields{
			"email_id":     source.ID,
			"conversation": source.ConversationID,
			"promoted":     promoted,
		}).Info("Propagated classification to conversation")
	}
	return promoted, nil
}

// Inherit classifies an undecided email from the primary links already held by its
// classified conversation siblings. It reports whether the email was promoted.
func (p *Pipeline) Inherit(ctx context.Context, email *model.Email) (bool, error) {
	unlock := p.locks.Lock(email.ConversationID)
	defer unlock()
	return p.inherit(ctx, email)
}

func (p *Pipeline) inherit(ctx context.Context, email *model.Email) (bool, error) {
	links, err := p.repo.ConversationCaseLinks(ctx, email.ConversationID, email.ID)
	if err != nil || len(links) == 0 {
		return false, err
	}

	// the earliest primary link defines the thread's case
	caseID := links[0].CaseID
	confidence := links[0].Confidence
	c, err := p.repo.GetCase(ctx, caseID)
	if err != nil {
		return false, fmt.Errorf("failed to load inherited case %s: %w", caseID, err)
	}
	clientID := c.ClientID

	ok, err := p.promote(ctx, email.ID, &clientID, []string{caseID}, confidence, "thread continuity from conversation "+email.ConversationID)
	if err != nil || !ok {
		return false, err
	}
	email.State = model.StateClassified
	email.ClientID = &clientID
	p.metrics.PropagatedEmails.Inc()
	return true, nil
}

// promote classifies one undecided email into caseIDs through thread continuity.
// It is a no-op when the email got a decision in the meantime.
func (p *Pipeline) promote(ctx context.Context, emailID string, clientID *string, caseIDs []string, confidence float64, note string) (bool, error) {
	applied := false
	err := p.repo.Transaction(ctx, func(tx *repository.Repository) error {
		ok, err := tx.SetClassification(ctx, emailID, repository.Classification{
			State:    model.StateClassified,
			ClientID: clientID,
			Note:     note,
			At:       p.now(),
		}, model.StatePending, model.StateUncertain)
		if err != nil || !ok {
			return err
		}
		applied = true

		for i, caseID := range caseIDs {
			created, err := tx.LinkEmail(ctx, &model.EmailCaseLink{
				EmailID:    emailID,
				CaseID:     caseID,
				Confidence: confidence,
				MatchType:  model.MatchThreadContinuity,
				LinkedBy:   model.LinkedBySystem,
				IsPrimary:  i == 0,
			})
			if err != nil {
				return err
			}
			if created {
				p.metrics.LinksCreated.WithLabelValues(string(model.MatchThreadContinuity)).Inc()
			}
		}

		return tx.RecordEvent(ctx, &model.ClassificationEvent{
			EmailID:    emailID,
			State:      model.StateClassified,
			CaseID:     firstCase(caseIDs),
			MatchType:  model.MatchThreadContinuity,
			Confidence: confidence,
			Rule:       "thread-continuity",
			Actor:      model.LinkedBySystem,
			Note:       note,
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to propagate to email %s: %w", emailID, err)
	}
	if applied {
		p.metrics.Classifications.WithLabelValues(string(model.StateClassified), "thread-continuity").Inc()
	}
	return applied, nil
}
