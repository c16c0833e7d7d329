package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"case-mail-router/internal/classifier"
	"case-mail-router/internal/config"
	"case-mail-router/internal/matcher"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/testdb"
	"case-mail-router/internal/textextract"
)

func setup(t *testing.T, rules ...classifier.Rule) (*Pipeline, *repository.Repository) {
	t.Helper()
	repo := repository.New(testdb.New(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateClient(ctx, &model.Client{
		ID: "cl-1", Name: "Client Domain SRL", EmailDomains: []string{"clientdomain.ro"},
	}))
	require.NoError(t, repo.CreateCase(ctx, &model.Case{
		ID: "case-c", ClientID: "cl-1", Title: "Litigiu",
		CourtFileNumbers: []string{"1234/62/2024"}, EmailDomains: []string{"clientdomain.ro"},
	}))
	require.NoError(t, repo.CreateCase(ctx, &model.Case{
		ID: "case-d", ClientID: "cl-1", Title: "Recuperare", CourtFileNumbers: []string{"555/3/2023"},
	}))

	if len(rules) == 0 {
		rules = classifier.DefaultRules(nil)
	}
	router := classifier.NewRouter(repo, matcher.New(config.DefaultPublicDomains), rules)
	return NewPipeline(repo, router, metrics.NewMetrics(prometheus.NewRegistry())), repo
}

func msg(id, conversation, from, subject string) provider.Message {
	return provider.Message{
		ID:             id,
		ConversationID: conversation,
		From:           from,
		To:             []string{"office@firm.ro"},
		Subject:        subject,
		ReceivedAt:     time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestIngestReferenceMatch(t *testing.T) {
	p, _ := setup(t)

	res, err := p.Ingest(context.Background(), msg("m1", "t1", "Ion <ion@clientdomain.ro>", "Re: Dosar nr. 1234/62/2024"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, model.StateClassified, res.Email.State)
	assert.Equal(t, "1234/62/2024", res.Email.CourtReference)
	assert.Equal(t, "ion@clientdomain.ro", res.Email.Sender)
	require.Len(t, res.Email.Links, 1)
	assert.Equal(t, "case-c", res.Email.Links[0].CaseID)
	assert.Equal(t, model.MatchReferenceNumber, res.Email.Links[0].MatchType)
	assert.True(t, res.Email.Links[0].IsPrimary)
}

func TestIngestUnknownSenderIsUncertain(t *testing.T) {
	p, _ := setup(t)

	res, err := p.Ingest(context.Background(), msg("m1", "t1", "unknown@random.com", "Buna ziua"))
	require.NoError(t, err)
	assert.Equal(t, model.StateUncertain, res.Email.State)
	assert.Empty(t, res.Email.Links)
}

func TestIngestHTMLAndAttachment(t *testing.T) {
	p, _ := setup(t)

	m := msg("m1", "t1", "grefa@just.ro", "Comunicare")
	m.HTMLBody = "<p>Buna ziua,</p><p>va comunicam</p>"
	m.Attachments = []textextract.Attachment{{
		Filename:    "citatie.txt",
		ContentType: "text/plain",
		Data:        []byte("Dosar nr. 555/3/2023"),
	}}

	res, err := p.Ingest(context.Background(), m)
	require.NoError(t, err)
	assert.Contains(t, res.Email.Body, "va comunicam")
	assert.Equal(t, model.StateClassified, res.Email.State)
	require.Len(t, res.Email.Links, 1)
	assert.Equal(t, "case-d", res.Email.Links[0].CaseID)
}

func TestIngestDuplicateIsNoOp(t *testing.T) {
	p, repo := setup(t)
	ctx := context.Background()

	first, err := p.Ingest(ctx, msg("m1", "t1", "ana@clientdomain.ro", "Factura"))
	require.NoError(t, err)

	again, err := p.Ingest(ctx, msg("m1", "t1", "ana@clientdomain.ro", "Factura"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Decision)
	assert.Equal(t, first.Email.ID, again.Email.ID)

	var emails, events int64
	require.NoError(t, repo.DB().Model(&model.Email{}).Count(&emails).Error)
	require.NoError(t, repo.DB().Model(&model.ClassificationEvent{}).Count(&events).Error)
	assert.EqualValues(t, 1, emails)
	assert.EqualValues(t, 1, events)
}

func TestIngestConcurrentSameMessage(t *testing.T) {
	p, repo := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Ingest(ctx, msg("m1", "t1", "ana@clientdomain.ro", "Factura"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var emails, links int64
	require.NoError(t, repo.DB().Model(&model.Email{}).Count(&emails).Error)
	require.NoError(t, repo.DB().Model(&model.EmailCaseLink{}).Count(&links).Error)
	assert.EqualValues(t, 1, emails)
	assert.EqualValues(t, 1, links)
	assert.Equal(t, 0, p.locks.size())
}

func TestIngestRequiresProviderID(t *testing.T) {
	p, _ := setup(t)
	_, err := p.Ingest(context.Background(), provider.Message{Subject: "x"})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	boom := classifier.Rule{Name: "boom", Apply: func(ev classifier.Evidence) *classifier.Decision {
		if ev.Input.Subject == "explode" {
			panic("boom")
		}
		return nil
	}}
	rules := append([]classifier.Rule{boom}, classifier.DefaultRules(nil)...)
	p, repo := setup(t, rules...)
	ctx := context.Background()

	out := p.IngestBatch(ctx, []provider.Message{
		msg("m1", "t1", "ana@clientdomain.ro", "explode"),
		msg("m2", "t2", "ana@clientdomain.ro", "Factura"),
		{Subject: "no id"},
	})
	assert.Equal(t, BatchResult{Processed: 2, Failed: 1}, out)

	failed, err := repo.GetEmailByProviderID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StateUncertain, failed.State)
	assert.Contains(t, failed.ClassificationNote, "boom")

	ok, err := repo.GetEmailByProviderID(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, ok.State)
}

func TestIngestParksEmailWhenDecisionCannotBeStored(t *testing.T) {
	db := testdb.New(t)
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("fail_events", func(tx *gorm.DB) {
		if tx.Statement.Table == "classification_events" {
			tx.AddError(errors.New("disk full"))
		}
	}))
	repo := repository.New(db)
	ctx := context.Background()
	require.NoError(t, repo.CreateClient(ctx, &model.Client{ID: "cl-1", Name: "Client"}))
	require.NoError(t, repo.CreateCase(ctx, &model.Case{
		ID: "case-c", ClientID: "cl-1", Title: "Litigiu", CourtFileNumbers: []string{"1234/62/2024"},
	}))
	router := classifier.NewRouter(repo, matcher.New(config.DefaultPublicDomains), classifier.DefaultRules(nil))
	p := NewPipeline(repo, router, metrics.NewMetrics(prometheus.NewRegistry()))

	_, err := p.Ingest(ctx, msg("m1", "t1", "grefa@just.ro", "Dosar nr. 1234/62/2024"))
	require.Error(t, err)

	stored, err := repo.GetEmailByProviderID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StateUncertain, stored.State)
	assert.Contains(t, stored.ClassificationNote, "disk full")

	links, err := repo.LinksForEmail(ctx, stored.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestPropagateToUndecidedSiblings(t *testing.T) {
	p, repo := setup(t)
	ctx := context.Background()

	first, err := p.Ingest(ctx, msg("m1", "t1", "x@random.com", "Intrebare"))
	require.NoError(t, err)
	require.Equal(t, model.StateUncertain, first.Email.State)

	court, err := p.Ingest(ctx, msg("m0", "t1", "grefa@just.ro", "Citatie dosar nr. 9/9/2020"))
	require.NoError(t, err)
	require.Equal(t, model.StateCourtUnassigned, court.Email.State)

	res, err := p.Ingest(ctx, msg("m2", "t1", "x@random.com", "Re: Dosar nr. 1234/62/2024"))
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, res.Email.State)
	assert.Equal(t, 1, res.Propagated)

	promoted, err := repo.GetEmail(ctx, first.Email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, promoted.State)
	require.Len(t, promoted.Links, 1)
	assert.Equal(t, "case-c", promoted.Links[0].CaseID)
	assert.Equal(t, model.MatchThreadContinuity, promoted.Links[0].MatchType)
	assert.Equal(t, 1.0, promoted.Links[0].Confidence)
	assert.True(t, promoted.Links[0].IsPrimary)

	untouched, err := repo.GetEmail(ctx, court.Email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCourtUnassigned, untouched.State)
	assert.Empty(t, untouched.Links)

	// running it again finds nothing left to promote
	n, err := p.Propagate(ctx, res.Email, []string{"case-c"}, 1.0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPropagateWithoutSiblings(t *testing.T) {
	p, _ := setup(t)
	res, err := p.Ingest(context.Background(), msg("m1", "t1", "ana@clientdomain.ro", "Factura"))
	require.NoError(t, err)
	assert.Zero(t, res.Propagated)
}

func TestLateReplyInheritsThreadCase(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()

	_, err := p.Ingest(ctx, msg("m1", "t2", "ion@clientdomain.ro", "Dosar nr. 555/3/2023"))
	require.NoError(t, err)

	res, err := p.Ingest(ctx, msg("m2", "t2", "x@random.com", "Re: intrebare"))
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, res.Email.State)
	require.NotNil(t, res.Email.ClientID)
	assert.Equal(t, "cl-1", *res.Email.ClientID)
	require.Len(t, res.Email.Links, 1)
	assert.Equal(t, "case-d", res.Email.Links[0].CaseID)
	assert.Equal(t, model.MatchThreadContinuity, res.Email.Links[0].MatchType)
}

func TestReassign(t *testing.T) {
	p, repo := setup(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, msg("m1", "t1", "ana@clientdomain.ro", "Factura"))
	require.NoError(t, err)
	require.Equal(t, "case-c", res.Email.Links[0].CaseID)

	email, err := p.Reassign(ctx, res.Email.ID, "case-d", "user-7", false)
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, email.State)

	links, err := repo.LinksForEmail(ctx, email.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "case-d", links[0].CaseID)
	assert.True(t, links[0].IsPrimary)
	assert.Equal(t, model.MatchManual, links[0].MatchType)
	assert.Equal(t, "user-7", links[0].LinkedBy)
	assert.False(t, links[1].IsPrimary)

	_, err = p.Reassign(ctx, res.Email.ID, "case-d", "user-7", true)
	require.NoError(t, err)
	links, err = repo.LinksForEmail(ctx, email.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "case-d", links[0].CaseID)

	events, total, err := repo.ListEvents(ctx, email.ID, repository.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, "user-7", events[0].Actor)
}

func TestReassignToLinkedCaseKeepsExistingLink(t *testing.T) {
	p, repo := setup(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, msg("m1", "t1", "ana@clientdomain.ro", "Factura"))
	require.NoError(t, err)
	require.Len(t, res.Email.Links, 1)
	original := res.Email.Links[0]
	require.Equal(t, "case-c", original.CaseID)

	_, err = p.Reassign(ctx, res.Email.ID, "case-c", "user-7", false)
	require.NoError(t, err)

	links, err := repo.LinksForEmail(ctx, res.Email.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, original.MatchType, links[0].MatchType)
	assert.Equal(t, original.Confidence, links[0].Confidence)
	assert.True(t, links[0].IsPrimary)

	events, _, err := repo.ListEvents(ctx, res.Email.ID, repository.Page{})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, model.MatchManual, events[0].MatchType)
	assert.Equal(t, "user-7", events[0].Actor)
}

func TestReassignPropagates(t *testing.T) {
	p, repo := setup(t)
	ctx := context.Background()

	a, err := p.Ingest(ctx, msg("m1", "t3", "x@random.com", "Intrebare"))
	require.NoError(t, err)
	b, err := p.Ingest(ctx, msg("m2", "t3", "x@random.com", "Re: Intrebare"))
	require.NoError(t, err)
	require.Equal(t, model.StateUncertain, b.Email.State)

	_, err = p.Reassign(ctx, a.Email.ID, "case-d", "user-7", false)
	require.NoError(t, err)

	sibling, err := repo.GetEmail(ctx, b.Email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, sibling.State)
	require.Len(t, sibling.Links, 1)
	assert.Equal(t, "case-d", sibling.Links[0].CaseID)
}

func TestReassignMissing(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()

	_, err := p.Reassign(ctx, "nope", "case-c", "u", false)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	res, err := p.Ingest(ctx, msg("m1", "t1", "x@random.com", "hi"))
	require.NoError(t, err)
	_, err = p.Reassign(ctx, res.Email.ID, "nope", "u", false)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestClassificationView(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, msg("m1", "t1", "ion@clientdomain.ro", "Dosar nr. 1234/62/2024"))
	require.NoError(t, err)

	view, err := p.Classification(ctx, res.Email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, view.State)
	assert.Equal(t, "1234/62/2024", view.CourtReference)
	require.Len(t, view.Links, 1)
	assert.NotNil(t, view.ClassifiedAt)

	require.NoError(t, p.RefreshQueueGauges(ctx))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	assert.Equal(t, 1, k.size())

	done := make(chan struct{})
	go func() {
		u := k.Lock("a")
		u()
		close(done)
	}()
	unlock()
	<-done
	assert.Equal(t, 0, k.size())
}
