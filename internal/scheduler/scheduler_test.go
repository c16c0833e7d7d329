package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-mail-router/internal/classifier"
	"case-mail-router/internal/config"
	"case-mail-router/internal/matcher"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/provider"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/service"
	"case-mail-router/internal/testdb"
)

// dummyFetcher returns a fixed batch once
type dummyFetcher struct {
	msgs []provider.Message
	err  error
}

func (d *dummyFetcher) FetchNewEmails(ctx context.Context) ([]provider.Message, error) {
	msgs := d.msgs
	d.msgs = nil
	return msgs, d.err
}

func (d *dummyFetcher) Close() error { return nil }

func schedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{IntervalMinutes: 60, ReminderSchedule: "0 0 9 * * *", SyncSweepMinutes: 10}
}

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(schedulerConfig(), nil, Jobs{Fetcher: &dummyFetcher{}}, metrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start())
	assert.Equal(t, []string{JobPoll, JobReminders, JobSyncSweep}, sched.Jobs())
	assert.False(t, sched.GetNextRun(JobPoll).IsZero())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun(JobPoll).IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	// context should be active after restart
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err())
	sched.Stop()
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	cfg := schedulerConfig()
	cfg.ReminderSchedule = "every day"
	sched := NewScheduler(cfg, time.UTC, Jobs{}, metrics.NewMetrics(prometheus.NewRegistry()))

	assert.Error(t, sched.Start())
	assert.False(t, sched.IsRunning())
}

func TestRunOnceIngestsFetchedMail(t *testing.T) {
	repo := repository.New(testdb.New(t))
	ctx := context.Background()
	require.NoError(t, repo.CreateClient(ctx, &model.Client{ID: "cl-1", Name: "Client", EmailDomains: []string{"clientdomain.ro"}}))
	require.NoError(t, repo.CreateCase(ctx, &model.Case{ID: "case-1", ClientID: "cl-1", Title: "Litigiu"}))

	m := metrics.NewMetrics(prometheus.NewRegistry())
	router := classifier.NewRouter(repo, matcher.New(nil), classifier.DefaultRules(nil))
	fetcher := &dummyFetcher{msgs: []provider.Message{
		{ID: "a", From: "ion@clientdomain.ro", Subject: "Factura"},
		{ID: "b", From: "x@random.com", Subject: "Salut"},
	}}
	sched := NewScheduler(schedulerConfig(), time.UTC, Jobs{
		Fetcher:  fetcher,
		Pipeline: service.NewPipeline(repo, router, m),
	}, m)

	res := sched.RunOnce(ctx)
	assert.Equal(t, service.BatchResult{Processed: 2}, res.Emails)
	sched.Wait()

	counts, err := repo.CountEmailsByState(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[model.StateClassified])
	assert.EqualValues(t, 1, counts[model.StateUncertain])

	fetcher.err = errors.New("imap down")
	res = sched.RunOnce(ctx)
	assert.Equal(t, service.BatchResult{}, res.Emails)
}
