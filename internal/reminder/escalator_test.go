package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-mail-router/internal/config"
	"case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/notifier"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/testdb"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []notifier.Message
	fail bool
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, msg notifier.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func defaultConfig() config.ReminderConfig {
	return config.ReminderConfig{
		FirstDay:   3,
		SecondDay:  7,
		DailyFrom:  8,
		MaxAgeDays: 30,
		Timezone:   "Europe/Bucharest",
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T, cfg config.ReminderConfig) (*Escalator, *fakeSender, *clock, *repository.Repository) {
	t.Helper()
	repo := repository.New(testdb.New(t))
	ctx := context.Background()
	require.NoError(t, repo.CreateClient(ctx, &model.Client{ID: "cl-1", Name: "Client"}))
	require.NoError(t, repo.CreateCase(ctx, &model.Case{ID: "case-1", ClientID: "cl-1", Title: "Litigiu"}))

	sender := &fakeSender{}
	e, err := New(repo, sender, cfg, "office@firm.ro", metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	loc, err := time.LoadLocation("Europe/Bucharest")
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, loc)}
	e.now = c.now
	return e, sender, c, repo
}

func create(t *testing.T, e *Escalator) *model.DocumentRequest {
	t.Helper()
	d, err := e.Create(context.Background(), CreateRequest{
		SlotID: "slot-id-card", CaseID: "case-1", RecipientEmail: "Ion <ion@clientdomain.ro>", Title: "Carte de identitate",
	})
	require.NoError(t, err)
	return d
}

func atDay(c *clock, start time.Time, day int) {
	c.t = start.AddDate(0, 0, day)
}

func TestDaysElapsedUsesLocalCalendar(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Bucharest")
	require.NoError(t, err)

	requested := time.Date(2024, 3, 1, 23, 30, 0, 0, loc)
	now := time.Date(2024, 3, 2, 0, 30, 0, 0, loc)
	assert.Equal(t, 1, DaysElapsed(requested, now, loc))
	assert.Equal(t, 0, DaysElapsed(requested, now, time.UTC))

	// across the spring DST change
	assert.Equal(t, 30, DaysElapsed(time.Date(2024, 3, 15, 12, 0, 0, 0, loc), time.Date(2024, 4, 14, 12, 0, 0, 0, loc), loc))
}

func TestScheduledDays(t *testing.T) {
	e := &Escalator{cfg: defaultConfig()}
	due := map[int]bool{1: false, 2: false, 3: true, 4: false, 5: false, 6: false, 7: true, 8: true, 9: true, 20: true}
	for day, want := range due {
		assert.Equal(t, want, e.Scheduled(day), "day %d", day)
	}
}

func TestCreateSendsInitialRequest(t *testing.T) {
	e, sender, _, _ := setup(t, defaultConfig())

	d := create(t, e)
	assert.Equal(t, model.DocumentSent, d.Status)
	assert.Equal(t, "ion@clientdomain.ro", d.RecipientEmail)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "Document request: Carte de identitate", sender.sent[0].Subject)
	assert.Equal(t, "office@firm.ro", sender.sent[0].From)
}

func TestCreateValidation(t *testing.T) {
	e, _, _, _ := setup(t, defaultConfig())
	ctx := context.Background()

	_, err := e.Create(ctx, CreateRequest{SlotID: "s", CaseID: "case-1", RecipientEmail: "bad\r\nBcc: x@y.ro"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = e.Create(ctx, CreateRequest{SlotID: "s", CaseID: "missing", RecipientEmail: "a@b.ro"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEscalationSchedule(t *testing.T) {
	e, sender, c, repo := setup(t, defaultConfig())
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	expect := []struct {
		day       int
		reminders int
	}{
		{1, 0}, {2, 0}, {3, 1}, {4, 1}, {5, 1}, {6, 1}, {7, 2}, {8, 3}, {9, 4}, {10, 5},
	}
	for _, step := range expect {
		atDay(c, start, step.day)
		_, err := e.Run(ctx)
		require.NoError(t, err)

		got, err := repo.GetDocumentRequest(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, step.reminders, got.RemindersSent, "day %d", step.day)
		if step.reminders > 0 {
			assert.Equal(t, model.DocumentReminded, got.Status)
		}
	}
	// one initial ask plus five reminders
	assert.Equal(t, 6, sender.count())
}

func TestRunIsIdempotentWithinADay(t *testing.T) {
	e, sender, c, repo := setup(t, defaultConfig())
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	atDay(c, start, 3)
	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reminded)

	c.t = c.t.Add(5 * time.Hour)
	sum, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Reminded)

	got, err := repo.GetDocumentRequest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RemindersSent)
	assert.Equal(t, 2, sender.count())
}

func TestSendFailureLeavesRequestUntouched(t *testing.T) {
	e, sender, c, repo := setup(t, defaultConfig())
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	sender.fail = true
	atDay(c, start, 3)
	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	got, err := repo.GetDocumentRequest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemindersSent)
	assert.Nil(t, got.LastReminderAt)
	assert.Equal(t, model.DocumentSent, got.Status)

	sender.fail = false
	sum, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reminded)
}

func TestPendingRequestIsRetried(t *testing.T) {
	e, sender, _, repo := setup(t, defaultConfig())
	ctx := context.Background()

	sender.fail = true
	d := create(t, e)
	assert.Equal(t, model.DocumentPending, d.Status)

	sender.fail = false
	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Initial)

	got, err := repo.GetDocumentRequest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentSent, got.Status)
}

func TestExpiryByAge(t *testing.T) {
	e, sender, c, repo := setup(t, defaultConfig())
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	atDay(c, start, 31)
	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)
	assert.Equal(t, 1, sender.count())

	got, err := repo.GetDocumentRequest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentExpired, got.Status)
	assert.NotNil(t, got.ExpiredAt)

	atDay(c, start, 32)
	sum, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestExpiryByReminderCount(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxReminders = 2
	e, _, c, repo := setup(t, cfg)
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	for _, day := range []int{3, 7, 8} {
		atDay(c, start, day)
		_, err := e.Run(ctx)
		require.NoError(t, err)
	}
	got, err := repo.GetDocumentRequest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentExpired, got.Status)
	assert.Equal(t, 2, got.RemindersSent)
}

func TestMarkReceived(t *testing.T) {
	e, sender, c, _ := setup(t, defaultConfig())
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	got, err := e.MarkReceived(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReceived, got.Status)
	assert.NotNil(t, got.ReceivedAt)

	_, err = e.MarkReceived(ctx, d.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// received requests get no more mail
	atDay(c, start, 3)
	_, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sender.count())

	_, err = e.MarkReceived(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLateAnswerToExpiredRequest(t *testing.T) {
	e, _, c, _ := setup(t, defaultConfig())
	ctx := context.Background()
	start := c.t
	d := create(t, e)

	atDay(c, start, 40)
	_, err := e.Run(ctx)
	require.NoError(t, err)

	got, err := e.MarkReceived(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReceived, got.Status)
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	cfg := defaultConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err := New(nil, &fakeSender{}, cfg, "", nil)
	assert.Error(t, err)
}
