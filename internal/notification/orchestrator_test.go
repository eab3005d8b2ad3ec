package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

var t0 = time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

// scriptedEmail fails with the queued errors before succeeding.
type scriptedEmail struct {
	mu       sync.Mutex
	failures []error
	sent     []EmailMessage
	calls    int
}

func (c *scriptedEmail) SendEmail(_ context.Context, msg EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type scriptedSMS struct {
	mu       sync.Mutex
	failures []error
	sent     []SMSMessage
}

func (c *scriptedSMS) SendSMS(_ context.Context, msg SMSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type staticDirectory struct {
	mu        sync.Mutex
	recipient Recipient
	visit     Visit
}

func (d *staticDirectory) Lookup(_ context.Context, _ uuid.UUID) (Recipient, Visit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recipient, d.visit, nil
}

type harness struct {
	store *MemoryStore
	email *scriptedEmail
	sms   *scriptedSMS
	dir   *staticDirectory
	orch  *Orchestrator
	clock time.Time
}

func newHarness(t *testing.T, isNew bool) *harness {
	t.Helper()
	h := &harness{
		store: NewMemoryStore(),
		email: &scriptedEmail{},
		sms:   &scriptedSMS{},
		clock: t0,
	}
	h.dir = &staticDirectory{
		recipient: Recipient{
			PatientID: uuid.New(),
			Name:      "Priya Sharma",
			Email:     "priya@example.com",
			Phone:     "+919876543210",
		},
		visit: Visit{
			AppointmentID: uuid.New(),
			DoctorName:    "Dr. Meera Iyer",
			Start:         t0.Add(48 * time.Hour),
			Duration:      time.Hour,
			IsNewPatient:  isNew,
		},
	}
	h.store.now = func() time.Time { return h.clock }
	h.orch = NewOrchestrator(Dependencies{
		Store:     h.store,
		Directory: h.dir,
		Email:     h.email,
		SMS:       h.sms,
		Messages:  NewMessages(Clinic{Name: "Medical Center", Phone: "(555) 123-4567"}),
		Locker:    redisclient.NewLocalLocker(),
		Log:       logging.Discard(),
	}, Config{
		ReminderOffset: 24 * time.Hour,
		MaxAttempts:    5,
		BackoffBase:    30 * time.Second,
		BackoffMax:     15 * time.Minute,
		Workers:        4,
	})
	h.orch.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) schedule(t *testing.T) []Task {
	t.Helper()
	tasks, err := h.orch.Schedule(context.Background(), h.dir.recipient, h.dir.visit)
	require.NoError(t, err)
	return tasks
}

func find(tasks []Task, ch Channel, kind Kind) *Task {
	for i := range tasks {
		if tasks[i].Channel == ch && tasks[i].Kind == kind {
			return &tasks[i]
		}
	}
	return nil
}

func TestScheduleNewPatientWorkflow(t *testing.T) {
	h := newHarness(t, true)
	tasks := h.schedule(t)
	require.Len(t, tasks, 5)

	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		conf := find(tasks, ch, KindConfirmation)
		require.NotNil(t, conf)
		assert.Equal(t, t0, conf.ScheduledFor)
		assert.Equal(t, StatusPending, conf.Status)

		rem := find(tasks, ch, KindReminder)
		require.NotNil(t, rem)
		assert.Equal(t, h.dir.visit.Start.Add(-24*time.Hour), rem.ScheduledFor)
	}

	intake := find(tasks, ChannelEmail, KindIntakeForm)
	require.NotNil(t, intake)
	assert.Nil(t, find(tasks, ChannelSMS, KindIntakeForm))
}

func TestScheduleReturningPatientHasNoIntakeForm(t *testing.T) {
	h := newHarness(t, false)
	tasks := h.schedule(t)
	require.Len(t, tasks, 4)
	assert.Nil(t, find(tasks, ChannelEmail, KindIntakeForm))
}

func TestScheduleIsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	first := h.schedule(t)
	second := h.schedule(t)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	all, err := h.store.ListByAppointment(context.Background(), h.dir.visit.AppointmentID)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestScheduleClampsPastReminderToNow(t *testing.T) {
	h := newHarness(t, false)
	h.dir.visit.Start = t0.Add(3 * time.Hour)

	rem := find(h.schedule(t), ChannelSMS, KindReminder)
	require.NotNil(t, rem)
	assert.Equal(t, t0, rem.ScheduledFor)
}

func TestScheduleSkipsChannelWithoutAddress(t *testing.T) {
	h := newHarness(t, true)
	h.dir.recipient.Phone = ""

	tasks := h.schedule(t)
	for _, kind := range []Kind{KindConfirmation, KindReminder} {
		sms := find(tasks, ChannelSMS, kind)
		require.NotNil(t, sms)
		assert.Equal(t, StatusSkipped, sms.Status)
	}

	due, err := h.orch.DueTasks(context.Background(), t0)
	require.NoError(t, err)
	for _, d := range due {
		assert.Equal(t, ChannelEmail, d.Channel)
	}
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	h := newHarness(t, false)
	h.email.failures = []error{
		Transient(errors.New("smtp timeout")),
		Transient(errors.New("smtp timeout")),
	}
	tasks := h.schedule(t)
	emailConf := find(tasks, ChannelEmail, KindConfirmation)
	smsConf := find(tasks, ChannelSMS, KindConfirmation)
	ctx := context.Background()

	stats, err := h.orch.RunDue(ctx, h.clock)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Due)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Retried)

	got, err := h.store.Get(ctx, emailConf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, t0.Add(30*time.Second), got.ScheduledFor)

	// not due until the backoff elapses
	due, err := h.orch.DueTasks(ctx, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)

	h.clock = t0.Add(30 * time.Second)
	_, err = h.orch.RunDue(ctx, h.clock)
	require.NoError(t, err)
	got, _ = h.store.Get(ctx, emailConf.ID)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, h.clock.Add(time.Minute), got.ScheduledFor, "backoff doubles")

	h.clock = got.ScheduledFor
	_, err = h.orch.RunDue(ctx, h.clock)
	require.NoError(t, err)
	got, _ = h.store.Get(ctx, emailConf.ID)
	assert.Equal(t, StatusSent, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, got.LastError)

	sms, _ := h.store.Get(ctx, smsConf.ID)
	assert.Equal(t, StatusSent, sms.Status)
	assert.Equal(t, 1, sms.Attempts, "sms is independent of email failures")
	assert.Len(t, h.sms.sent, 1)
}

func TestRedeliveryDoesNotResend(t *testing.T) {
	h := newHarness(t, false)
	conf := find(h.schedule(t), ChannelEmail, KindConfirmation)
	ctx := context.Background()

	first, err := h.orch.Dispatch(ctx, conf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, first.Status)

	second, err := h.orch.Dispatch(ctx, conf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, second.Status)
	assert.Equal(t, 1, h.email.calls)
}

func TestConcurrentDispatchSendsOnce(t *testing.T) {
	h := newHarness(t, false)
	conf := find(h.schedule(t), ChannelEmail, KindConfirmation)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Dispatch(context.Background(), conf.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.email.calls)
}

func TestPermanentFailureStops(t *testing.T) {
	h := newHarness(t, false)
	h.sms.failures = []error{Permanent(errors.New("invalid number"))}
	conf := find(h.schedule(t), ChannelSMS, KindConfirmation)

	got, err := h.orch.Dispatch(context.Background(), conf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "invalid number")

	due, err := h.orch.DueTasks(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	for _, d := range due {
		assert.NotEqual(t, conf.ID, d.ID)
	}
}

func TestMaxAttemptsMarksFailed(t *testing.T) {
	h := newHarness(t, false)
	for i := 0; i < 5; i++ {
		h.email.failures = append(h.email.failures, Transient(errors.New("503")))
	}
	conf := find(h.schedule(t), ChannelEmail, KindConfirmation)
	ctx := context.Background()

	var got *Task
	for i := 0; i < 5; i++ {
		var err error
		got, err = h.orch.Dispatch(ctx, conf.ID)
		require.NoError(t, err)
		h.clock = got.ScheduledFor
	}
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, 5, h.email.calls)
}

func TestUnclassifiedErrorsAreRetried(t *testing.T) {
	h := newHarness(t, false)
	h.email.failures = []error{errors.New("connection reset")}
	conf := find(h.schedule(t), ChannelEmail, KindConfirmation)

	got, err := h.orch.Dispatch(context.Background(), conf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestCancelSkipsPendingReminders(t *testing.T) {
	h := newHarness(t, true)
	tasks := h.schedule(t)
	ctx := context.Background()

	_, err := h.orch.DispatchAppointment(ctx, h.dir.visit.AppointmentID)
	require.NoError(t, err)

	n, err := h.orch.CancelAppointment(ctx, h.dir.visit.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the two reminders were still pending")

	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		rem, err := h.store.Get(ctx, find(tasks, ch, KindReminder).ID)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, rem.Status)

		conf, err := h.store.Get(ctx, find(tasks, ch, KindConfirmation).ID)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, conf.Status, "sent tasks are not touched")
	}

	due, err := h.orch.DueTasks(ctx, h.dir.visit.Start)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatchSkipsCancelledVisit(t *testing.T) {
	h := newHarness(t, false)
	conf := find(h.schedule(t), ChannelEmail, KindConfirmation)
	h.dir.visit.Cancelled = true

	got, err := h.orch.Dispatch(context.Background(), conf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, got.Status)
	assert.Zero(t, h.email.calls)
}

func TestDispatchIgnoresTasksNotYetDue(t *testing.T) {
	h := newHarness(t, false)
	rem := find(h.schedule(t), ChannelEmail, KindReminder)

	got, err := h.orch.Dispatch(context.Background(), rem.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Zero(t, h.email.calls)
}

func TestIntakeFormIsAttached(t *testing.T) {
	h := newHarness(t, true)
	h.schedule(t)

	_, err := h.orch.DispatchAppointment(context.Background(), h.dir.visit.AppointmentID)
	require.NoError(t, err)

	require.Len(t, h.email.sent, 2)
	var intake *EmailMessage
	for i := range h.email.sent {
		if len(h.email.sent[i].Attachments) > 0 {
			intake = &h.email.sent[i]
		}
	}
	require.NotNil(t, intake)
	assert.Contains(t, intake.Subject, "Intake Form")
	assert.Equal(t, "text/html", intake.Attachments[0].ContentType)
	assert.Contains(t, string(intake.Attachments[0].Content), "Priya Sharma")
}

func TestBackoffIsCapped(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, 30*time.Second, h.orch.backoff(1))
	assert.Equal(t, time.Minute, h.orch.backoff(2))
	assert.Equal(t, 8*time.Minute, h.orch.backoff(5))
	assert.Equal(t, 15*time.Minute, h.orch.backoff(6))
	assert.Equal(t, 15*time.Minute, h.orch.backoff(60))
}
