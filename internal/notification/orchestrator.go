package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medical-appointment-booking/internal/events"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	"github.com/hackgods/medical-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

// Directory resolves who a task goes to and what it is about at send time,
// so messages reflect the latest contact data.
type Directory interface {
	Lookup(ctx context.Context, appointmentID uuid.UUID) (Recipient, Visit, error)
}

type Config struct {
	ReminderOffset time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Workers        int // concurrent sends in RunDue
	BatchSize      int // due tasks fetched per RunDue
}

type Dependencies struct {
	Store     Store
	Directory Directory
	Email     EmailChannel
	SMS       SMSChannel
	Forms     FormRenderer
	Messages  *Messages
	Locker    redisclient.Locker
	Publisher events.Publisher
	Metrics   *metrics.BookingMetrics
	Log       *logging.Logger
}

// Orchestrator owns the notification task state machine:
// pending -> sent | failed | skipped, with pending -> pending on retry.
type Orchestrator struct {
	store     Store
	directory Directory
	email     EmailChannel
	sms       SMSChannel
	forms     FormRenderer
	messages  *Messages
	locker    redisclient.Locker
	publisher events.Publisher
	metrics   *metrics.BookingMetrics
	log       *logging.Logger
	cfg       Config
	now       func() time.Time
}

func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	if deps.Log == nil {
		deps.Log = logging.Default()
	}
	if deps.Email == nil {
		deps.Email = NewLogEmailChannel(deps.Log)
	}
	if deps.SMS == nil {
		deps.SMS = NewLogSMSChannel(deps.Log)
	}
	if deps.Messages == nil {
		deps.Messages = NewMessages(Clinic{Name: "Medical Center"})
	}
	if deps.Forms == nil {
		deps.Forms = NewHTMLFormRenderer(deps.Messages.clinic)
	}
	if deps.Locker == nil {
		deps.Locker = redisclient.NewLocalLocker()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	return &Orchestrator{
		store:     deps.Store,
		directory: deps.Directory,
		email:     deps.Email,
		sms:       deps.SMS,
		forms:     deps.Forms,
		messages:  deps.Messages,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		log:       deps.Log,
		cfg:       cfg,
		now:       time.Now,
	}
}

type plannedTask struct {
	channel Channel
	kind    Kind
	at      time.Time
}

// Schedule creates the workflow for a freshly booked appointment. Scheduling
// the same appointment twice returns the existing tasks.
func (o *Orchestrator) Schedule(ctx context.Context, r Recipient, v Visit) ([]Task, error) {
	now := o.now()
	reminderAt := v.Start.Add(-o.cfg.ReminderOffset)
	if reminderAt.Before(now) {
		reminderAt = now
	}

	plan := []plannedTask{
		{ChannelEmail, KindConfirmation, now},
		{ChannelSMS, KindConfirmation, now},
	}
	if v.IsNewPatient {
		plan = append(plan, plannedTask{ChannelEmail, KindIntakeForm, now})
	}
	plan = append(plan,
		plannedTask{ChannelEmail, KindReminder, reminderAt},
		plannedTask{ChannelSMS, KindReminder, reminderAt},
	)

	tasks := make([]Task, 0, len(plan))
	for _, p := range plan {
		t := &Task{
			AppointmentID: v.AppointmentID,
			Channel:       p.channel,
			Kind:          p.kind,
			Status:        StatusPending,
			ScheduledFor:  p.at,
		}
		if r.Address(p.channel) == "" {
			t.Status = StatusSkipped
			t.LastError = ErrNoRecipient.Error()
		}

		stored, err := o.store.Create(ctx, t)
		if err != nil {
			return tasks, fmt.Errorf("schedule %s %s: %w", p.channel, p.kind, err)
		}
		if stored.ID == t.ID {
			o.metrics.ObserveNotification(string(p.channel), string(p.kind), scheduledLabel(stored.Status))
		}
		tasks = append(tasks, *stored)
	}

	o.log.Info("notifications scheduled",
		"appointment_id", v.AppointmentID,
		"tasks", len(tasks),
		"reminder_at", reminderAt,
	)
	return tasks, nil
}

func scheduledLabel(s Status) string {
	if s == StatusSkipped {
		return string(StatusSkipped)
	}
	return "scheduled"
}

// DueTasks lists pending tasks whose ScheduledFor is at or before now. It
// has no side effects.
func (o *Orchestrator) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	return o.store.DueTasks(ctx, now, o.cfg.BatchSize)
}

func (o *Orchestrator) Tasks(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	return o.store.ListByAppointment(ctx, appointmentID)
}

// Dispatch attempts one send of a task. Redelivery is safe: a task that is
// no longer pending, not yet due, or held by another dispatcher is left
// alone. Send failures are recorded on the task, not returned.
func (o *Orchestrator) Dispatch(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	var result *Task
	err := o.locker.WithLock(ctx, redisclient.TaskLockKey(taskID), 0, func(lockCtx context.Context) error {
		t, err := o.dispatchLocked(lockCtx, taskID)
		result = t
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		o.log.Debug("task already being dispatched", "task_id", taskID)
		return nil, nil
	}
	return result, err
}

func (o *Orchestrator) dispatchLocked(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	now := o.now()
	if !t.Due(now) {
		return t, nil
	}

	r, v, err := o.directory.Lookup(ctx, t.AppointmentID)
	if err != nil {
		return o.recordFailure(ctx, t, Transient(fmt.Errorf("lookup recipient: %w", err)))
	}
	if v.Cancelled {
		t.Status = StatusSkipped
		return o.save(ctx, t)
	}

	started := time.Now()
	sendErr := o.send(ctx, t, r, v)
	o.metrics.ObserveDispatch(string(t.Channel), time.Since(started).Seconds())

	if sendErr != nil {
		if ctx.Err() != nil {
			// shutting down; the task stays pending for the next run
			return t, ctx.Err()
		}
		return o.recordFailure(ctx, t, sendErr)
	}

	t.Attempts++
	t.Status = StatusSent
	t.LastError = ""
	o.log.Info("notification sent",
		"task_id", t.ID,
		"appointment_id", t.AppointmentID,
		"channel", t.Channel,
		"kind", t.Kind,
		"attempts", t.Attempts,
	)
	return o.save(ctx, t)
}

func (o *Orchestrator) send(ctx context.Context, t *Task, r Recipient, v Visit) error {
	switch t.Channel {
	case ChannelEmail:
		msg, err := o.messages.Email(t.Kind, r, v)
		if err != nil {
			return Permanent(err)
		}
		if msg.To == "" {
			return Permanent(ErrNoRecipient)
		}
		if t.Kind == KindIntakeForm {
			form, err := o.forms.RenderIntakeForm(ctx, r, v)
			if err != nil {
				return Permanent(err)
			}
			msg.Attachments = append(msg.Attachments, form)
		}
		return o.email.SendEmail(ctx, msg)
	case ChannelSMS:
		msg, err := o.messages.SMS(t.Kind, r, v)
		if err != nil {
			return Permanent(err)
		}
		if msg.To == "" {
			return Permanent(ErrNoRecipient)
		}
		return o.sms.SendSMS(ctx, msg)
	default:
		return Permanent(fmt.Errorf("unknown channel %q", t.Channel))
	}
}

// recordFailure counts the attempt and either reschedules with backoff or
// gives up.
func (o *Orchestrator) recordFailure(ctx context.Context, t *Task, sendErr error) (*Task, error) {
	t.Attempts++
	t.LastError = sendErr.Error()

	if IsPermanent(sendErr) || t.Attempts >= o.cfg.MaxAttempts {
		t.Status = StatusFailed
		o.log.Error("notification failed",
			"task_id", t.ID,
			"appointment_id", t.AppointmentID,
			"channel", t.Channel,
			"kind", t.Kind,
			"attempts", t.Attempts,
			"error", sendErr,
		)
		saved, err := o.save(ctx, t)
		if err == nil && saved.Status == StatusFailed {
			o.publishFailure(ctx, saved)
		}
		return saved, err
	}

	t.ScheduledFor = o.now().Add(o.backoff(t.Attempts))
	o.log.Warn("notification send failed, will retry",
		"task_id", t.ID,
		"channel", t.Channel,
		"kind", t.Kind,
		"attempts", t.Attempts,
		"retry_at", t.ScheduledFor,
		"error", sendErr,
	)
	o.metrics.ObserveNotification(string(t.Channel), string(t.Kind), "retry")
	if err := o.store.Update(ctx, t, StatusPending); err != nil {
		return o.conflict(t, err)
	}
	return t, nil
}

func (o *Orchestrator) publishFailure(ctx context.Context, t *Task) {
	err := o.publisher.Publish(ctx, events.Event{
		ID:            uuid.New(),
		Type:          events.NotificationFailed,
		AppointmentID: t.AppointmentID,
		OccurredAt:    o.now(),
		Payload: map[string]any{
			"task_id":  t.ID.String(),
			"channel":  string(t.Channel),
			"kind":     string(t.Kind),
			"attempts": t.Attempts,
			"error":    t.LastError,
		},
	})
	if err != nil {
		o.log.Warn("failed to publish notification failure", "task_id", t.ID, "error", err)
	}
}

// save moves a pending task to its new status.
func (o *Orchestrator) save(ctx context.Context, t *Task) (*Task, error) {
	if err := o.store.Update(ctx, t, StatusPending); err != nil {
		return o.conflict(t, err)
	}
	o.metrics.ObserveNotification(string(t.Channel), string(t.Kind), string(t.Status))
	return t, nil
}

func (o *Orchestrator) conflict(t *Task, err error) (*Task, error) {
	if errors.Is(err, ErrStatusConflict) {
		// cancelled while we were sending
		o.log.Warn("task changed during dispatch", "task_id", t.ID, "appointment_id", t.AppointmentID)
		return t, nil
	}
	return nil, fmt.Errorf("update task: %w", err)
}

// backoff is BackoffBase * 2^(attempts-1), capped at BackoffMax.
func (o *Orchestrator) backoff(attempts int) time.Duration {
	d := o.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.cfg.BackoffMax || d <= 0 {
			return o.cfg.BackoffMax
		}
	}
	if d > o.cfg.BackoffMax {
		return o.cfg.BackoffMax
	}
	return d
}

type RunStats struct {
	Due     int
	Sent    int
	Retried int
	Failed  int
	Skipped int
}

// RunDue dispatches every task due at now across a bounded worker pool.
// Individual task errors are logged and do not stop the run.
func (o *Orchestrator) RunDue(ctx context.Context, now time.Time) (RunStats, error) {
	tasks, err := o.DueTasks(ctx, now)
	if err != nil {
		return RunStats{}, fmt.Errorf("due tasks: %w", err)
	}

	stats := RunStats{Due: len(tasks)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, t := range tasks {
		id := t.ID
		g.Go(func() error {
			res, err := o.Dispatch(gctx, id)
			if err != nil {
				o.log.Error("dispatch failed", "task_id", id, "error", err)
				return nil
			}
			if res == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			switch res.Status {
			case StatusSent:
				stats.Sent++
			case StatusFailed:
				stats.Failed++
			case StatusSkipped:
				stats.Skipped++
			case StatusPending:
				stats.Retried++
			}
			return nil
		})
	}
	_ = g.Wait()

	if stats.Due > 0 {
		o.log.Info("notification run finished",
			"due", stats.Due,
			"sent", stats.Sent,
			"retried", stats.Retried,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
		)
	}
	return stats, ctx.Err()
}

// DispatchAppointment sends whatever is already due for one appointment,
// typically the confirmations right after booking.
func (o *Orchestrator) DispatchAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	tasks, err := o.store.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	now := o.now()
	for i := range tasks {
		if !tasks[i].Due(now) {
			continue
		}
		res, err := o.Dispatch(ctx, tasks[i].ID)
		if err != nil {
			return tasks, err
		}
		if res != nil {
			tasks[i] = *res
		}
	}
	return tasks, nil
}

// CancelAppointment skips every pending task of the appointment. Sent tasks
// are left as they are.
func (o *Orchestrator) CancelAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	n, err := o.store.SkipPending(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("skip pending tasks: %w", err)
	}
	o.log.Info("pending notifications skipped", "appointment_id", appointmentID, "count", n)
	return n, nil
}
