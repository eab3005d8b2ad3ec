package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/events"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	"github.com/hackgods/medical-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentStatus    = "APPOINTMENT_STATUS_CHANGED"
	EventAvailabilityOpened   = "AVAILABILITY_OPENED"
)

var (
	ErrNoAvailability          = errors.New("no free slot of sufficient length in the requested window")
	ErrCalendarBusy            = errors.New("doctor calendar is busy, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidRequest          = errors.New("invalid allocation request")
)

type Config struct {
	LockWait        time.Duration
	SlotGranularity time.Duration
}

type Request struct {
	DoctorID     uuid.UUID
	PatientID    uuid.UUID
	IsNewPatient bool
	Window       calendar.Window // zero means the whole future horizon
}

// Allocator is the only writer of doctor calendars.
type Allocator struct {
	repo      Repository
	calendars calendar.Store
	locker    redisclient.Locker
	publisher events.Publisher
	metrics   *metrics.BookingMetrics
	log       *logging.Logger
	cfg       Config
	now       func() time.Time
}

func NewAllocator(repo Repository, calendars calendar.Store, locker redisclient.Locker, publisher events.Publisher, m *metrics.BookingMetrics, log *logging.Logger, cfg Config) *Allocator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Allocator{
		repo:      repo,
		calendars: calendars,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Allocate books the earliest free slot for the patient on the doctor's
// calendar. The calendar lock is held from candidate selection to commit.
func (s *Allocator) Allocate(ctx context.Context, req Request) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidRequest)
	}
	if !req.Window.To.IsZero() && !req.Window.To.After(req.Window.From) {
		return nil, fmt.Errorf("%w: window end must be after its start", ErrInvalidRequest)
	}

	if _, err := s.repo.GetDoctor(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	duration := DurationFor(req.IsNewPatient)
	window := req.Window
	if now := s.now(); window.From.Before(now) {
		// never book in the past, whatever window was asked for
		window.From = now
	}

	var created *Appointment
	err := s.withCalendar(ctx, req.DoctorID, func(lockCtx context.Context, cal *calendar.Calendar) error {
		candidates := cal.Candidates(duration, window, s.cfg.SlotGranularity)
		if len(candidates) == 0 {
			return ErrNoAvailability
		}
		slot := candidates[0]

		appt := &Appointment{
			ID:           uuid.New(),
			PatientID:    req.PatientID,
			DoctorID:     req.DoctorID,
			Start:        slot.Start,
			Duration:     duration,
			IsNewPatient: req.IsNewPatient,
			Status:       StatusScheduled,
		}
		if err := cal.Book(appt.Start, appt.Duration, appt.ID); err != nil {
			return fmt.Errorf("carve slot: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		s.metrics.ObserveAllocation(allocationOutcome(err))
		return nil, err
	}

	if err := s.repo.CreateAppointment(ctx, created); err != nil {
		s.metrics.ObserveAllocation("error")
		s.compensate(ctx, created)
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.ObserveAllocation("booked")
	s.log.Info("appointment allocated",
		"appointment_id", created.ID,
		"doctor_id", created.DoctorID,
		"patient_id", created.PatientID,
		"start", created.Start,
		"duration_minutes", int(created.Duration/time.Minute),
	)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":        created.DoctorID.String(),
		"patient_id":       created.PatientID.String(),
		"start":            created.Start,
		"duration_minutes": int(created.Duration / time.Minute),
		"is_new_patient":   created.IsNewPatient,
	})

	return created, nil
}

// withCalendar runs mutate under the doctor's lock and commits the result.
// A lost compare-and-swap re-reads the calendar and retries once; a second
// loss is reported as ErrNoAvailability.
func (s *Allocator) withCalendar(ctx context.Context, doctorID uuid.UUID, mutate func(context.Context, *calendar.Calendar) error) error {
	err := s.locker.WithLock(ctx, redisclient.CalendarLockKey(doctorID), s.cfg.LockWait, func(lockCtx context.Context) error {
		for attempt := 0; attempt < 2; attempt++ {
			cal, err := s.calendars.LoadCalendar(lockCtx, doctorID)
			if err != nil {
				if errors.Is(err, calendar.ErrCalendarNotFound) {
					return ErrDoctorNotFound
				}
				return fmt.Errorf("load calendar: %w", err)
			}

			if err := mutate(lockCtx, cal); err != nil {
				return err
			}
			if err := cal.Validate(); err != nil {
				return fmt.Errorf("calendar %s after mutation: %w", doctorID, err)
			}

			err = s.calendars.CommitCalendar(lockCtx, cal)
			if err == nil {
				return nil
			}
			if !errors.Is(err, calendar.ErrVersionConflict) {
				return fmt.Errorf("commit calendar: %w", err)
			}
			s.log.Warn("calendar commit lost a race, retrying", "doctor_id", doctorID, "attempt", attempt+1)
		}
		return ErrNoAvailability
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrCalendarBusy
	}
	return err
}

// compensate frees a slot whose appointment row could not be written.
func (s *Allocator) compensate(ctx context.Context, appt *Appointment) {
	err := s.withCalendar(context.WithoutCancel(ctx), appt.DoctorID, func(_ context.Context, cal *calendar.Calendar) error {
		_, err := cal.Release(appt.ID)
		return err
	})
	if err != nil {
		s.log.Error("failed to release orphaned booking", "appointment_id", appt.ID, "doctor_id", appt.DoctorID, "error", err)
	}
}

// Cancel marks the appointment cancelled and returns its time to the
// doctor's calendar, merged with adjacent free time. Cancelling twice is a
// no-op.
//
// The status moves first and the interval stays booked until it does. If the
// release fails the previous status is restored.
func (s *Allocator) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, from, err := s.markCancelled(ctx, id)
	if err != nil {
		return nil, err
	}
	if from == StatusCancelled {
		return updated, nil
	}

	err = s.withCalendar(ctx, updated.DoctorID, func(_ context.Context, cal *calendar.Calendar) error {
		if _, err := cal.Release(updated.ID); err != nil {
			if errors.Is(err, calendar.ErrBookingNotFound) {
				s.log.Warn("cancelled appointment had no booked interval", "appointment_id", updated.ID)
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		if _, rerr := s.repo.UpdateAppointmentStatus(ctx, updated.ID, StatusCancelled, from); rerr != nil {
			s.log.Error("failed to restore status after release error", "appointment_id", updated.ID, "error", rerr)
		}
		return nil, fmt.Errorf("release slot: %w", err)
	}

	s.log.Info("appointment cancelled", "appointment_id", updated.ID, "doctor_id", updated.DoctorID)
	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"previous_status": string(from),
	})
	return updated, nil
}

// markCancelled compare-and-swaps the status to cancelled, re-reading when
// another transition lands first. It returns the status it moved from;
// StatusCancelled means the appointment was already cancelled.
func (s *Allocator) markCancelled(ctx context.Context, id uuid.UUID) (*Appointment, AppointmentStatus, error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		appt, err := s.repo.GetAppointment(ctx, id)
		if err != nil {
			return nil, "", fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status == StatusCancelled {
			return appt, StatusCancelled, nil
		}
		if !appt.Status.CanTransitionTo(StatusCancelled) {
			return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, StatusCancelled)
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled)
		if err == nil {
			return updated, appt.Status, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, "", fmt.Errorf("cancel appointment: %w", err)
		}
	}
	return nil, "", fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, id)
}

func (s *Allocator) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed)
}

func (s *Allocator) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Allocator) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow)
}

// transition handles status changes that leave the calendar untouched.
func (s *Allocator) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved underneath us
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, appt.ID)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatus, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})
	return updated, nil
}

// OpenAvailability adds free working time to a doctor's calendar.
func (s *Allocator) OpenAvailability(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return err
	}
	err := s.withCalendar(ctx, doctorID, func(_ context.Context, cal *calendar.Calendar) error {
		return cal.AddAvailability(start, end)
	})
	if err != nil {
		return fmt.Errorf("open availability: %w", err)
	}
	s.log.Info("availability opened", "doctor_id", doctorID, "start", start, "end", end)
	return nil
}

// Calendar returns a read-only snapshot of the doctor's calendar.
func (s *Allocator) Calendar(ctx context.Context, doctorID uuid.UUID) (*calendar.Calendar, error) {
	cal, err := s.calendars.LoadCalendar(ctx, doctorID)
	if err != nil {
		if errors.Is(err, calendar.ErrCalendarNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	return cal, nil
}

// Get retrieves an appointment by ID
func (s *Allocator) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Allocator) Doctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}

// ListByPatient retrieves appointments for a specific patient
func (s *Allocator) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointments(ctx, Filter{PatientID: patientID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// List returns appointments matching f, earliest first. Limit is clamped
// to [1, 500] with a default of 50.
func (s *Allocator) List(ctx context.Context, f Filter) ([]Appointment, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = 50
	case f.Limit > 500:
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Ascending = true

	appointments, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func (s *Allocator) Count(ctx context.Context, f Filter) (int, error) {
	f.Limit, f.Offset = 0, 0
	n, err := s.repo.CountAppointments(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

// CountVisits counts the patient's appointments that were not cancelled.
func (s *Allocator) CountVisits(ctx context.Context, patientID uuid.UUID) (int, error) {
	return s.Count(ctx, Filter{PatientID: patientID, Statuses: ActiveStatuses})
}

func (s *Allocator) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID
	now := s.now()

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     now,
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("failed to insert event log", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}

	if err := s.publisher.Publish(ctx, events.Event{
		Type:          publishedType(eventType),
		AppointmentID: appointmentID,
		OccurredAt:    now,
		Payload:       payload,
	}); err != nil {
		s.log.Warn("failed to publish event", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}

func publishedType(eventType string) string {
	switch eventType {
	case EventAppointmentCreated:
		return events.AppointmentBooked
	case EventAppointmentCancelled:
		return events.AppointmentCancelled
	default:
		return events.AppointmentStatus
	}
}

func allocationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNoAvailability):
		return "no_availability"
	case errors.Is(err, ErrCalendarBusy):
		return "busy"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
