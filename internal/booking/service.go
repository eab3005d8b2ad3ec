package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	"github.com/hackgods/medical-appointment-booking/internal/metrics"
	"github.com/hackgods/medical-appointment-booking/internal/notification"
	"github.com/hackgods/medical-appointment-booking/internal/patient"
)

type Request struct {
	Patient  patient.Input
	DoctorID uuid.UUID
	Window   calendar.Window
}

type Result struct {
	Patient      *patient.Patient
	IsNewPatient bool
	Appointment  *appointment.Appointment
	Tasks        []notification.Task
}

// Service runs the booking pipeline: resolve the patient, allocate a slot,
// then schedule and kick off notifications.
type Service struct {
	resolver     *patient.Resolver
	allocator    *appointment.Allocator
	orchestrator *notification.Orchestrator
	directory    *Directory
	metrics      *metrics.BookingMetrics
	log          *logging.Logger
	now          func() time.Time
}

func NewService(resolver *patient.Resolver, allocator *appointment.Allocator, orchestrator *notification.Orchestrator, directory *Directory, m *metrics.BookingMetrics, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		resolver:     resolver,
		allocator:    allocator,
		orchestrator: orchestrator,
		directory:    directory,
		metrics:      m,
		log:          log,
		now:          time.Now,
	}
}

// Book returns once the appointment is committed. Notification problems are
// logged and left to the worker; they never fail the booking.
func (s *Service) Book(ctx context.Context, req Request) (*Result, error) {
	res, err := s.resolver.Resolve(ctx, req.Patient)
	if err != nil {
		return nil, fmt.Errorf("resolve patient: %w", err)
	}
	isNew, err := s.isNewPatient(ctx, res)
	if err != nil {
		return nil, err
	}
	res.Patient.IsNewPatient = isNew
	s.metrics.ObserveResolution(isNew)

	appt, err := s.allocator.Allocate(ctx, appointment.Request{
		DoctorID:     req.DoctorID,
		PatientID:    res.Patient.ID,
		IsNewPatient: isNew,
		Window:       req.Window,
	})
	if err != nil {
		return nil, err
	}

	out := &Result{
		Patient:      res.Patient,
		IsNewPatient: isNew,
		Appointment:  appt,
	}

	recipient, visit, err := s.directory.Lookup(ctx, appt.ID)
	if err != nil {
		s.log.Error("booked appointment could not be scheduled for notifications", "appointment_id", appt.ID, "error", err)
		return out, nil
	}
	if _, err := s.orchestrator.Schedule(ctx, recipient, visit); err != nil {
		s.log.Error("failed to schedule notifications", "appointment_id", appt.ID, "error", err)
		return out, nil
	}

	tasks, err := s.orchestrator.DispatchAppointment(ctx, appt.ID)
	if err != nil {
		s.log.Warn("immediate dispatch incomplete, worker will retry", "appointment_id", appt.ID, "error", err)
	}
	out.Tasks = tasks
	return out, nil
}

// isNewPatient treats a matched record with no visit on file as new. The
// resolver saves the record before allocation, so a booking that failed
// after resolving must not turn the retry into a returning visit.
func (s *Service) isNewPatient(ctx context.Context, res *patient.Resolution) (bool, error) {
	if res.IsNewPatient {
		return true, nil
	}
	visits, err := s.allocator.CountVisits(ctx, res.Patient.ID)
	if err != nil {
		return false, fmt.Errorf("count visits: %w", err)
	}
	return visits == 0, nil
}

// Cancel frees the slot and skips notifications that have not gone out yet.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.allocator.Cancel(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.orchestrator.CancelAppointment(ctx, appointmentID); err != nil {
		// dispatch re-checks the appointment status, so stragglers are skipped there
		s.log.Warn("failed to skip pending notifications", "appointment_id", appointmentID, "error", err)
	}
	return appt, nil
}

func (s *Service) Tasks(ctx context.Context, appointmentID uuid.UUID) ([]notification.Task, error) {
	if _, err := s.allocator.Get(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.orchestrator.Tasks(ctx, appointmentID)
}
