package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

const (
	NewPatientDuration       = 60 * time.Minute
	ReturningPatientDuration = 30 * time.Minute
)

// DurationFor is fixed booking policy: new patients need the longer visit.
func DurationFor(isNewPatient bool) time.Duration {
	if isNewPatient {
		return NewPatientDuration
	}
	return ReturningPatientDuration
}

var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

// ParseStatus accepts the lower-case wire form of a status.
func ParseStatus(v string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(v); st {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, v)
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	Start        time.Time
	Duration     time.Duration
	IsNewPatient bool
	Status       AppointmentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

// ActiveStatuses are the statuses that count as a visit on file.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCompleted, StatusNoShow}

// Filter narrows appointment listings. Zero fields match everything.
type Filter struct {
	From      time.Time // start_time >= From
	To        time.Time // start_time < To
	Statuses  []AppointmentStatus
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Ascending bool
	Limit     int
	Offset    int
}

func (f Filter) matches(a *Appointment) bool {
	if !f.From.IsZero() && a.Start.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.Start.Before(f.To) {
		return false
	}
	if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
