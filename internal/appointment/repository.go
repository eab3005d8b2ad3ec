package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

// Repository contains all DB interactions needed by the allocator.
type Repository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	SaveDoctor(ctx context.Context, d *Doctor) error

	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointmentStatus moves from -> to and fails with
	// ErrAppointmentNotFound when the current status is not from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// ListAppointments returns matches ordered by start time, newest first
	// unless the filter asks for ascending order.
	ListAppointments(ctx context.Context, f Filter) ([]Appointment, error)
	CountAppointments(ctx context.Context, f Filter) (int, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
