package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/notification"
	"github.com/hackgods/medical-appointment-booking/internal/patient"
)

// Directory joins appointments, patients and doctors into what the
// notification workflow needs at send time.
type Directory struct {
	patients     patient.Store
	appointments appointment.Repository
}

func NewDirectory(patients patient.Store, appointments appointment.Repository) *Directory {
	return &Directory{patients: patients, appointments: appointments}
}

func (d *Directory) Lookup(ctx context.Context, appointmentID uuid.UUID) (notification.Recipient, notification.Visit, error) {
	appt, err := d.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return notification.Recipient{}, notification.Visit{}, fmt.Errorf("load appointment: %w", err)
	}
	p, err := d.patients.Load(ctx, appt.PatientID)
	if err != nil {
		return notification.Recipient{}, notification.Visit{}, fmt.Errorf("load patient: %w", err)
	}
	doctor, err := d.appointments.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return notification.Recipient{}, notification.Visit{}, fmt.Errorf("load doctor: %w", err)
	}
	return recipientOf(p), visitOf(appt, doctor), nil
}

func recipientOf(p *patient.Patient) notification.Recipient {
	return notification.Recipient{
		PatientID: p.ID,
		Name:      p.FullName,
		Email:     p.Email,
		Phone:     p.Phone,
		DOB:       p.DOB,
		Insurance: notification.Insurance{
			Payer:       p.InsurancePayer,
			MemberID:    p.InsuranceMemberID,
			GroupNumber: p.InsuranceGroupNumber,
		},
	}
}

func visitOf(a *appointment.Appointment, d *appointment.Doctor) notification.Visit {
	return notification.Visit{
		AppointmentID: a.ID,
		DoctorName:    d.Name,
		Start:         a.Start,
		Duration:      a.Duration,
		IsNewPatient:  a.IsNewPatient,
		Cancelled:     a.Status == appointment.StatusCancelled,
	}
}
