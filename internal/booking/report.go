package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/patient"
)

// SelfPay labels appointments whose patient has no insurance payer on file.
const SelfPay = "self-pay"

// Summary counts appointments matching a listing filter.
type Summary struct {
	Total             int
	NewPatients       int
	ReturningPatients int
	Confirmed         int
	Today             int
}

type Stats struct {
	Summary
	ByDoctor    map[string]int
	ByInsurance map[string]int
	ByStatus    map[appointment.AppointmentStatus]int
}

type ReportEntry struct {
	AppointmentID  uuid.UUID
	PatientName    string
	DoctorName     string
	Start          time.Time
	Duration       time.Duration
	IsNewPatient   bool
	InsurancePayer string
	Status         appointment.AppointmentStatus
}

type DailyReport struct {
	Date    time.Time // midnight in the clinic location
	Entries []ReportEntry
	Stats   Stats
}

// DayBounds returns [midnight, next midnight) for day in loc.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	day = day.In(loc)
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}

// Summarize counts every appointment matching f, ignoring its paging.
func (s *Service) Summarize(ctx context.Context, f appointment.Filter, loc *time.Location) (Summary, error) {
	f.Limit, f.Offset = 0, 0
	appts, err := s.directory.appointments.ListAppointments(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("list appointments: %w", err)
	}

	todayFrom, todayTo := DayBounds(s.now(), loc)
	var sum Summary
	for i := range appts {
		sum.add(&appts[i])
		if !appts[i].Start.Before(todayFrom) && appts[i].Start.Before(todayTo) {
			sum.Today++
		}
	}
	return sum, nil
}

func (sum *Summary) add(a *appointment.Appointment) {
	sum.Total++
	if a.IsNewPatient {
		sum.NewPatients++
	} else {
		sum.ReturningPatients++
	}
	if a.Status == appointment.StatusConfirmed {
		sum.Confirmed++
	}
}

// DailyReport lists the day's appointments, cancelled ones included, with
// counts by doctor, insurance payer and status.
func (s *Service) DailyReport(ctx context.Context, day time.Time, loc *time.Location) (*DailyReport, error) {
	from, to := DayBounds(day, loc)
	appts, err := s.directory.appointments.ListAppointments(ctx, appointment.Filter{From: from, To: to, Ascending: true})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	doctors, err := s.directory.appointments.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	doctorNames := make(map[uuid.UUID]string, len(doctors))
	for _, d := range doctors {
		doctorNames[d.ID] = d.Name
	}

	report := &DailyReport{
		Date:    from,
		Entries: make([]ReportEntry, 0, len(appts)),
		Stats: Stats{
			ByDoctor:    make(map[string]int),
			ByInsurance: make(map[string]int),
			ByStatus:    make(map[appointment.AppointmentStatus]int),
		},
	}

	patients := make(map[uuid.UUID]*patient.Patient)
	for i := range appts {
		a := &appts[i]
		p, ok := patients[a.PatientID]
		if !ok {
			p, err = s.directory.patients.Load(ctx, a.PatientID)
			if err != nil {
				return nil, fmt.Errorf("load patient %s: %w", a.PatientID, err)
			}
			patients[a.PatientID] = p
		}

		payer := p.InsurancePayer
		if payer == "" {
			payer = SelfPay
		}
		doctorName, ok := doctorNames[a.DoctorID]
		if !ok {
			doctorName = a.DoctorID.String()
		}

		report.Entries = append(report.Entries, ReportEntry{
			AppointmentID:  a.ID,
			PatientName:    p.FullName,
			DoctorName:     doctorName,
			Start:          a.Start,
			Duration:       a.Duration,
			IsNewPatient:   a.IsNewPatient,
			InsurancePayer: payer,
			Status:         a.Status,
		})

		report.Stats.add(a)
		report.Stats.ByDoctor[doctorName]++
		report.Stats.ByInsurance[payer]++
		report.Stats.ByStatus[a.Status]++
	}

	if today, _ := DayBounds(s.now(), loc); today.Equal(from) {
		report.Stats.Today = report.Stats.Total
	}

	s.log.Info("daily report built", "date", from.Format("2006-01-02"), "appointments", len(report.Entries))
	return report, nil
}
