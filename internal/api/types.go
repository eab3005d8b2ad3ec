package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/booking"
	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/notification"
)

type CreateBookingRequest struct {
	FullName             string `json:"full_name"`
	DOB                  string `json:"dob"`
	Phone                string `json:"phone"`
	Email                string `json:"email"`
	InsurancePayer       string `json:"insurance_payer"`
	InsuranceMemberID    string `json:"insurance_member_id"`
	InsuranceGroupNumber string `json:"insurance_group_number"`
	DoctorID             string `json:"doctor_id"`
	Date                 string `json:"date,omitempty"` // YYYY-MM-DD in clinic time
	From                 string `json:"from,omitempty"` // RFC3339
	To                   string `json:"to,omitempty"`   // RFC3339
}

type AvailabilityRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	IsNewPatient    bool      `json:"is_new_patient"`
	Status          string    `json:"status"`
}

type NotificationResponse struct {
	ID           uuid.UUID `json:"id"`
	Channel      string    `json:"channel"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

type BookingResponse struct {
	PatientID     uuid.UUID              `json:"patient_id"`
	IsNewPatient  bool                   `json:"is_new_patient"`
	Appointment   AppointmentResponse    `json:"appointment"`
	Notifications []NotificationResponse `json:"notifications"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	Timezone  string    `json:"timezone"`
}

type IntervalResponse struct {
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	State         string     `json:"state"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type CalendarResponse struct {
	DoctorID    uuid.UUID          `json:"doctor_id"`
	Version     int64              `json:"version"`
	FreeMinutes int                `json:"free_minutes"`
	Intervals   []IntervalResponse `json:"intervals"`
}

type SummaryResponse struct {
	Total             int `json:"total"`
	NewPatients       int `json:"new_patients"`
	ReturningPatients int `json:"returning_patients"`
	Confirmed         int `json:"confirmed"`
	Today             int `json:"today"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Summary      SummaryResponse       `json:"summary"`
}

type ReportEntryResponse struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PatientName     string    `json:"patient_name"`
	DoctorName      string    `json:"doctor_name"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	PatientType     string    `json:"patient_type"`
	InsurancePayer  string    `json:"insurance_payer"`
	Status          string    `json:"status"`
}

type DailyReportResponse struct {
	Date        string                `json:"date"`
	Summary     SummaryResponse       `json:"summary"`
	ByDoctor    map[string]int        `json:"by_doctor"`
	ByInsurance map[string]int        `json:"by_insurance"`
	ByStatus    map[string]int        `json:"by_status"`
	Entries     []ReportEntryResponse `json:"entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Start:           a.Start,
		End:             a.End(),
		DurationMinutes: int(a.Duration / time.Minute),
		IsNewPatient:    a.IsNewPatient,
		Status:          string(a.Status),
	}
}

func toSummaryResponse(s booking.Summary) SummaryResponse {
	return SummaryResponse{
		Total:             s.Total,
		NewPatients:       s.NewPatients,
		ReturningPatients: s.ReturningPatients,
		Confirmed:         s.Confirmed,
		Today:             s.Today,
	}
}

func toDailyReportResponse(r *booking.DailyReport) DailyReportResponse {
	resp := DailyReportResponse{
		Date:        r.Date.Format("2006-01-02"),
		Summary:     toSummaryResponse(r.Stats.Summary),
		ByDoctor:    r.Stats.ByDoctor,
		ByInsurance: r.Stats.ByInsurance,
		ByStatus:    make(map[string]int, len(r.Stats.ByStatus)),
		Entries:     make([]ReportEntryResponse, 0, len(r.Entries)),
	}
	for st, n := range r.Stats.ByStatus {
		resp.ByStatus[string(st)] = n
	}
	for _, e := range r.Entries {
		patientType := "returning"
		if e.IsNewPatient {
			patientType = "new"
		}
		resp.Entries = append(resp.Entries, ReportEntryResponse{
			AppointmentID:   e.AppointmentID,
			PatientName:     e.PatientName,
			DoctorName:      e.DoctorName,
			Start:           e.Start,
			DurationMinutes: int(e.Duration / time.Minute),
			PatientType:     patientType,
			InsurancePayer:  e.InsurancePayer,
			Status:          string(e.Status),
		})
	}
	return resp
}

func toNotificationResponses(tasks []notification.Task) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, NotificationResponse{
			ID:           t.ID,
			Channel:      string(t.Channel),
			Kind:         string(t.Kind),
			Status:       string(t.Status),
			Attempts:     t.Attempts,
			LastError:    t.LastError,
			ScheduledFor: t.ScheduledFor,
		})
	}
	return out
}

func toCalendarResponse(c *calendar.Calendar) CalendarResponse {
	resp := CalendarResponse{
		DoctorID:    c.DoctorID,
		Version:     c.Version,
		FreeMinutes: int(c.FreeTime() / time.Minute),
		Intervals:   make([]IntervalResponse, 0, len(c.Intervals)),
	}
	for _, iv := range c.Intervals {
		ir := IntervalResponse{Start: iv.Start, End: iv.End, State: string(iv.State)}
		if iv.State == calendar.StateBooked {
			id := iv.AppointmentID
			ir.AppointmentID = &id
		}
		resp.Intervals = append(resp.Intervals, ir)
	}
	return resp
}
