package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/booking"
	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/patient"
)

func createBookingHandler(svc *booking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		window, err := parseWindow(req, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
			return
		}

		res, err := svc.Book(r.Context(), booking.Request{
			Patient: patient.Input{
				FullName:             req.FullName,
				DOB:                  req.DOB,
				Phone:                req.Phone,
				Email:                req.Email,
				InsurancePayer:       req.InsurancePayer,
				InsuranceMemberID:    req.InsuranceMemberID,
				InsuranceGroupNumber: req.InsuranceGroupNumber,
			},
			DoctorID: doctorID,
			Window:   window,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			PatientID:     res.Patient.ID,
			IsNewPatient:  res.IsNewPatient,
			Appointment:   toAppointmentResponse(res.Appointment),
			Notifications: toNotificationResponses(res.Tasks),
		})
	}
}

func parseWindow(req CreateBookingRequest, loc *time.Location) (calendar.Window, error) {
	if req.Date != "" {
		day, err := time.ParseInLocation("2006-01-02", req.Date, loc)
		if err != nil {
			return calendar.Window{}, errors.New("date must be YYYY-MM-DD")
		}
		return calendar.DayWindow(day, loc), nil
	}

	var w calendar.Window
	if req.From != "" {
		t, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			return calendar.Window{}, errors.New("from must be RFC3339")
		}
		w.From = t
	}
	if req.To != "" {
		t, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			return calendar.Window{}, errors.New("to must be RFC3339")
		}
		w.To = t
	}
	return w, nil
}

func getAppointmentHandler(alloc *appointment.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := alloc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listNotificationsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		tasks, err := svc.Tasks(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNotificationResponses(tasks))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionHandler(alloc *appointment.Allocator, to appointment.AppointmentStatus) http.HandlerFunc {
	apply := map[appointment.AppointmentStatus]func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error){
		appointment.StatusConfirmed: func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return alloc.Confirm(r.Context(), id)
		},
		appointment.StatusCompleted: func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return alloc.Complete(r.Context(), id)
		},
		appointment.StatusNoShow: func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return alloc.MarkNoShow(r.Context(), id)
		},
	}[to]

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := apply(r, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(alloc *appointment.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_patient_id")
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := alloc.ListByPatient(r.Context(), id, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// listAppointmentsHandler serves GET /appointments?date=&status=&doctor_id=.
// status takes a comma-separated list; the summary covers every match, not
// just the returned page.
func listAppointmentsHandler(svc *booking.Service, alloc *appointment.Allocator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.Filter

		if v := q.Get("date"); v != "" {
			day, err := time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			f.From, f.To = booking.DayBounds(day, loc)
		}
		if v := q.Get("status"); v != "" {
			for _, part := range strings.Split(v, ",") {
				st, err := appointment.ParseStatus(strings.TrimSpace(part))
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
					return
				}
				f.Statuses = append(f.Statuses, st)
			}
		}
		if v := q.Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			f.DoctorID = id
		}
		f.Limit, _ = strconv.Atoi(q.Get("limit"))
		f.Offset, _ = strconv.Atoi(q.Get("offset"))

		appts, err := alloc.List(r.Context(), f)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		sum, err := svc.Summarize(r.Context(), f, loc)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Summary:      toSummaryResponse(sum),
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// dailyReportHandler serves GET /reports/daily?date=, defaulting to today.
func dailyReportHandler(svc *booking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := time.Now().In(loc)
		if v := r.URL.Query().Get("date"); v != "" {
			parsed, err := time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			day = parsed
		}

		report, err := svc.DailyReport(r.Context(), day, loc)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDailyReportResponse(report))
	}
}

func listDoctorsHandler(alloc *appointment.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := alloc.Doctors(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}
		out := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			out = append(out, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty, Timezone: d.Timezone})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getCalendarHandler(alloc *appointment.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_doctor_id")
		if !ok {
			return
		}
		cal, err := alloc.Calendar(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCalendarResponse(cal))
	}
}

func openAvailabilityHandler(alloc *appointment.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_doctor_id")
		if !ok {
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err1 := time.Parse(time.RFC3339, req.Start)
		end, err2 := time.Parse(time.RFC3339, req.End)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "invalid_interval", "start and end must be RFC3339")
			return
		}

		if err := alloc.OpenAvailability(r.Context(), id, start, end); err != nil {
			handleServiceError(w, err)
			return
		}
		cal, err := alloc.Calendar(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCalendarResponse(cal))
	}
}

func parseID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, patient.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_patient", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest),
		errors.Is(err, calendar.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, patient.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrNoAvailability):
		writeError(w, http.StatusConflict, "no_availability", err.Error())
	case errors.Is(err, appointment.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", "doctor calendar is busy, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, calendar.ErrOverlap):
		writeError(w, http.StatusConflict, "availability_overlap", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
