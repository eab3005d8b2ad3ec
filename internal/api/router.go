package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/booking"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

type RouterConfig struct {
	Booking   *booking.Service
	Allocator *appointment.Allocator
	Checks    map[string]Check // readiness checks, e.g. postgres and redis
	Metrics   http.Handler     // mounted at /metrics when set
	Logger    *logging.Logger
	Location  *time.Location
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Post("/bookings", createBookingHandler(cfg.Booking, cfg.Location))

	r.Get("/appointments", listAppointmentsHandler(cfg.Booking, cfg.Allocator, cfg.Location))
	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(cfg.Allocator))
		r.Get("/notifications", listNotificationsHandler(cfg.Booking))
		r.Post("/cancel", cancelAppointmentHandler(cfg.Booking))
		r.Post("/confirm", transitionHandler(cfg.Allocator, appointment.StatusConfirmed))
		r.Post("/complete", transitionHandler(cfg.Allocator, appointment.StatusCompleted))
		r.Post("/no-show", transitionHandler(cfg.Allocator, appointment.StatusNoShow))
	})

	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Allocator))

	r.Get("/reports/daily", dailyReportHandler(cfg.Booking, cfg.Location))

	r.Get("/doctors", listDoctorsHandler(cfg.Allocator))
	r.Get("/doctors/{id}/calendar", getCalendarHandler(cfg.Allocator))
	r.Post("/doctors/{id}/availability", openAvailabilityHandler(cfg.Allocator))

	return r
}
