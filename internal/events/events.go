package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentBooked    = "appointment.booked"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentStatus    = "appointment.status_changed"
	NotificationFailed   = "notification.failed"
)

// Event is the envelope published for booking lifecycle changes.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Publisher fans booking events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
