package notification

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindIntakeForm   Kind = "intake_form"
	KindReminder     Kind = "reminder"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal statuses are never left again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSkipped
}

// Task is one message to one channel for one appointment. The triple
// (AppointmentID, Channel, Kind) is unique.
type Task struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Channel       Channel
	Kind          Kind
	Status        Status
	Attempts      int
	LastError     string
	ScheduledFor  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Due reports whether a pending task may be dispatched at now.
func (t *Task) Due(now time.Time) bool {
	return t.Status == StatusPending && !t.ScheduledFor.After(now)
}

// Recipient is the contact data a task is delivered to.
type Recipient struct {
	PatientID uuid.UUID
	Name      string
	Email     string
	Phone     string
	DOB       time.Time
	Insurance Insurance
}

type Insurance struct {
	Payer       string
	MemberID    string
	GroupNumber string
}

// Address returns the recipient's address on channel, empty when none is on
// file.
func (r Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	}
	return ""
}

// Visit describes the booked appointment for message rendering.
type Visit struct {
	AppointmentID uuid.UUID
	DoctorName    string
	Start         time.Time
	Duration      time.Duration
	IsNewPatient  bool
	Cancelled     bool
}
