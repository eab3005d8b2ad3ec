package calendar

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateFree   State = "free"
	StateBooked State = "booked"
)

// Interval is a half-open [Start, End) span on a doctor's calendar.
type Interval struct {
	Start         time.Time
	End           time.Time
	State         State
	AppointmentID uuid.UUID // set only when booked
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) IsFree() bool {
	return i.State == StateFree
}

func (i Interval) Contains(start, end time.Time) bool {
	return !start.Before(i.Start) && !end.After(i.End)
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Window restricts candidate search. A zero To means no upper bound.
type Window struct {
	From time.Time
	To   time.Time
}

// DayWindow covers one calendar day in loc.
func DayWindow(day time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Window{From: from, To: from.AddDate(0, 0, 1)}
}

func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Candidate is a bookable start inside a free interval.
type Candidate struct {
	Start    time.Time
	Interval Interval
}
