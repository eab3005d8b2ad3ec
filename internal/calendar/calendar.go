package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvariantViolated = errors.New("calendar invariant violated")
	ErrOverlap           = errors.New("interval overlaps existing calendar entry")
	ErrSlotUnavailable   = errors.New("requested time is not free")
	ErrBookingNotFound   = errors.New("booking not found on calendar")
	ErrInvalidInterval   = errors.New("interval end must be after start")
)

// Calendar is one doctor's ordered, non-overlapping set of intervals.
// Version increases on every successful commit.
type Calendar struct {
	DoctorID  uuid.UUID
	Version   int64
	Intervals []Interval
}

func New(doctorID uuid.UUID) *Calendar {
	return &Calendar{DoctorID: doctorID}
}

func (c *Calendar) Clone() *Calendar {
	out := &Calendar{DoctorID: c.DoctorID, Version: c.Version}
	out.Intervals = append([]Interval(nil), c.Intervals...)
	return out
}

// Validate checks that intervals are well formed, sorted and disjoint.
func (c *Calendar) Validate() error {
	for i, iv := range c.Intervals {
		if !iv.End.After(iv.Start) {
			return fmt.Errorf("%w: empty interval at %s", ErrInvariantViolated, iv.Start)
		}
		if iv.State == StateBooked && iv.AppointmentID == uuid.Nil {
			return fmt.Errorf("%w: booked interval at %s has no appointment", ErrInvariantViolated, iv.Start)
		}
		if i > 0 && iv.Start.Before(c.Intervals[i-1].End) {
			return fmt.Errorf("%w: %s overlaps or precedes previous interval", ErrInvariantViolated, iv.Start)
		}
	}
	return nil
}

// Candidates lists bookable starts of the given duration, earliest first.
// When the window starts inside a free interval the start is rounded up to
// granularity.
func (c *Calendar) Candidates(duration time.Duration, w Window, granularity time.Duration) []Candidate {
	var out []Candidate
	for _, iv := range c.Intervals {
		if !iv.IsFree() {
			continue
		}
		start := iv.Start
		if w.From.After(start) {
			start = alignUp(w.From, granularity)
		}
		end := iv.End
		if !w.To.IsZero() && w.To.Before(end) {
			end = w.To
		}
		if start.Add(duration).After(end) {
			continue
		}
		out = append(out, Candidate{Start: start, Interval: iv})
	}
	return out
}

func alignUp(t time.Time, granularity time.Duration) time.Time {
	if granularity <= 0 {
		return t
	}
	if tr := t.Truncate(granularity); !tr.Equal(t) {
		return tr.Add(granularity)
	}
	return t
}

// Book carves [start, start+duration) out of the free interval containing it.
// Any remaining head or tail stays free.
func (c *Calendar) Book(start time.Time, duration time.Duration, appointmentID uuid.UUID) error {
	end := start.Add(duration)
	if !end.After(start) {
		return ErrInvalidInterval
	}
	for i, iv := range c.Intervals {
		if !iv.IsFree() || !iv.Contains(start, end) {
			continue
		}
		parts := make([]Interval, 0, 3)
		if start.After(iv.Start) {
			parts = append(parts, Interval{Start: iv.Start, End: start, State: StateFree})
		}
		parts = append(parts, Interval{Start: start, End: end, State: StateBooked, AppointmentID: appointmentID})
		if end.Before(iv.End) {
			parts = append(parts, Interval{Start: end, End: iv.End, State: StateFree})
		}
		c.replace(i, i+1, parts...)
		return nil
	}
	return fmt.Errorf("%w: %s-%s", ErrSlotUnavailable, start.Format(time.RFC3339), end.Format(time.RFC3339))
}

// Release frees the interval booked for appointmentID and coalesces it with
// adjacent free intervals.
func (c *Calendar) Release(appointmentID uuid.UUID) (Interval, error) {
	for i, iv := range c.Intervals {
		if iv.State != StateBooked || iv.AppointmentID != appointmentID {
			continue
		}
		released := iv
		c.Intervals[i] = Interval{Start: iv.Start, End: iv.End, State: StateFree}
		c.coalesceAround(i)
		return released, nil
	}
	return Interval{}, fmt.Errorf("%w: %s", ErrBookingNotFound, appointmentID)
}

// AddAvailability opens [start, end) as free time. It must not overlap
// anything already on the calendar.
func (c *Calendar) AddAvailability(start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidInterval
	}
	nw := Interval{Start: start, End: end, State: StateFree}
	for _, iv := range c.Intervals {
		if iv.Overlaps(nw) {
			return fmt.Errorf("%w: %s-%s", ErrOverlap, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
	}
	i := sort.Search(len(c.Intervals), func(i int) bool { return !c.Intervals[i].Start.Before(start) })
	c.replace(i, i, nw)
	c.coalesceAround(i)
	return nil
}

// BookingFor returns the booked interval of an appointment.
func (c *Calendar) BookingFor(appointmentID uuid.UUID) (Interval, bool) {
	for _, iv := range c.Intervals {
		if iv.State == StateBooked && iv.AppointmentID == appointmentID {
			return iv, true
		}
	}
	return Interval{}, false
}

// FreeTime sums the free duration, used for reporting.
func (c *Calendar) FreeTime() time.Duration {
	var total time.Duration
	for _, iv := range c.Intervals {
		if iv.IsFree() {
			total += iv.Duration()
		}
	}
	return total
}

func (c *Calendar) replace(from, to int, parts ...Interval) {
	out := make([]Interval, 0, len(c.Intervals)-(to-from)+len(parts))
	out = append(out, c.Intervals[:from]...)
	out = append(out, parts...)
	out = append(out, c.Intervals[to:]...)
	c.Intervals = out
}

// coalesceAround merges the free interval at i with free neighbours that
// touch it exactly.
func (c *Calendar) coalesceAround(i int) {
	if i+1 < len(c.Intervals) {
		cur, next := c.Intervals[i], c.Intervals[i+1]
		if cur.IsFree() && next.IsFree() && cur.End.Equal(next.Start) {
			c.Intervals[i].End = next.End
			c.replace(i+1, i+2)
		}
	}
	if i > 0 {
		prev, cur := c.Intervals[i-1], c.Intervals[i]
		if prev.IsFree() && cur.IsFree() && prev.End.Equal(cur.Start) {
			c.Intervals[i-1].End = cur.End
			c.replace(i, i+1)
		}
	}
}
