package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/events"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

var bookingDay = time.Date(2026, time.October, 20, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return bookingDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// noLocker runs the critical section without any mutual exclusion so the
// calendar store's compare-and-swap is the only guard.
type noLocker struct{}

func (noLocker) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

// conflictingStore loses the first n commits.
type conflictingStore struct {
	*calendar.MemoryStore
	mu        sync.Mutex
	conflicts int
	commits   int
}

func (s *conflictingStore) CommitCalendar(ctx context.Context, cal *calendar.Calendar) error {
	s.mu.Lock()
	s.commits++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return calendar.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.CommitCalendar(ctx, cal)
}

type fixture struct {
	repo      *MemoryRepository
	calendars *calendar.MemoryStore
	publisher *recordingPublisher
	alloc     *Allocator
	doctorID  uuid.UUID
}

func newFixture(t *testing.T, spans ...[2]time.Time) *fixture {
	t.Helper()
	f := &fixture{
		repo:      NewMemoryRepository(),
		calendars: calendar.NewMemoryStore(),
		publisher: &recordingPublisher{},
	}
	doctor := &Doctor{Name: "Dr. Meera Iyer", Timezone: "UTC"}
	require.NoError(t, f.repo.SaveDoctor(context.Background(), doctor))
	f.doctorID = doctor.ID

	cal := calendar.New(doctor.ID)
	for _, s := range spans {
		require.NoError(t, cal.AddAvailability(s[0], s[1]))
	}
	f.calendars.Put(cal)

	f.alloc = f.newAllocator(f.calendars, redisclient.NewLocalLocker())
	return f
}

func (f *fixture) newAllocator(store calendar.Store, locker redisclient.Locker) *Allocator {
	a := NewAllocator(f.repo, store, locker, f.publisher, nil, logging.Discard(), Config{
		LockWait:        2 * time.Second,
		SlotGranularity: 15 * time.Minute,
	})
	a.now = func() time.Time { return bookingDay.Add(-24 * time.Hour) }
	return a
}

func (f *fixture) calendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := f.calendars.LoadCalendar(context.Background(), f.doctorID)
	require.NoError(t, err)
	require.NoError(t, cal.Validate())
	return cal
}

func TestAllocateNewPatientTakesWholeHour(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})

	appt, err := f.alloc.Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
	require.NoError(t, err)

	assert.Equal(t, at(9, 0), appt.Start)
	assert.Equal(t, 60*time.Minute, appt.Duration)
	assert.Equal(t, StatusScheduled, appt.Status)

	cal := f.calendar(t)
	require.Len(t, cal.Intervals, 1)
	assert.Equal(t, calendar.StateBooked, cal.Intervals[0].State)
	assert.Equal(t, appt.ID, cal.Intervals[0].AppointmentID)
	assert.Zero(t, cal.FreeTime())
}

func TestAllocateReturningPatientLeavesTail(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(11, 0)})

	appt, err := f.alloc.Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, at(9, 0), appt.Start)
	assert.Equal(t, 30*time.Minute, appt.Duration)

	cal := f.calendar(t)
	require.Len(t, cal.Intervals, 2)
	booked, ok := cal.BookingFor(appt.ID)
	require.True(t, ok)
	assert.Equal(t, appt.Start, booked.Start)
	assert.Equal(t, appt.End(), booked.End)
	assert.Equal(t, at(9, 30), cal.Intervals[1].Start)
	assert.Equal(t, at(11, 0), cal.Intervals[1].End)
}

func TestAllocateDurationPolicy(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(8, 0), at(17, 0)})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		isNew := i%2 == 0
		appt, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: isNew})
		require.NoError(t, err)
		assert.Equal(t, DurationFor(isNew), appt.Duration)

		booked, ok := f.calendar(t).BookingFor(appt.ID)
		require.True(t, ok)
		assert.Equal(t, appt.Duration, booked.Duration())
	}
}

func TestAllocateHonoursWindow(t *testing.T) {
	f := newFixture(t,
		[2]time.Time{at(9, 0), at(10, 0)},
		[2]time.Time{at(14, 0), at(16, 0)},
	)

	appt, err := f.alloc.Allocate(context.Background(), Request{
		DoctorID:  f.doctorID,
		PatientID: uuid.New(),
		Window:    calendar.Window{From: at(12, 0), To: at(18, 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, at(14, 0), appt.Start)

	_, err = f.alloc.Allocate(context.Background(), Request{
		DoctorID:     f.doctorID,
		PatientID:    uuid.New(),
		IsNewPatient: true,
		Window:       calendar.DayWindow(bookingDay.AddDate(0, 0, 1), time.UTC),
	})
	assert.ErrorIs(t, err, ErrNoAvailability)
}

func TestAllocateErrors(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(9, 30)})
	ctx := context.Background()

	_, err := f.alloc.Allocate(ctx, Request{DoctorID: uuid.New(), PatientID: uuid.New()})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
	assert.ErrorIs(t, err, ErrNoAvailability, "30 free minutes cannot hold a new patient")

	_, err = f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), Window: calendar.Window{From: at(10, 0), To: at(9, 0)}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAllocateNeverBooksInThePast(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(11, 0)})
	f.alloc.now = func() time.Time { return at(9, 40) }

	appt, err := f.alloc.Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, at(9, 45), appt.Start)
}

func TestCancelRestoresAndCoalesces(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(11, 0)})
	ctx := context.Background()

	first, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
	require.NoError(t, err)
	second, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, at(10, 0), second.Start)

	cancelled, err := f.alloc.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.alloc.Cancel(ctx, second.ID)
	require.NoError(t, err)

	cal := f.calendar(t)
	require.Len(t, cal.Intervals, 1, "calendar coalesces back to its original boundaries")
	assert.Equal(t, at(9, 0), cal.Intervals[0].Start)
	assert.Equal(t, at(11, 0), cal.Intervals[0].End)

	again, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
	require.NoError(t, err)
	assert.Equal(t, at(9, 0), again.Start, "freed interval is bookable again")

	// cancelling twice is harmless
	_, err = f.alloc.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, f.calendar(t).Intervals, 2)

	_, err = f.alloc.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

// racingRepo applies a status change right after the first read of an
// appointment, as if another request landed between read and write.
type racingRepo struct {
	*MemoryRepository
	once sync.Once
	to   AppointmentStatus
}

func (r *racingRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := r.MemoryRepository.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() {
		_, _ = r.MemoryRepository.UpdateAppointmentStatus(ctx, id, appt.Status, r.to)
	})
	return appt, nil
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, time.Duration, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestCancelRacingStatusChangeKeepsCalendarConsistent(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed underneath", func(t *testing.T) {
		f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})
		appt, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
		require.NoError(t, err)

		alloc := NewAllocator(&racingRepo{MemoryRepository: f.repo, to: StatusConfirmed}, f.calendars, redisclient.NewLocalLocker(), nil, nil, logging.Discard(), Config{LockWait: time.Second})
		cancelled, err := alloc.Cancel(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		cal := f.calendar(t)
		_, booked := cal.BookingFor(appt.ID)
		assert.False(t, booked)
		assert.Equal(t, time.Hour, cal.FreeTime())
	})

	t.Run("completed underneath", func(t *testing.T) {
		f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})
		appt, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
		require.NoError(t, err)

		alloc := NewAllocator(&racingRepo{MemoryRepository: f.repo, to: StatusCompleted}, f.calendars, redisclient.NewLocalLocker(), nil, nil, logging.Discard(), Config{LockWait: time.Second})
		_, err = alloc.Cancel(ctx, appt.ID)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)

		stored, err := f.repo.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)
		_, booked := f.calendar(t).BookingFor(appt.ID)
		assert.True(t, booked, "a live appointment keeps its interval")

		again, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New()})
		assert.ErrorIs(t, err, ErrNoAvailability)
		assert.Nil(t, again)
	})
}

func TestCancelRestoresStatusWhenCalendarBusy(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})
	ctx := context.Background()
	appt, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)

	busy := f.newAllocator(f.calendars, busyLocker{})
	_, err = busy.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrCalendarBusy)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
	_, booked := f.calendar(t).BookingFor(appt.ID)
	assert.True(t, booked)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(12, 0)})
	ctx := context.Background()

	appt, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)

	confirmed, err := f.alloc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = f.alloc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	done, err := f.alloc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.alloc.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition, "completed visits cannot be cancelled")

	other, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)
	noShow, err := f.alloc.MarkNoShow(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, noShow.Status)
}

func TestConcurrentAllocationsNeverOverlap(t *testing.T) {
	for name, locker := range map[string]redisclient.Locker{
		"locked":   redisclient.NewLocalLocker(),
		"cas only": noLocker{},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})
			alloc := f.newAllocator(f.calendars, locker)

			const attempts = 8
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				booked []*Appointment
				errs   []error
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					appt, err := alloc.Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New()})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					booked = append(booked, appt)
				}()
			}
			wg.Wait()

			assert.LessOrEqual(t, len(booked), 2, "only two 30 minute slots exist")
			for _, err := range errs {
				assert.True(t, errors.Is(err, ErrNoAvailability), "unexpected error %v", err)
			}
			for i := range booked {
				for j := i + 1; j < len(booked); j++ {
					a, b := booked[i], booked[j]
					overlap := a.Start.Before(b.End()) && b.Start.Before(a.End())
					assert.False(t, overlap, "%s and %s overlap", a.ID, b.ID)
				}
			}

			cal := f.calendar(t)
			for _, appt := range booked {
				iv, ok := cal.BookingFor(appt.ID)
				require.True(t, ok)
				assert.Equal(t, appt.Start, iv.Start)
			}
		})
	}
}

func TestConcurrentAllocationsWithLockAllSucceedUntilFull(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.alloc.Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New()})
			results <- err
		}()
	}
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	assert.Zero(t, f.calendar(t).FreeTime())
}

func TestAllocateRetriesOnceAfterLostRace(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})

	store := &conflictingStore{MemoryStore: f.calendars, conflicts: 1}
	appt, err := f.newAllocator(store, redisclient.NewLocalLocker()).
		Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, at(9, 0), appt.Start)
	assert.Equal(t, 2, store.commits)

	store = &conflictingStore{MemoryStore: f.calendars, conflicts: 2}
	_, err = f.newAllocator(store, redisclient.NewLocalLocker()).
		Allocate(context.Background(), Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoAvailability)
	assert.Equal(t, 2, store.commits, "only one retry")
}

func TestAllocateRecordsEvents(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(10, 0)})
	ctx := context.Background()

	appt, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New(), IsNewPatient: true})
	require.NoError(t, err)
	_, err = f.alloc.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	logged := f.repo.Events()
	require.Len(t, logged, 2)
	assert.Equal(t, EventAppointmentCreated, logged[0].EventType)
	assert.Equal(t, EventAppointmentCancelled, logged[1].EventType)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, events.AppointmentBooked, f.publisher.events[0].Type)
	assert.Equal(t, appt.ID, f.publisher.events[1].AppointmentID)
}

func TestOpenAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.alloc.OpenAvailability(ctx, f.doctorID, at(9, 0), at(12, 0)))
	err := f.alloc.OpenAvailability(ctx, f.doctorID, at(11, 0), at(13, 0))
	assert.ErrorIs(t, err, calendar.ErrOverlap)

	err = f.alloc.OpenAvailability(ctx, uuid.New(), at(9, 0), at(10, 0))
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	assert.Equal(t, 3*time.Hour, f.calendar(t).FreeTime())
}

func TestListFiltersByDayAndStatus(t *testing.T) {
	f := newFixture(t, [2]time.Time{at(9, 0), at(12, 0)})
	ctx := context.Background()

	patientID := uuid.New()
	first, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: patientID, IsNewPatient: true})
	require.NoError(t, err)
	second, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: uuid.New()})
	require.NoError(t, err)
	third, err := f.alloc.Allocate(ctx, Request{DoctorID: f.doctorID, PatientID: patientID})
	require.NoError(t, err)
	_, err = f.alloc.Confirm(ctx, second.ID)
	require.NoError(t, err)
	_, err = f.alloc.Cancel(ctx, third.ID)
	require.NoError(t, err)

	day := Filter{From: bookingDay, To: bookingDay.AddDate(0, 0, 1)}
	all, err := f.alloc.List(ctx, day)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID, "earliest first")

	day.Statuses = []AppointmentStatus{StatusConfirmed}
	confirmed, err := f.alloc.List(ctx, day)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, second.ID, confirmed[0].ID)

	next, err := f.alloc.List(ctx, Filter{From: bookingDay.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Empty(t, next)

	paged, err := f.alloc.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, second.ID, paged[0].ID)

	visits, err := f.alloc.CountVisits(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, 1, visits, "cancelled visits are not counted")

	byPatient, err := f.alloc.ListByPatient(ctx, patientID, 0, 0)
	require.NoError(t, err)
	require.Len(t, byPatient, 2)
	assert.Equal(t, third.ID, byPatient[0].ID, "newest first")
}
