package calendar

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrCalendarNotFound = errors.New("calendar not found")
	ErrVersionConflict  = errors.New("calendar was modified concurrently")
)

// Store loads and commits whole calendars. CommitCalendar succeeds only when
// cal.Version still equals the stored version, then advances it; this is the
// serialization point the allocator relies on.
type Store interface {
	LoadCalendar(ctx context.Context, doctorID uuid.UUID) (*Calendar, error)
	CommitCalendar(ctx context.Context, cal *Calendar) error
}

// MemoryStore keeps calendars in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	calendars map[uuid.UUID]*Calendar
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calendars: make(map[uuid.UUID]*Calendar)}
}

// Put registers a calendar, replacing any previous one for the doctor.
func (s *MemoryStore) Put(cal *Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[cal.DoctorID] = cal.Clone()
}

func (s *MemoryStore) LoadCalendar(ctx context.Context, doctorID uuid.UUID) (*Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, ok := s.calendars[doctorID]
	if !ok {
		return nil, ErrCalendarNotFound
	}
	return cal.Clone(), nil
}

func (s *MemoryStore) CommitCalendar(ctx context.Context, cal *Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.calendars[cal.DoctorID]
	if !ok {
		return ErrCalendarNotFound
	}
	if current.Version != cal.Version {
		return ErrVersionConflict
	}
	cal.Version++
	s.calendars[cal.DoctorID] = cal.Clone()
	return nil
}
