package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists tasks. Create is idempotent on (appointment, channel, kind)
// and Update only applies when the stored status still equals from.
type Store interface {
	Create(ctx context.Context, t *Task) (*Task, error)
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	Update(ctx context.Context, t *Task, from Status) error
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error)
	SkipPending(ctx context.Context, appointmentID uuid.UUID) (int, error)
}

type taskKey struct {
	appointmentID uuid.UUID
	channel       Channel
	kind          Kind
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]Task
	keys  map[taskKey]uuid.UUID
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[uuid.UUID]Task),
		keys:  make(map[taskKey]uuid.UUID),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, t *Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := taskKey{t.AppointmentID, t.Channel, t.Kind}
	if id, ok := s.keys[k]; ok {
		existing := s.tasks[id]
		return &existing, nil
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = *t
	s.keys[k] = t.ID
	out := *t
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

func (s *MemoryStore) Update(ctx context.Context, t *Task, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if cur.Status != from {
		return ErrStatusConflict
	}
	cur.Status = t.Status
	cur.Attempts = t.Attempts
	cur.LastError = t.LastError
	cur.ScheduledFor = t.ScheduledFor
	cur.UpdatedAt = s.now()
	s.tasks[t.ID] = cur
	t.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Due(now) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.AppointmentID == appointmentID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *MemoryStore) SkipPending(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, t := range s.tasks {
		if t.AppointmentID != appointmentID || t.Status != StatusPending {
			continue
		}
		t.Status = StatusSkipped
		t.UpdatedAt = now
		s.tasks[id] = t
		n++
	}
	return n, nil
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].ScheduledFor.Equal(tasks[j].ScheduledFor) {
			return tasks[i].ScheduledFor.Before(tasks[j].ScheduledFor)
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
