package patient

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps patients in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]Patient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[uuid.UUID]Patient)}
}

func (s *MemoryStore) FindCandidates(ctx context.Context, key Key) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Patient
	for _, p := range s.patients {
		switch {
		case !key.DOB.IsZero() && p.DOB.Equal(key.DOB),
			key.Phone != "" && p.Phone == key.Phone,
			key.Email != "" && strings.EqualFold(p.Email, key.Email):
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Patient) (uuid.UUID, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	stored.IsNewPatient = false
	s.patients[p.ID] = stored
	return p.ID, nil
}

func (s *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}
