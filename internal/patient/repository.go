package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrValidation      = errors.New("invalid patient input")
)

// Store persists patients. FindCandidates returns every patient sharing the
// key's DOB, phone or email; scoring happens in the resolver.
type Store interface {
	FindCandidates(ctx context.Context, key Key) ([]Patient, error)
	Save(ctx context.Context, p *Patient) (uuid.UUID, error)
	Load(ctx context.Context, id uuid.UUID) (*Patient, error)
}
