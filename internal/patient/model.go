package patient

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID                   uuid.UUID
	FullName             string
	NormalizedName       string
	DOB                  time.Time // calendar date, midnight UTC
	Phone                string    // E.164 when parseable, digits otherwise
	Email                string
	InsurancePayer       string
	InsuranceMemberID    string
	InsuranceGroupNumber string
	IsNewPatient         bool // derived on resolution, never persisted
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Key returns the fuzzy-match key of a stored patient.
func (p *Patient) Key() Key {
	return Key{
		Name:  p.NormalizedName,
		DOB:   p.DOB,
		Phone: p.Phone,
		Email: p.Email,
	}
}

// Input is what the intake form hands to the resolver.
type Input struct {
	FullName             string `json:"full_name" validate:"required,max=200"`
	DOB                  string `json:"dob" validate:"required"`
	Phone                string `json:"phone" validate:"omitempty,max=32"`
	Email                string `json:"email" validate:"omitempty,email"`
	InsurancePayer       string `json:"insurance_payer" validate:"omitempty,max=200"`
	InsuranceMemberID    string `json:"insurance_member_id" validate:"omitempty,max=64"`
	InsuranceGroupNumber string `json:"insurance_group_number" validate:"omitempty,max=64"`
}

// Key is the normalized identity used for candidate lookup and scoring.
type Key struct {
	Name  string
	DOB   time.Time
	Phone string
	Email string
}

type Resolution struct {
	Patient      *Patient
	IsNewPatient bool
	Match        *Match // nil for new patients
}
