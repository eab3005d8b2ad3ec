package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

type ResolverConfig struct {
	MatchThreshold float64
	PhoneRegion    string
}

// Resolver decides whether an intake belongs to a known patient.
// It only reads and writes patient records.
type Resolver struct {
	store    Store
	matcher  Matcher
	region   string
	validate *validator.Validate
	log      *logging.Logger
	now      func() time.Time
}

func NewResolver(store Store, cfg ResolverConfig, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	return &Resolver{
		store:    store,
		matcher:  Matcher{Threshold: cfg.MatchThreshold},
		region:   cfg.PhoneRegion,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		now:      time.Now,
	}
}

// Resolve returns the existing patient the input matches, or persists and
// returns a new one.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Resolution, error) {
	if err := r.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}

	dob, err := ParseDOB(in.DOB)
	if err != nil {
		return nil, fmt.Errorf("%w: dob %q: %v", ErrValidation, in.DOB, err)
	}
	now := r.now().UTC()
	if dob.After(now) {
		return nil, fmt.Errorf("%w: dob %s is in the future", ErrValidation, dob.Format("2006-01-02"))
	}

	key := Normalize(in, dob, r.region)
	if key.Name == "" {
		return nil, fmt.Errorf("%w: full_name has no usable tokens", ErrValidation)
	}

	candidates, err := r.store.FindCandidates(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find patient candidates: %w", err)
	}

	if existing, match, ok := r.matcher.Best(key, candidates); ok {
		p := *existing
		if fillMissing(&p, in, key) {
			p.UpdatedAt = now
			if _, err := r.store.Save(ctx, &p); err != nil {
				return nil, fmt.Errorf("update patient %s: %w", p.ID, err)
			}
		}
		p.IsNewPatient = false

		r.log.Info("patient matched",
			"patient_id", p.ID,
			"name_similarity", match.NameSimilarity,
			"contact_match", match.ContactMatch(),
			"confidence", match.Confidence(),
			"candidates", len(candidates),
		)
		return &Resolution{Patient: &p, IsNewPatient: false, Match: &match}, nil
	}

	p := &Patient{
		ID:                   uuid.New(),
		FullName:             strings.TrimSpace(in.FullName),
		NormalizedName:       key.Name,
		DOB:                  dob,
		Phone:                key.Phone,
		Email:                key.Email,
		InsurancePayer:       strings.TrimSpace(in.InsurancePayer),
		InsuranceMemberID:    strings.TrimSpace(in.InsuranceMemberID),
		InsuranceGroupNumber: strings.TrimSpace(in.InsuranceGroupNumber),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if _, err := r.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save new patient: %w", err)
	}
	p.IsNewPatient = true

	r.log.Info("new patient registered", "patient_id", p.ID, "candidates", len(candidates))
	return &Resolution{Patient: p, IsNewPatient: true}, nil
}

// fillMissing copies contact and insurance details the stored record lacks.
// Existing values are never overwritten.
func fillMissing(p *Patient, in Input, key Key) bool {
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	set(&p.Phone, key.Phone)
	set(&p.Email, key.Email)
	set(&p.InsurancePayer, in.InsurancePayer)
	set(&p.InsuranceMemberID, in.InsuranceMemberID)
	set(&p.InsuranceGroupNumber, in.InsuranceGroupNumber)
	return changed
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
