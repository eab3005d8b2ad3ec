package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the stores need; pgxmock satisfies it too.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const patientColumns = `id, full_name, normalized_name, dob, COALESCE(phone, ''), COALESCE(email, ''),
	COALESCE(insurance_payer, ''), COALESCE(insurance_member_id, ''), COALESCE(insurance_group_number, ''),
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.NormalizedName,
		&p.DOB,
		&p.Phone,
		&p.Email,
		&p.InsurancePayer,
		&p.InsuranceMemberID,
		&p.InsuranceGroupNumber,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) FindCandidates(ctx context.Context, key Key) ([]Patient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE dob = $1
		   OR ($2 <> '' AND phone = $2)
		   OR ($3 <> '' AND lower(email) = lower($3))
	`, key.DOB, key.Phone, key.Email)
	if err != nil {
		return nil, fmt.Errorf("query patient candidates: %w", err)
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PgStore) Save(ctx context.Context, p *Patient) (uuid.UUID, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO patients (id, full_name, normalized_name, dob, phone, email,
			insurance_payer, insurance_member_id, insurance_group_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10, now()), COALESCE($11, now()))
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    normalized_name = EXCLUDED.normalized_name,
		    phone = EXCLUDED.phone,
		    email = EXCLUDED.email,
		    insurance_payer = EXCLUDED.insurance_payer,
		    insurance_member_id = EXCLUDED.insurance_member_id,
		    insurance_group_number = EXCLUDED.insurance_group_number,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`, p.ID, p.FullName, p.NormalizedName, p.DOB, p.Phone, p.Email,
		p.InsurancePayer, p.InsuranceMemberID, p.InsuranceGroupNumber,
		nullableTime(p.CreatedAt), nullableTime(p.UpdatedAt)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert patient: %w", err)
	}
	return id, nil
}

func (s *PgStore) Load(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
