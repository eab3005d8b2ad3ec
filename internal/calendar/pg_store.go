package calendar

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore keeps intervals in calendar_intervals and the CAS version on the
// doctors row.
type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) LoadCalendar(ctx context.Context, doctorID uuid.UUID) (*Calendar, error) {
	cal := New(doctorID)

	err := s.db.QueryRow(ctx, `
		SELECT calendar_version
		FROM doctors
		WHERE id = $1
	`, doctorID).Scan(&cal.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, fmt.Errorf("load calendar version: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT start_time, end_time, state, appointment_id
		FROM calendar_intervals
		WHERE doctor_id = $1
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load calendar intervals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			iv    Interval
			state string
			appt  *uuid.UUID
		)
		if err := rows.Scan(&iv.Start, &iv.End, &state, &appt); err != nil {
			return nil, err
		}
		iv.State = State(state)
		if appt != nil {
			iv.AppointmentID = *appt
		}
		cal.Intervals = append(cal.Intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cal, nil
}

func (s *PgStore) CommitCalendar(ctx context.Context, cal *Calendar) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin calendar commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE doctors
		SET calendar_version = calendar_version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND calendar_version = $2
	`, cal.DoctorID, cal.Version)
	if err != nil {
		return fmt.Errorf("bump calendar version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM calendar_intervals WHERE doctor_id = $1`, cal.DoctorID); err != nil {
		return fmt.Errorf("clear calendar intervals: %w", err)
	}

	rows := make([][]any, 0, len(cal.Intervals))
	for _, iv := range cal.Intervals {
		var appt *uuid.UUID
		if iv.AppointmentID != uuid.Nil {
			id := iv.AppointmentID
			appt = &id
		}
		rows = append(rows, []any{cal.DoctorID, iv.Start, iv.End, string(iv.State), appt})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"calendar_intervals"},
		[]string{"doctor_id", "start_time", "end_time", "state", "appointment_id"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("write calendar intervals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit calendar: %w", err)
	}
	cal.Version++
	return nil
}
