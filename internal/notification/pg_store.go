package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const taskColumns = `id, appointment_id, channel, kind, status, attempts, last_error, scheduled_for, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var lastError *string

	err := row.Scan(
		&t.ID,
		&t.AppointmentID,
		&t.Channel,
		&t.Kind,
		&t.Status,
		&t.Attempts,
		&lastError,
		&t.ScheduledFor,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if lastError != nil {
		t.LastError = *lastError
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts the task unless its triple already exists, in which case
// the stored row is returned untouched.
func (s *PgStore) Create(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO notification_tasks (id, appointment_id, channel, kind, status, attempts, last_error, scheduled_for, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, now(), now())
			ON CONFLICT (appointment_id, channel, kind) DO NOTHING
			RETURNING `+taskColumns+`
		)
		SELECT `+taskColumns+` FROM ins
		UNION ALL
		SELECT `+taskColumns+` FROM notification_tasks
		WHERE appointment_id = $2 AND channel = $3 AND kind = $4
		LIMIT 1
	`, t.ID, t.AppointmentID, t.Channel, t.Kind, t.Status, t.Attempts, t.LastError, t.ScheduledFor)

	stored, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create notification task: %w", err)
	}
	return stored, nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM notification_tasks
		WHERE id = $1
	`, id)
	return scanTask(row)
}

func (s *PgStore) Update(ctx context.Context, t *Task, from Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notification_tasks
		SET status = $2,
		    attempts = $3,
		    last_error = NULLIF($4, ''),
		    scheduled_for = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = $6
	`, t.ID, t.Status, t.Attempts, t.LastError, t.ScheduledFor, from)
	if err != nil {
		return fmt.Errorf("update notification task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *PgStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM notification_tasks
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		ORDER BY scheduled_for, created_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *PgStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM notification_tasks
		WHERE appointment_id = $1
		ORDER BY scheduled_for, created_at
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list notification tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *PgStore) SkipPending(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notification_tasks
		SET status = 'skipped',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("skip pending tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
