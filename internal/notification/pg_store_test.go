package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskRowColumns = []string{
	"id", "appointment_id", "channel", "kind", "status", "attempts",
	"last_error", "scheduled_for", "created_at", "updated_at",
}

func TestPgStoreCreateReturnsExistingTriple(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existingID := uuid.New()
	apptID := uuid.New()
	task := &Task{AppointmentID: apptID, Channel: ChannelEmail, Kind: KindReminder, Status: StatusPending, ScheduledFor: t0}

	mock.ExpectQuery("INSERT INTO notification_tasks").
		WithArgs(pgxmock.AnyArg(), apptID, ChannelEmail, KindReminder, StatusPending, 0, "", t0).
		WillReturnRows(pgxmock.NewRows(taskRowColumns).
			AddRow(existingID, apptID, ChannelEmail, KindReminder, StatusSent, 1, nil, t0, t0, t0))

	stored, err := NewPgStore(mock).Create(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, existingID, stored.ID)
	assert.Equal(t, StatusSent, stored.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreUpdateDetectsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	task := &Task{ID: uuid.New(), Status: StatusSent, Attempts: 1, ScheduledFor: t0}
	mock.ExpectExec("UPDATE notification_tasks").
		WithArgs(task.ID, StatusSent, 1, "", t0, StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPgStore(mock).Update(context.Background(), task, StatusPending)
	assert.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreDueTasks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := t0.Add(time.Minute)
	lastErr := "smtp timeout"
	mock.ExpectQuery("scheduled_for <= \\$1").
		WithArgs(now, 500).
		WillReturnRows(pgxmock.NewRows(taskRowColumns).
			AddRow(uuid.New(), uuid.New(), ChannelSMS, KindConfirmation, StatusPending, 2, &lastErr, t0, t0, t0))

	due, err := NewPgStore(mock).DueTasks(context.Background(), now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)
	assert.Equal(t, "smtp timeout", due[0].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreSkipPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	apptID := uuid.New()
	mock.ExpectExec("SET status = 'skipped'").
		WithArgs(apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := NewPgStore(mock).SkipPending(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
