package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

func newTestWorker(h *harness, locker redisclient.Locker, spec string) *Worker {
	w := NewWorker(h.orch, locker, spec, logging.Discard())
	w.now = func() time.Time { return h.clock }
	return w
}

func TestWorkerRunOnceSendsDueTasks(t *testing.T) {
	h := newHarness(t, false)
	h.schedule(t)
	w := newTestWorker(h, redisclient.NewLocalLocker(), "@every 1m")

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Due)
	assert.Equal(t, 2, stats.Sent)

	// reminders fall due a day before the visit
	h.clock = h.dir.visit.Start.Add(-24 * time.Hour)
	stats, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)
	assert.Len(t, h.email.sent, 2)
	assert.Len(t, h.sms.sent, 2)
}

func TestWorkerSkipsWithoutLeaderLock(t *testing.T) {
	h := newHarness(t, false)
	h.schedule(t)
	locker := redisclient.NewLocalLocker()
	w := newTestWorker(h, locker, "@every 1m")

	err := locker.WithLock(context.Background(), redisclient.LeaderLockKey(workerJob), 0, func(ctx context.Context) error {
		_, err := w.RunOnce(ctx)
		return err
	})
	assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)
	assert.Empty(t, h.email.sent)
}

func TestWorkerStartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, false)
	w := newTestWorker(h, nil, "every so often")
	require.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestWorkerStartStop(t *testing.T) {
	h := newHarness(t, false)
	w := newTestWorker(h, nil, "@every 1h")
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
