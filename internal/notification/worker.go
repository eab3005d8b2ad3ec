package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

const workerJob = "notifications"

// Worker runs the due-task sweep on a cron schedule. Only the replica that
// wins the leader lock sweeps on a given tick; per-task locks still guard
// each send, so an expired leader lock costs a duplicate sweep and no more.
type Worker struct {
	orch   *Orchestrator
	locker redisclient.Locker
	spec   string
	log    *logging.Logger
	now    func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewWorker(orch *Orchestrator, locker redisclient.Locker, spec string, log *logging.Logger) *Worker {
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	if log == nil {
		log = logging.Default()
	}
	return &Worker{
		orch:   orch,
		locker: locker,
		spec:   spec,
		log:    log.With("component", "notification_worker"),
		now:    time.Now,
	}
}

// Start schedules the sweep. An invalid cron spec is returned rather than
// silently replaced.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("worker already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.spec, func() { _, _ = w.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", w.spec, err)
	}
	c.Start()
	w.cron = c
	w.cancel = cancel
	w.log.Info("notification worker started", "schedule", w.spec)
	return nil
}

// Stop cancels in-flight sends and waits for the running sweep to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce performs a single sweep if this instance holds the leader lock.
// It returns redisclient.ErrLockNotAcquired when another instance is sweeping.
func (w *Worker) RunOnce(ctx context.Context) (stats RunStats, err error) {
	start := time.Now()
	err = w.locker.WithLock(ctx, redisclient.LeaderLockKey(workerJob), 0, func(lockCtx context.Context) error {
		var runErr error
		stats, runErr = w.orch.RunDue(lockCtx, w.now())
		return runErr
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.log.Debug("leader lock held elsewhere, skipping sweep")
		return RunStats{}, err
	case err != nil:
		w.log.Error("notification sweep failed", "error", err)
		return stats, err
	}
	w.log.Debug("notification sweep complete", "due", stats.Due, "duration_ms", time.Since(start).Milliseconds())
	return stats, nil
}
