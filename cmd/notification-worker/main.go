package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/medical-appointment-booking/internal/app"
	"github.com/hackgods/medical-appointment-booking/internal/config"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	"github.com/hackgods/medical-appointment-booking/internal/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("service", "notification-worker")
	log.Info("notification-worker starting up", "env", cfg.Env, "schedule", cfg.WorkerSchedule, "workers", cfg.DispatchWorkers)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	worker := notification.NewWorker(a.Orchestrator, a.Locker, cfg.WorkerSchedule, log)

	// Run once at startup
	_, _ = worker.RunOnce(rootCtx)

	if err := worker.Start(rootCtx); err != nil {
		log.Error("worker start failed", "error", err)
		os.Exit(1)
	}

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping notification worker")
	worker.Stop()
}
