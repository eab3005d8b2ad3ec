package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/booking"
	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/config"
	"github.com/hackgods/medical-appointment-booking/internal/db"
	"github.com/hackgods/medical-appointment-booking/internal/events"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	"github.com/hackgods/medical-appointment-booking/internal/metrics"
	"github.com/hackgods/medical-appointment-booking/internal/notification"
	"github.com/hackgods/medical-appointment-booking/internal/patient"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

// App holds the connected infrastructure and the services built on it.
// Both the API server and the notification worker start from here.
type App struct {
	Config config.Config
	Log    *logging.Logger

	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Locker redisclient.Locker

	Allocator    *appointment.Allocator
	Orchestrator *notification.Orchestrator
	Booking      *booking.Service

	closers []func() error
}

// New connects postgres, redis and (when configured) the AMQP broker and
// wires every service. Callers must Close the result.
func New(ctx context.Context, cfg config.Config, log *logging.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Log: log}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(10+cfg.DispatchWorkers))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	log.Info("connected to postgres")

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)
	a.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("amqp: %w", err)
		}
		publisher = p
		a.closers = append(a.closers, p.Close)
		log.Info("publishing booking events", "exchange", events.ExchangeName)
	}

	m := metrics.NewBookingMetrics(reg)

	patients := patient.NewPgStore(pool)
	repo := appointment.NewPgRepository(pool)
	directory := booking.NewDirectory(patients, repo)

	a.Allocator = appointment.NewAllocator(repo, calendar.NewPgStore(pool), a.Locker, publisher, m, log, appointment.Config{
		LockWait:        cfg.LockWait,
		SlotGranularity: cfg.SlotGranularity,
	})

	clinic := notification.Clinic{Name: cfg.ClinicName, Phone: cfg.ClinicPhone, Location: cfg.Location()}
	a.Orchestrator = notification.NewOrchestrator(notification.Dependencies{
		Store:     notification.NewPgStore(pool),
		Directory: directory,
		Email:     emailChannel(cfg, log),
		SMS:       smsChannel(cfg, log),
		Forms:     notification.NewHTMLFormRenderer(clinic),
		Messages:  notification.NewMessages(clinic),
		Locker:    a.Locker,
		Publisher: publisher,
		Metrics:   m,
		Log:       log,
	}, notification.Config{
		ReminderOffset: cfg.ReminderOffset,
		MaxAttempts:    cfg.NotifyMaxAttempts,
		BackoffBase:    cfg.NotifyBackoffBase,
		BackoffMax:     cfg.NotifyBackoffMax,
		Workers:        cfg.DispatchWorkers,
	})

	resolver := patient.NewResolver(patients, patient.ResolverConfig{
		MatchThreshold: cfg.MatchThreshold,
		PhoneRegion:    cfg.PhoneRegion,
	}, log)
	a.Booking = booking.NewService(resolver, a.Allocator, a.Orchestrator, directory, m, log)

	return a, nil
}

func emailChannel(cfg config.Config, log *logging.Logger) notification.EmailChannel {
	sg := notification.NewSendGridChannel(notification.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, log)
	if sg == nil {
		log.Warn("SENDGRID_API_KEY not set, emails will only be logged")
		return notification.NewLogEmailChannel(log)
	}
	return sg
}

func smsChannel(cfg config.Config, log *logging.Logger) notification.SMSChannel {
	tw := notification.NewTwilioChannel(notification.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFromNumber,
	}, log)
	if tw == nil {
		log.Warn("twilio credentials not set, SMS will only be logged")
		return notification.NewLogSMSChannel(log)
	}
	return tw
}

// Checks returns the readiness checks for the connected dependencies.
func (a *App) Checks() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"postgres": a.Pool.Ping,
		"redis":    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close error", "error", err)
		}
	}
	a.closers = nil
}
