package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/medical-appointment-booking/internal/appointment"
	"github.com/hackgods/medical-appointment-booking/internal/calendar"
	"github.com/hackgods/medical-appointment-booking/internal/config"
	"github.com/hackgods/medical-appointment-booking/internal/db"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
	"github.com/hackgods/medical-appointment-booking/internal/patient"
	redisclient "github.com/hackgods/medical-appointment-booking/internal/redis"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	doctors := flag.Int("doctors", 20, "doctors to create")
	patients := flag.Int("patients", 500, "patients to create")
	days := flag.Int("days", 14, "days of working hours to open per doctor")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("service", "seed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	repo := appointment.NewPgRepository(pool)
	// seeding is single-process, so an in-process lock is enough
	alloc := appointment.NewAllocator(repo, calendar.NewPgStore(pool), redisclient.NewLocalLocker(), nil, nil, log, appointment.Config{
		LockWait:        cfg.LockWait,
		SlotGranularity: cfg.SlotGranularity,
	})

	if err := seedDoctors(ctx, faker, repo, alloc, cfg.Location(), *doctors, *days, log); err != nil {
		log.Error("seed doctors", "error", err)
		os.Exit(1)
	}

	resolver := patient.NewResolver(patient.NewPgStore(pool), patient.ResolverConfig{
		MatchThreshold: cfg.MatchThreshold,
		PhoneRegion:    cfg.PhoneRegion,
	}, log)
	if err := seedPatients(ctx, faker, resolver, *patients, log); err != nil {
		log.Error("seed patients", "error", err)
		os.Exit(1)
	}

	log.Info("seed complete")
}

// seedDoctors creates doctors with weekday working hours of 09:00-13:00 and
// 14:00-17:00 in the clinic timezone, starting tomorrow.
func seedDoctors(ctx context.Context, faker *gofakeit.Faker, repo *appointment.PgRepository, alloc *appointment.Allocator, loc *time.Location, count, days int, log *logging.Logger) error {
	log.Info("seeding doctors", "count", count, "days", days)

	today := time.Now().In(loc)
	first := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	for i := 0; i < count; i++ {
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		d := &appointment.Doctor{
			Name:      "Dr. " + faker.Name(),
			Specialty: &specialty,
			Timezone:  loc.String(),
		}
		if err := repo.SaveDoctor(ctx, d); err != nil {
			return err
		}

		for day := 0; day < days; day++ {
			date := first.AddDate(0, 0, day)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			for _, shift := range [][2]int{{9, 13}, {14, 17}} {
				start := date.Add(time.Duration(shift[0]) * time.Hour)
				end := date.Add(time.Duration(shift[1]) * time.Hour)
				if err := alloc.OpenAvailability(ctx, d.ID, start, end); err != nil {
					return fmt.Errorf("open availability for %s: %w", d.Name, err)
				}
			}
		}
	}

	log.Info("doctors seeded", "count", count)
	return nil
}

func seedPatients(ctx context.Context, faker *gofakeit.Faker, resolver *patient.Resolver, count int, log *logging.Logger) error {
	log.Info("seeding patients", "count", count)

	created := 0
	for i := 0; i < count; i++ {
		dob := faker.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2015, 12, 31, 0, 0, 0, 0, time.UTC))
		res, err := resolver.Resolve(ctx, patient.Input{
			FullName:          faker.Name(),
			DOB:               dob.Format("2006-01-02"),
			Phone:             faker.Phone(),
			Email:             faker.Email(),
			InsurancePayer:    faker.Company(),
			InsuranceMemberID: faker.Numerify("MBR#########"),
		})
		if err != nil {
			return err
		}
		if res.IsNewPatient {
			created++
		}
		if (i+1)%100 == 0 {
			log.Info("patients seeded", "progress", fmt.Sprintf("%d/%d", i+1, count))
		}
	}

	log.Info("patients seeded", "created", created, "matched_existing", count-created)
	return nil
}
