package main

import (
	"flag"
	"os"

	"github.com/hackgods/medical-appointment-booking/internal/config"
	"github.com/hackgods/medical-appointment-booking/internal/db"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

func main() {
	force := flag.Int("force", -1, "force the schema version before migrating up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	version, err := db.Migrate(cfg.PostgresDSN, *force)
	if err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	log.Info("migrations complete", "version", version)
}
