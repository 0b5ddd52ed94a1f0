package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"premiosplatzi/config"
	"premiosplatzi/logger"
	"premiosplatzi/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		action string
		steps  int
	)

	flag.StringVar(&action, "action", "up", "migration action: up, down, force, version")
	flag.IntVar(&steps, "steps", 0, "number of steps for up/down, target version for force")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Configure(cfg.Env, cfg.Log.Level, "")

	m, closeDB, err := migrations.New(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize migrator")
	}
	defer closeDB()

	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		err = m.Force(steps)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatal().Err(verr).Msg("failed to read version")
		}
		fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)
		return
	default:
		log.Fatal().Str("action", action).Msg("unknown action")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Str("action", action).Msg("migration failed")
	}

	log.Info().Str("action", action).Msg("migration applied")
}
