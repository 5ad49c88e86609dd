package main

import (
	"errors"
	"flag"
	"log"

	"github.com/noah-isme/fintrack-api/pkg/config"
	"github.com/noah-isme/fintrack-api/pkg/database"
	"github.com/noah-isme/fintrack-api/pkg/logger"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	err = database.Migrate(cfg.Database.URL(), *direction)
	switch {
	case errors.Is(err, database.ErrNoChange):
		logr.Sugar().Infow("schema already up to date", "direction", *direction)
	case err != nil:
		logr.Sugar().Fatalw("migration failed", "direction", *direction, "error", err)
	default:
		logr.Sugar().Infow("migration applied", "direction", *direction)
	}
}
