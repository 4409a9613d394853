package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hepatica-risk-engine/internal/config"
	"github.com/hepatica-risk-engine/internal/database"
	"github.com/hepatica-risk-engine/internal/logging"
)

const envDSN = "HEPATICA_DATABASE_URL"

func main() {
	var (
		dsn     = flag.String("dsn", "", "Database connection string")
		up      = flag.Bool("up", false, "Run all up migrations")
		down    = flag.Bool("down", false, "Revert the last migration")
		steps   = flag.Int("steps", 0, "Number of migrations (positive=up, negative=down)")
		version = flag.Bool("version", false, "Print current migration version")
		force   = flag.Int("force", -1, "Force set version (use with caution)")
	)
	flag.Parse()

	forceSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			forceSet = true
		}
	})

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()

	if *dsn == "" {
		*dsn = os.Getenv(envDSN)
	}
	if *dsn == "" {
		*dsn = cfg.Database.URL
	}
	if *dsn == "" {
		log.Fatalf("no database URL: pass -dsn or set %s", envDSN)
	}

	runner, err := database.NewMigrationRunner(*dsn, logging.New(cfg.Logging))
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer runner.Close()

	switch {
	case *version:
		v, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("failed to get version: %v", err)
		}
		fmt.Printf("version: %d, dirty: %v\n", v, dirty)
	case forceSet:
		if err := runner.Force(*force); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		fmt.Printf("forced to version %d\n", *force)
	case *up:
		if err := runner.Up(); err != nil {
			log.Fatalf("failed to run up migrations: %v", err)
		}
		fmt.Println("migrations applied successfully")
	case *down:
		if err := runner.Down(); err != nil {
			log.Fatalf("failed to run down migrations: %v", err)
		}
		fmt.Println("migration reverted successfully")
	case *steps != 0:
		if err := runner.Steps(*steps); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		fmt.Printf("applied %d migration steps\n", *steps)
	default:
		fmt.Println("usage: migrate [-dsn <connection-string>] [-up|-down|-steps N|-version|-force N]")
		flag.PrintDefaults()
	}
}
