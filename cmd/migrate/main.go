package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/bfitz887/pdf-api/internal/database"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog for pretty console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse command line flags
	var (
		command       string
		steps         int
		migrationsDir string
		databaseURL   string
	)

	flag.StringVar(&command, "command", "up", "Migration command: up, down, version")
	flag.IntVar(&steps, "steps", 1, "Number of migrations to roll back (down only)")
	flag.StringVar(&migrationsDir, "dir", "migrations", "Path to migrations directory")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides DATABASE_URL env)")
	flag.Parse()

	// Get database URL from environment if not provided
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable or -database flag is required")
	}

	// Get absolute path to migrations directory
	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get absolute path for migrations directory")
	}

	log.Info().
		Str("dir", absPath).
		Str("command", command).
		Msg("Starting migration")

	switch command {
	case "up":
		err = database.RunMigrations(databaseURL, absPath)
	case "down":
		if steps < 1 {
			log.Fatal().Msg("Down command requires -steps >= 1")
		}
		err = database.RollbackMigrations(databaseURL, absPath, steps)
	case "version":
		version, dirty, verr := database.MigrationVersion(databaseURL, absPath)
		if verr != nil {
			log.Fatal().Err(verr).Msg("Failed to get version")
		}
		if version == 0 {
			log.Info().Msg("No migrations have been applied yet")
			return
		}
		log.Info().
			Uint("version", version).
			Bool("dirty", dirty).
			Msg("Current migration version")
		return
	default:
		log.Fatal().Str("command", command).Msg("Unknown command")
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Msg("Migration completed successfully")
}
