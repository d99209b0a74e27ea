package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/logger"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	// CLI flags, falling back to the environment
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of steps to apply (0 = all)")
	dbURL := flag.String("database", cfg.DatabaseURL, "PostgreSQL connection URL")
	path := flag.String("path", cfg.MigrationsPath, "Migrations source URL")
	flag.Parse()

	log, err := logger.New(logger.Options{Service: "tableorder-migrate", Env: cfg.AppEnv, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*dbURL, *path, *direction, *steps); err != nil {
		log.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}
	log.Info("migration complete", zap.String("direction", *direction), zap.Int("steps", *steps))
}

func run(dbURL, path, direction string, steps int) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	switch {
	case steps != 0 && direction == "down":
		err = m.Steps(-steps)
	case steps != 0 && direction == "up":
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case direction == "down":
		err = m.Down()
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
