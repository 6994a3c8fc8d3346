package main

// Applies the embedded document store migrations for DOCSTORE=postgres|sqlite:
//   go run ./cmd/migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/shared/storage/db"
	"finsight-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	logger, err := telemetry.New(telemetry.Options{Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := migrate(ctx, cfg, logger); err != nil {
		logger.Error("migrate.failed", map[string]any{"docstore": cfg.DocStore, "error": err.Error()})
		logger.Sync()
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg config.Config, logger *telemetry.Logger) error {
	var (
		conn    *sql.DB
		dialect string
		err     error
	)
	switch cfg.DocStore {
	case "sqlite":
		dialect = db.DialectSQLite
		conn, err = db.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		dialect = db.DialectPostgres
		opts := db.DefaultMigrateOptions()
		opts.Logger = logger
		conn, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	default:
		logger.Info("migrate.skipped", map[string]any{"docstore": cfg.DocStore})
		return nil
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	if err := db.RunMigrations(ctx, conn, dialect); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrate.applied", map[string]any{
		"docstore":   cfg.DocStore,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}
