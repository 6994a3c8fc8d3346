package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/shared/storage/db"
)

var (
	migrateDocStore string
	migrateDSN      string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply document store migrations to a Postgres or SQLite database",
	Long: `Applies the embedded goose migrations. Without flags the DOCSTORE,
DATABASE_URL and SQLITE_PATH settings of the environment are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		backend := migrateDocStore
		if backend == "" {
			backend = cfg.DocStore
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		conn, dialect, err := openForMigrate(ctx, backend, migrateDSN, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.RunMigrations(ctx, conn, dialect); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", backend)
		return nil
	},
}

func openForMigrate(ctx context.Context, backend, dsn string, cfg config.Config) (*sql.DB, string, error) {
	switch backend {
	case "sqlite":
		if dsn == "" {
			dsn = cfg.SQLitePath
		}
		conn, err := db.OpenSQLite(ctx, dsn)
		return conn, db.DialectSQLite, err
	case "postgres":
		if dsn == "" {
			dsn = cfg.DatabaseURL
		}
		conn, err := db.Connect(ctx, dsn, db.DefaultMigrateOptions())
		return conn, db.DialectPostgres, err
	default:
		return nil, "", fmt.Errorf("docstore %q has no migrations; use --docstore sqlite|postgres", backend)
	}
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDocStore, "docstore", "", "Backend to migrate: sqlite or postgres (default $DOCSTORE)")
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "SQLite path or Postgres URL (default from the environment)")
}
