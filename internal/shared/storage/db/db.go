package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"finsight-backend/internal/shared/telemetry"
)

// Options tunes the connection pool of the document store database.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	Logger          *telemetry.Logger
}

var (
	openDB = sql.Open

	sharedMu sync.Mutex
	sharedDB *sql.DB
)

// IsLambdaRuntime reports whether the process runs inside AWS Lambda.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// DefaultLambdaOptions keeps each function instance to a couple of
// connections so a burst of concurrent invocations cannot exhaust Postgres.
func DefaultLambdaOptions() Options {
	return Options{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 15 * time.Minute,
		PingTimeout:     3 * time.Second,
	}
}

// DefaultServerOptions sizes the pool for the API and worker processes, which
// run prompt stages concurrently.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    16,
		MaxIdleConns:    8,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// DefaultMigrateOptions is a single connection for the migrate command.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     10 * time.Second,
	}
}

// OptionsFromEnv applies DB_* overrides on top of defaults. Malformed values
// are reported through the defaults' logger and ignored.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	overrideInt(&opts.MaxOpenConns, "DB_MAX_OPEN_CONNS", opts.Logger)
	overrideInt(&opts.MaxIdleConns, "DB_MAX_IDLE_CONNS", opts.Logger)
	overrideDuration(&opts.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME", opts.Logger)
	overrideDuration(&opts.ConnMaxIdleTime, "DB_CONN_MAX_IDLE_TIME", opts.Logger)
	overrideDuration(&opts.PingTimeout, "DB_PING_TIMEOUT", opts.Logger)
	return opts
}

// Connect opens a Postgres pool through the pgx stdlib driver and pings it.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when DOCSTORE=postgres")
	}
	conn, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	applyPool(conn, opts)
	if err := ping(ctx, conn, opts.PingTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	stats := conn.Stats()
	opts.Logger.Info("db.connected", map[string]any{
		"driver":   "pgx",
		"maxOpen":  stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"idleTime": opts.ConnMaxIdleTime.String(),
	})
	return conn, nil
}

// OpenSQLite opens the local single-file document store. SQLite serializes
// writers, so the pool is pinned to one connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("SQLITE_PATH is required when DOCSTORE=sqlite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	conn, err := openDB("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := ping(ctx, conn, 0); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return conn, nil
}

// GetSingleton returns the pool shared by every invocation of a warm Lambda
// instance. A failed connect leaves nothing cached, so the next call retries.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedDB != nil {
		return sharedDB, nil
	}
	conn, err := Connect(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	sharedDB = conn
	opts.Logger.Info("db.singleton.init", nil)
	return sharedDB, nil
}

func applyPool(conn *sql.DB, opts Options) {
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		conn.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

func ping(ctx context.Context, conn *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.PingContext(pingCtx)
}

func overrideInt(dst *int, key string, logger *telemetry.Logger) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logger.Warn("db.env.invalid", map[string]any{"key": key, "value": raw})
		return
	}
	*dst = v
}

func overrideDuration(dst *time.Duration, key string, logger *telemetry.Logger) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		logger.Warn("db.env.invalid", map[string]any{"key": key, "value": raw})
		return
	}
	*dst = v
}
